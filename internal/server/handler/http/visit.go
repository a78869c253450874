package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/metrics"
	"github.com/atinyakov/sandnotes/internal/service"
)

// VisitService defines the browser visit operation.
type VisitService interface {
	Visit(ctx context.Context, sc *service.Scope, url string) error
}

// VisitHandler triggers headless browser visits.
type VisitHandler struct {
	VisitService VisitService
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// VisitRequest is the payload of POST /api/visit.
type VisitRequest struct {
	URL string `json:"url"`
}

// VisitResponse is returned after a completed visit.
type VisitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Visit blocks until the browser has spent its wait on the page.
func (h *VisitHandler) Visit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	err := h.VisitService.Visit(r.Context(), scope(r), req.URL)
	h.observe(err)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, VisitResponse{
		Success: true,
		Message: "Page visited successfully!",
		Status:  "visit_complete",
	})
}

func (h *VisitHandler) observe(err error) {
	if h.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidURL), errors.Is(err, service.ErrLoginRequired):
		outcome = "rejected"
	default:
		outcome = "crash"
	}
	h.Metrics.Visits.WithLabelValues(outcome).Inc()
}
