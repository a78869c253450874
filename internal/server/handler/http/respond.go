package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/middleware"
	"github.com/atinyakov/sandnotes/internal/service"
)

// response is the envelope of every JSON reply.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, response{Success: true, Message: msg})
}

// writeError converts a service error into a status code and a message that
// is safe to show. Unknown errors become a generic 500 and are logged.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal error"

	var se *service.Error
	if errors.As(err, &se) {
		msg = se.Msg
		switch {
		case errors.Is(err, service.ErrInvalid):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrUnauthenticated):
			status = http.StatusUnauthorized
		case errors.Is(err, service.ErrForbidden):
			status = http.StatusForbidden
		case errors.Is(err, service.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrRateLimited):
			status = http.StatusTooManyRequests
		}
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, response{Success: false, Message: msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

var errInvalidBody = &service.Error{Kind: service.ErrInvalid, Msg: "Invalid request"}

func scope(r *http.Request) *service.Scope {
	return middleware.ScopeFromContext(r.Context())
}
