// Package http provides HTTP routing and middleware configuration
// for the notes application.
package http

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/atinyakov/sandnotes/internal/metrics"
	"github.com/atinyakov/sandnotes/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Auth  *AuthHandler
	Notes *NotesHandler
	Visit *VisitHandler
	Pages *PageHandler
}

// NewRouter constructs the HTTP handler of the application.
//
// Routes:
//
//	GET    /healthz, /metrics           → outside instance binding
//	GET    /, /notes                    → pages
//	GET    /api/status                  → h.Auth.Status
//	POST   /api/register, /api/login    → h.Auth
//	POST   /api/logout                  → h.Auth.Logout (login required)
//	GET    /api/notes                   → h.Notes.List (login required)
//	POST   /api/notes                   → h.Notes.Add (login required)
//	DELETE /api/notes/{id}              → h.Notes.Delete (login required)
//	POST   /api/notes/upload            → h.Notes.Upload (login required)
//	POST   /api/visit                   → h.Visit.Visit (login required, rate limited)
//	GET    /download/{username}/*       → h.Notes.Download (login required)
//
// Every route except /healthz and /metrics runs behind bind, which resolves
// the instance and sets the INSTANCE and session cookies.
func NewRouter(
	h Handlers,
	bind func(http.Handler) http.Handler,
	limiter *middleware.VisitLimiter,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.WithMetrics(m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, "")
	})
	r.Handle("/metrics", m.Handler())
	r.NotFound(h.Pages.NotFound)

	jsonOnly := chiMiddleware.AllowContentType("application/json")

	r.Group(func(r chi.Router) {
		r.Use(bind)

		r.Get("/", h.Pages.Index)
		r.Get("/notes", h.Pages.Notes)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.Auth.Status)
			r.With(jsonOnly).Post("/register", h.Auth.Register)
			r.With(jsonOnly).Post("/login", h.Auth.Login)

			// Protected group: requires a logged-in user of this instance
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Post("/logout", h.Auth.Logout)
				r.Get("/notes", h.Notes.List)
				r.With(jsonOnly).Post("/notes", h.Notes.Add)
				r.Delete("/notes/{id}", h.Notes.Delete)
				r.With(chiMiddleware.AllowContentType("multipart/form-data")).Post("/notes/upload", h.Notes.Upload)
				r.With(jsonOnly, limiter.Handler).Post("/visit", h.Visit.Visit)
			})
		})

		r.With(middleware.RequireUser).Get("/download/{username}/*", h.Notes.Download)
	})

	return r
}
