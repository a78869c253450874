package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/service"
	"github.com/atinyakov/sandnotes/internal/session"
)

// AuthService defines the account operations required by the handlers.
type AuthService interface {
	Register(ctx context.Context, sc *service.Scope, username, password string) error
	Login(ctx context.Context, sc *service.Scope, username, password string) (*models.User, error)
	Logout(sc *service.Scope) error
}

// SessionStore persists login changes as soon as they happen.
type SessionStore interface {
	Login(w http.ResponseWriter, st *session.State) error
	Logout(st *session.State)
}

// AuthHandler handles registration, login, logout and status requests.
type AuthHandler struct {
	AuthService AuthService
	Sessions    SessionStore
	Log         *zap.Logger
}

// Credentials is the JSON payload of register and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StatusResponse describes the caller's instance and login state.
type StatusResponse struct {
	Success  bool   `json:"success"`
	LoggedIn bool   `json:"loggedIn"`
	Instance string `json:"instance"`
	Username string `json:"username,omitempty"`
}

// Register creates a user in the caller's instance.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.AuthService.Register(r.Context(), scope(r), req.Username, req.Password); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, "Registration successful")
}

// Login authenticates against the caller's instance.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	sc := scope(r)
	if _, err := h.AuthService.Login(r.Context(), sc, req.Username, req.Password); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Sessions.Login(w, sc.Session); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, "Login successful")
}

// Logout ends the login of the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc := scope(r)
	if err := h.AuthService.Logout(sc); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Sessions.Logout(sc.Session)
	writeOK(w, "Logout successful")
}

// Status reports the instance and the logged-in user, if any.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	sc := scope(r)
	resp := StatusResponse{Success: true, Instance: sc.InstanceID}
	if sc.Authenticated() {
		resp.LoggedIn = true
		resp.Username = sc.User.Username
	}
	writeJSON(w, http.StatusOK, resp)
}
