// Package middleware provides HTTP middlewares for request logging, metrics,
// instance binding, authentication and rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/atinyakov/sandnotes/internal/service"
)

type ctxKey string

const scopeKey ctxKey = "scope"

// WithScope returns a copy of ctx carrying sc.
func WithScope(ctx context.Context, sc *service.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, sc)
}

// ScopeFromContext extracts the request scope stored by BindInstance.
// Returns nil if the request was not bound to an instance.
func ScopeFromContext(ctx context.Context) *service.Scope {
	if sc, ok := ctx.Value(scopeKey).(*service.Scope); ok {
		return sc
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
