package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/instance"
	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
	"github.com/atinyakov/sandnotes/internal/service"
	"github.com/atinyakov/sandnotes/internal/session"
)

// InstanceCookie is the cookie carrying the instance id.
const InstanceCookie = "INSTANCE"

// Resolver binds a request to an instance and loads its user.
type Resolver interface {
	Resolve(ctx context.Context, token string, st *session.State) (string, func(), error)
	LoadIdentity(ctx context.Context, st *session.State, token string, data service.PartitionStore) (*models.User, error)
}

// Sessions loads and persists session state.
type Sessions interface {
	Load(r *http.Request) *session.State
	Save(w http.ResponseWriter, st *session.State) error
}

// Partitions hands out per-request partition handles.
type Partitions interface {
	Partition(id string) *instance.Partition
}

// BindInstance resolves the request's instance, opens its partition lazily,
// loads the authenticated user and stores the resulting service.Scope in
// the request context. The INSTANCE and session cookies are set before the
// handler runs. Nothing is written back afterwards: handlers that change
// the login go through the session manager themselves.
func BindInstance(resolver Resolver, sessions Sessions, partitions Partitions, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var token string
			if c, err := r.Cookie(InstanceCookie); err == nil {
				token = c.Value
			}
			st := sessions.Load(r)

			id, release, err := resolver.Resolve(ctx, token, st)
			if err != nil {
				log.Error("resolve instance", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			defer release()

			partition := partitions.Partition(id)
			defer func() {
				if err := partition.Close(); err != nil {
					log.Warn("close partition", zap.String("instance_id", id), zap.Error(err))
				}
			}()
			data := repository.NewPartitionRepository(partition.DB)

			http.SetCookie(w, &http.Cookie{
				Name:   InstanceCookie,
				Value:  id,
				Path:   "/",
				MaxAge: int(session.MaxAge.Seconds()),
			})
			if err := sessions.Save(w, st); err != nil {
				log.Error("save session", zap.String("instance_id", id), zap.Error(err))
			}

			user, err := resolver.LoadIdentity(ctx, st, token, data)
			if err != nil {
				log.Error("load identity", zap.String("instance_id", id), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Internal error")
				return
			}

			sc := &service.Scope{
				InstanceID: id,
				Token:      token,
				Session:    st,
				User:       user,
				Data:       data,
			}

			next.ServeHTTP(w, r.WithContext(WithScope(ctx, sc)))
		})
	}
}

// RequireUser rejects requests without an authenticated user.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := ScopeFromContext(r.Context())
		if sc == nil || !sc.Authenticated() {
			writeError(w, http.StatusUnauthorized, service.ErrLoginRequired.Msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}
