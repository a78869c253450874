package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atinyakov/sandnotes/internal/service"
)

// VisitLimiter throttles requests per instance.
type VisitLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewVisitLimiter allows perMinute requests per instance with a burst of
// the same size.
func NewVisitLimiter(perMinute int) *VisitLimiter {
	return &VisitLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether instanceID may proceed now.
func (l *VisitLimiter) Allow(instanceID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[instanceID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[instanceID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Drop forgets the limiter of a reclaimed instance.
func (l *VisitLimiter) Drop(instanceID string) {
	l.mu.Lock()
	delete(l.limiters, instanceID)
	l.mu.Unlock()
}

// Handler rejects requests over the limit of the request's instance.
func (l *VisitLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := ScopeFromContext(r.Context())
		if sc != nil && !l.Allow(sc.InstanceID) {
			writeError(w, http.StatusTooManyRequests, service.ErrTooMany.Msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}
