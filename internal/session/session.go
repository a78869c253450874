// Package session keeps server-side session state. The client only holds a
// signed session id in the "session" cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// CookieName is the cookie carrying the signed session id.
	CookieName = "session"
	// MaxAge is the lifetime of the session cookie.
	MaxAge = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned for session cookies that fail verification.
var ErrInvalidToken = errors.New("invalid session token")

// State is the per-client server-side session. UserID is zero for anonymous
// sessions.
type State struct {
	ID         string
	InstanceID string
	UserID     int64
	LastSeen   time.Time
}

// Authenticated reports whether a user is attached to the session.
func (s *State) Authenticated() bool { return s.UserID != 0 }

// Manager signs session ids and stores session state in memory.
type Manager struct {
	secret []byte
	now    func() time.Time

	mu     sync.Mutex
	states map[string]State
}

// NewManager creates a Manager that signs cookies with secret.
func NewManager(secret string) *Manager {
	return &Manager{
		secret: []byte(secret),
		now:    time.Now,
		states: make(map[string]State),
	}
}

// Load returns a copy of the session referenced by the request cookie. A
// missing, forged or unknown cookie yields a fresh anonymous session.
func (m *Manager) Load(r *http.Request) *State {
	if c, err := r.Cookie(CookieName); err == nil {
		if sid, err := m.parse(c.Value); err == nil {
			m.mu.Lock()
			st, ok := m.states[sid]
			m.mu.Unlock()
			if ok {
				return &st
			}
		}
	}
	return &State{ID: uuid.NewString()}
}

// Save stores st and writes the session cookie. The user of an existing
// session is owned by Login and Logout: while the instance binding is
// unchanged the stored user is kept and copied into st, so a request that
// loaded an older state cannot undo a login or logout made in between. A
// changed binding replaces the stored user with st's.
func (m *Manager) Save(w http.ResponseWriter, st *State) error {
	now := m.now()

	m.mu.Lock()
	if cur, ok := m.states[st.ID]; ok && cur.InstanceID == st.InstanceID {
		st.UserID = cur.UserID
	}
	st.LastSeen = now
	m.states[st.ID] = *st
	m.mu.Unlock()

	return m.writeCookie(w, st.ID, now)
}

// Login stores st, with its user, under a new session id and replaces the
// session cookie of the response. The old id is forgotten.
func (m *Manager) Login(w http.ResponseWriter, st *State) error {
	now := m.now()

	m.mu.Lock()
	delete(m.states, st.ID)
	st.ID = uuid.NewString()
	st.LastSeen = now
	m.states[st.ID] = *st
	m.mu.Unlock()

	return m.writeCookie(w, st.ID, now)
}

// Logout detaches the user from the stored session and from st.
func (m *Manager) Logout(st *State) {
	m.mu.Lock()
	if cur, ok := m.states[st.ID]; ok {
		cur.UserID = 0
		m.states[st.ID] = cur
	}
	m.mu.Unlock()
	st.UserID = 0
}

// writeCookie sets the session cookie, dropping one set earlier in the same
// response.
func (m *Manager) writeCookie(w http.ResponseWriter, sid string, now time.Time) error {
	token, err := m.sign(sid, now)
	if err != nil {
		return err
	}

	h := w.Header()
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, CookieName+"=") {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(MaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Prune drops sessions not seen for longer than maxIdle and returns how many
// were removed.
func (m *Manager) Prune(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.states {
		if st.LastSeen.Before(cutoff) {
			delete(m.states, id)
			n++
		}
	}
	return n
}

// DropInstance removes every session bound to instanceID.
func (m *Manager) DropInstance(instanceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.states {
		if st.InstanceID == instanceID {
			delete(m.states, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *Manager) sign(sid string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(MaxAge)),
	})
	s, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return s, nil
}

func (m *Manager) parse(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
