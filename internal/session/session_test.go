package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m *Manager, st *State) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(rec, st))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestLoad_NoCookie(t *testing.T) {
	m := NewManager("secret")
	st := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, st.ID)
	assert.Empty(t, st.InstanceID)
	assert.False(t, st.Authenticated())
}

func TestSaveAndLoad(t *testing.T) {
	m := NewManager("secret")
	st := &State{ID: "sid-1", InstanceID: "inst", UserID: 4}
	c := roundTrip(t, m, st)

	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int(MaxAge.Seconds()), c.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	got := m.Load(req)
	assert.Equal(t, "sid-1", got.ID)
	assert.Equal(t, "inst", got.InstanceID)
	assert.Equal(t, int64(4), got.UserID)

	got.UserID = 0
	again := m.Load(req)
	assert.Equal(t, int64(4), again.UserID, "Load must return a copy")
}

func TestLoad_ForgedCookie(t *testing.T) {
	m := NewManager("secret")
	other := NewManager("other-secret")
	c := roundTrip(t, other, &State{ID: "sid-1", InstanceID: "inst", UserID: 4})
	require.NoError(t, m.Save(httptest.NewRecorder(), &State{ID: "sid-1", InstanceID: "inst", UserID: 4}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	got := m.Load(req)
	assert.NotEqual(t, "sid-1", got.ID)
	assert.False(t, got.Authenticated())
}

func TestLoad_GarbageCookie(t *testing.T) {
	m := NewManager("secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-token"})
	got := m.Load(req)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Authenticated())
}

func TestPruneAndDropInstance(t *testing.T) {
	m := NewManager("secret")
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	require.NoError(t, m.Save(httptest.NewRecorder(), &State{ID: "old", InstanceID: "a"}))

	now = now.Add(2 * time.Hour)
	require.NoError(t, m.Save(httptest.NewRecorder(), &State{ID: "new", InstanceID: "a"}))
	require.NoError(t, m.Save(httptest.NewRecorder(), &State{ID: "other", InstanceID: "b"}))

	assert.Equal(t, 1, m.Prune(time.Hour))
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 1, m.DropInstance("a"))
	assert.Equal(t, 1, m.Len())
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	return req
}

func TestSave_KeepsNewerUser(t *testing.T) {
	m := NewManager("secret")
	c := roundTrip(t, m, &State{ID: "sid-1", InstanceID: "inst", UserID: 4})

	// A request loads the logged-in state, then the user logs out elsewhere.
	stale := m.Load(requestWith(c))
	m.Logout(m.Load(requestWith(c)))

	require.NoError(t, m.Save(httptest.NewRecorder(), stale))
	assert.Equal(t, int64(0), stale.UserID, "Save must hand back the stored user")
	assert.False(t, m.Load(requestWith(c)).Authenticated())
}

func TestSave_RebindReplacesUser(t *testing.T) {
	m := NewManager("secret")
	c := roundTrip(t, m, &State{ID: "sid-1", InstanceID: "old", UserID: 4})

	st := m.Load(requestWith(c))
	st.InstanceID = "new"
	st.UserID = 0
	require.NoError(t, m.Save(httptest.NewRecorder(), st))

	got := m.Load(requestWith(c))
	assert.Equal(t, "new", got.InstanceID)
	assert.False(t, got.Authenticated())
}

func TestLogin_RotatesID(t *testing.T) {
	m := NewManager("secret")
	before := roundTrip(t, m, &State{ID: "sid-1", InstanceID: "inst"})

	st := m.Load(requestWith(before))
	st.UserID = 9

	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(rec, st))
	require.NoError(t, m.Login(rec, st))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1, "Login must replace the earlier session cookie")
	assert.NotEqual(t, "sid-1", st.ID)

	got := m.Load(requestWith(cookies[0]))
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, int64(9), got.UserID)

	old := m.Load(requestWith(before))
	assert.NotEqual(t, "sid-1", old.ID, "pre-login session id must be gone")
	assert.False(t, old.Authenticated())
	assert.Equal(t, 1, m.Len())
}

func TestLogout(t *testing.T) {
	m := NewManager("secret")
	c := roundTrip(t, m, &State{ID: "sid-1", InstanceID: "inst", UserID: 4})

	st := m.Load(requestWith(c))
	m.Logout(st)
	assert.False(t, st.Authenticated())
	assert.False(t, m.Load(requestWith(c)).Authenticated())
	assert.Equal(t, "inst", m.Load(requestWith(c)).InstanceID)
}
