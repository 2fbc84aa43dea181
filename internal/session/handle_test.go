package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcabinet.org/internal/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeAPI keeps users and sessions in memory and mimics server rejections.
type fakeAPI struct {
	mu         sync.Mutex
	users      map[string]auth.UserSummary
	pins       map[string]string
	sessions   map[string]string
	needsSetup bool
	down       bool
	logoutErr  error
	logouts    []string
	seq        int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users:    map[string]auth.UserSummary{},
		pins:     map[string]string{},
		sessions: map[string]string{},
	}
}

func (f *fakeAPI) addUser(id string, role auth.Role, pin string) {
	f.users[id] = auth.UserSummary{ID: id, Nom: "Nom-" + id, Prenom: "Prenom-" + id, Role: role}
	f.pins[id] = pin
}

func (f *fakeAPI) Login(_ context.Context, userID, pin string) (auth.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return auth.LoginResult{}, fmt.Errorf("%w: dial tcp: refused", ErrConnection)
	}
	u, ok := f.users[userID]
	if !ok {
		return auth.LoginResult{}, &APIError{Status: http.StatusNotFound, Message: "Utilisateur non trouvé"}
	}
	if f.pins[userID] != pin {
		return auth.LoginResult{}, &APIError{Status: http.StatusUnauthorized, Message: "PIN incorrect. 2 tentative(s) restante(s)"}
	}
	f.seq++
	token := fmt.Sprintf("token-%d", f.seq)
	f.sessions[token] = userID
	return auth.LoginResult{Token: token, User: u}, nil
}

func (f *fakeAPI) Verify(_ context.Context, token string) (auth.UserSummary, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return auth.UserSummary{}, false, fmt.Errorf("%w: dial tcp: refused", ErrConnection)
	}
	id, ok := f.sessions[token]
	if !ok {
		return auth.UserSummary{}, false, nil
	}
	return f.users[id], true, nil
}

func (f *fakeAPI) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	delete(f.sessions, token)
	return f.logoutErr
}

func (f *fakeAPI) NeedsSetup(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, fmt.Errorf("%w: dial tcp: refused", ErrConnection)
	}
	return f.needsSetup, nil
}

type fixture struct {
	api    *fakeAPI
	tokens *MemoryTokenStore
	clock  *fakeClock
	h      *Handle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:    newFakeAPI(),
		tokens: &MemoryTokenStore{},
		clock:  &fakeClock{t: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)},
	}
	f.api.addUser("doc", auth.RoleMedecin, "1234")
	f.api.addUser("sec", auth.RoleSecretaire, "5678")
	f.h = New(f.api, f.tokens, WithClock(f.clock.now))
	return f
}

func TestGateBeforeStartIsLoading(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, AccessLoading, f.h.Gate())
	assert.True(t, f.h.State().Loading)
}

func TestStartWithoutTokenProbesSetup(t *testing.T) {
	f := newFixture(t)
	f.api.needsSetup = true

	require.NoError(t, f.h.Start(context.Background()))
	st := f.h.State()
	assert.False(t, st.Loading)
	assert.True(t, st.NeedsSetup)
	assert.False(t, st.Authenticated())
	assert.Equal(t, AccessLoginRequired, f.h.Gate())
}

func TestStartRestoresValidSession(t *testing.T) {
	f := newFixture(t)
	res, err := f.api.Login(context.Background(), "sec", "5678")
	require.NoError(t, err)
	require.NoError(t, f.tokens.Save(res.Token))

	require.NoError(t, f.h.Start(context.Background()))
	st := f.h.State()
	require.NotNil(t, st.User)
	assert.Equal(t, "sec", st.User.ID)
	assert.False(t, st.Locked)
	assert.Equal(t, res.Token, f.h.Token())
	assert.Equal(t, AccessGranted, f.h.Gate())
}

func TestStartDiscardsRejectedToken(t *testing.T) {
	f := newFixture(t)
	f.api.needsSetup = true
	require.NoError(t, f.tokens.Save("stale"))

	require.NoError(t, f.h.Start(context.Background()))
	stored, _ := f.tokens.Load()
	assert.Empty(t, stored)
	assert.True(t, f.h.State().NeedsSetup)
	assert.Equal(t, AccessLoginRequired, f.h.Gate())
}

func TestStartKeepsTokenWhenServerUnreachable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save("token-9"))
	f.api.down = true

	err := f.h.Start(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	stored, _ := f.tokens.Load()
	assert.Equal(t, "token-9", stored)
	assert.False(t, f.h.State().Loading)
	assert.Equal(t, "Erreur de connexion", Message(err))
}

func TestLoginPersistsToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.h.Start(context.Background()))

	user, err := f.h.Login(context.Background(), "doc", "1234")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleMedecin, user.Role)
	stored, _ := f.tokens.Load()
	assert.Equal(t, f.h.Token(), stored)

	_, err = f.h.Login(context.Background(), "doc", "0000")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Equal(t, "PIN incorrect. 2 tentative(s) restante(s)", Message(err))
	assert.Equal(t, "doc", f.h.State().User.ID)
}

func TestIdleLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.h.Start(context.Background()))
	assert.False(t, f.h.CheckIdle(), "no user, nothing to lock")

	_, err := f.h.Login(context.Background(), "sec", "5678")
	require.NoError(t, err)

	f.clock.advance(14 * time.Minute)
	assert.False(t, f.h.CheckIdle())
	f.h.Touch(KeyDown)

	f.clock.advance(15 * time.Minute)
	assert.False(t, f.h.CheckIdle(), "exactly the threshold does not lock")
	f.clock.advance(time.Second)
	assert.True(t, f.h.CheckIdle())
	assert.False(t, f.h.CheckIdle(), "already locked")
	assert.Equal(t, AccessLocked, f.h.Gate())

	// Activity while locked is ignored.
	before := f.h.State().LastActivity
	f.clock.advance(time.Minute)
	f.h.Touch(PointerMove)
	assert.Equal(t, before, f.h.State().LastActivity)

	// The server session is untouched by the local lock.
	assert.Empty(t, f.api.logouts)
}

func TestTouchIgnoresUnknownEvents(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.Login(context.Background(), "sec", "5678")
	require.NoError(t, err)
	before := f.h.State().LastActivity
	f.clock.advance(time.Minute)
	f.h.Touch(ActivityEvent(99))
	assert.Equal(t, before, f.h.State().LastActivity)
	f.h.Touch(Scroll)
	assert.Equal(t, f.clock.now(), f.h.State().LastActivity)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	err := f.h.Unlock(context.Background(), "1234")
	require.ErrorIs(t, err, ErrNoUser)
	assert.Equal(t, "Aucun utilisateur connecté", Message(err))

	_, err = f.h.Login(context.Background(), "doc", "1234")
	require.NoError(t, err)
	f.h.Lock()
	assert.True(t, f.h.State().Locked)

	err = f.h.Unlock(context.Background(), "9999")
	require.Error(t, err)
	assert.True(t, f.h.State().Locked)

	require.NoError(t, f.h.Unlock(context.Background(), "1234"))
	assert.False(t, f.h.State().Locked)
	assert.Equal(t, AccessGranted, f.h.Gate())
}

func TestLockWithoutUserIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.h.Start(context.Background()))
	f.h.Lock()
	assert.False(t, f.h.State().Locked)
}

func TestLogoutIsBestEffort(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.Login(context.Background(), "doc", "1234")
	require.NoError(t, err)
	token := f.h.Token()
	f.h.Lock()
	f.api.logoutErr = errors.New("network down")

	f.h.Logout(context.Background())
	st := f.h.State()
	assert.Nil(t, st.User)
	assert.False(t, st.Locked, "signed out is not locked")
	assert.Empty(t, f.h.Token())
	stored, _ := f.tokens.Load()
	assert.Empty(t, stored)
	assert.Equal(t, []string{token}, f.api.logouts)
	assert.Equal(t, AccessLoginRequired, f.h.Gate())
}

func TestRoles(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.h.HasRole(auth.RoleMedecin))
	assert.False(t, f.h.CanAccess(auth.RoleMedecin, auth.RoleSecretaire))

	_, err := f.h.Login(context.Background(), "sec", "5678")
	require.NoError(t, err)
	assert.True(t, f.h.HasRole(auth.RoleSecretaire))
	assert.False(t, f.h.HasRole(auth.RoleMedecin))
	assert.True(t, f.h.CanAccess(auth.RoleMedecin, auth.RoleSecretaire))
	assert.False(t, f.h.CanAccess(auth.RoleMedecin))
	assert.False(t, f.h.CanAccess())

	assert.Equal(t, AccessForbidden, f.h.Gate(auth.RoleMedecin))
	assert.Equal(t, AccessGranted, f.h.Gate(auth.RoleMedecin, auth.RoleSecretaire))
	assert.Equal(t, AccessGranted, f.h.Gate())
}

func TestRunLocksAfterInactivity(t *testing.T) {
	f := newFixture(t)
	h := New(f.api, f.tokens, WithClock(f.clock.now), WithTickInterval(5*time.Millisecond), WithIdleTimeout(time.Minute))
	_, err := h.Login(context.Background(), "doc", "1234")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	f.clock.advance(2 * time.Minute)
	require.Eventually(t, func() bool { return h.State().Locked }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session")
	s := NewFileTokenStore(path)

	token, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.Save("abc"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	token, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, s.Save("def"))
	token, _ = s.Load()
	assert.Equal(t, "def", token)

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	token, _ = s.Load()
	assert.Empty(t, token)
}

func TestActivityEventNames(t *testing.T) {
	assert.Equal(t, "pointer-down", PointerDown.String())
	assert.Equal(t, "touch-start", TouchStart.String())
	assert.Equal(t, "granted", AccessGranted.String())
	assert.Equal(t, "login-required", AccessLoginRequired.String())
}

func TestLoginWithoutStartSettlesLoading(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.h.State().Loading)
	assert.Equal(t, AccessLoading, f.h.Gate())

	_, err := f.h.Login(context.Background(), "doc", "1234")
	require.NoError(t, err)
	assert.False(t, f.h.State().Loading)
	assert.Equal(t, AccessGranted, f.h.Gate(auth.RoleMedecin))

	fresh := New(f.api, &MemoryTokenStore{})
	fresh.Logout(context.Background())
	assert.False(t, fresh.State().Loading)
	assert.Equal(t, AccessLoginRequired, fresh.Gate())
}
