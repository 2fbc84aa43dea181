package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/obs"
)

const (
	DefaultIdleTimeout  = 15 * time.Minute
	DefaultTickInterval = time.Second
)

// ErrNoUser is returned by Unlock when nobody is signed in.
var ErrNoUser = errors.New("session: no user signed in")

// Message returns the text shown to the user for err.
func Message(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, ErrNoUser):
		return "Aucun utilisateur connecté"
	case errors.Is(err, ErrConnection):
		return "Erreur de connexion"
	}
	return "Erreur inconnue"
}

// ActivityEvent is a user interaction that resets the inactivity timer.
type ActivityEvent int

const (
	PointerDown ActivityEvent = iota + 1
	PointerMove
	KeyDown
	Scroll
	TouchStart
)

func (e ActivityEvent) String() string {
	switch e {
	case PointerDown:
		return "pointer-down"
	case PointerMove:
		return "pointer-move"
	case KeyDown:
		return "key-down"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touch-start"
	}
	return "unknown"
}

// Access is the outcome of gating a protected view.
type Access int

const (
	AccessLoading Access = iota
	AccessLoginRequired
	AccessLocked
	AccessForbidden
	AccessGranted
)

func (a Access) String() string {
	switch a {
	case AccessLoading:
		return "loading"
	case AccessLoginRequired:
		return "login-required"
	case AccessLocked:
		return "locked"
	case AccessForbidden:
		return "forbidden"
	case AccessGranted:
		return "granted"
	}
	return "unknown"
}

// State is a snapshot of the handle.
type State struct {
	Loading      bool
	NeedsSetup   bool
	User         *auth.UserSummary
	Locked       bool
	LastActivity time.Time
}

func (s State) Authenticated() bool { return s.User != nil }

// Handle owns the local session: cached token and user, the lock flag and
// the inactivity timer. Locking is local and never revokes the server session.
type Handle struct {
	api    API
	tokens TokenStore
	now    func() time.Time
	idle   time.Duration
	tick   time.Duration

	mu           sync.Mutex
	loading      bool
	needsSetup   bool
	token        string
	user         *auth.UserSummary
	locked       bool
	lastActivity time.Time
}

// Option configures Handle.
type Option func(*Handle)

func WithClock(fn func() time.Time) Option {
	return func(h *Handle) { h.now = fn }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.idle = d
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.tick = d
		}
	}
}

func New(api API, tokens TokenStore, opts ...Option) *Handle {
	h := &Handle{
		api:     api,
		tokens:  tokens,
		now:     time.Now,
		idle:    DefaultIdleTimeout,
		tick:    DefaultTickInterval,
		loading: true,
	}
	if h.tokens == nil {
		h.tokens = &MemoryTokenStore{}
	}
	for _, opt := range opts {
		opt(h)
	}
	h.lastActivity = h.now()
	return h
}

// Start restores the persisted session, or probes whether setup is needed.
// A rejected token is discarded; a token that could not be checked because
// the server was unreachable is kept for the next start.
func (h *Handle) Start(ctx context.Context) error {
	defer func() {
		h.mu.Lock()
		h.loading = false
		h.mu.Unlock()
	}()

	token, err := h.tokens.Load()
	if err != nil {
		obs.Logger().Warn().Err(err).Msg("session: load token")
		token = ""
	}
	if token == "" {
		return h.probeSetup(ctx)
	}

	user, ok, err := h.api.Verify(ctx, token)
	if err != nil && errors.Is(err, ErrConnection) {
		return err
	}
	if err != nil || !ok {
		if err != nil {
			obs.Logger().Warn().Err(err).Msg("session: verify stored token")
		}
		if cerr := h.tokens.Clear(); cerr != nil {
			obs.Logger().Warn().Err(cerr).Msg("session: clear token")
		}
		return h.probeSetup(ctx)
	}

	h.mu.Lock()
	h.token = token
	h.user = &user
	h.locked = false
	h.needsSetup = false
	h.lastActivity = h.now()
	h.mu.Unlock()
	return nil
}

func (h *Handle) probeSetup(ctx context.Context) error {
	needed, err := h.api.NeedsSetup(ctx)
	h.mu.Lock()
	h.needsSetup = err == nil && needed
	h.mu.Unlock()
	return err
}

// Login authenticates, persists the new token and unlocks.
func (h *Handle) Login(ctx context.Context, userID, pin string) (auth.UserSummary, error) {
	res, err := h.api.Login(ctx, userID, pin)
	if err != nil {
		return auth.UserSummary{}, err
	}
	if err := h.tokens.Save(res.Token); err != nil {
		obs.Logger().Warn().Err(err).Msg("session: save token")
	}
	user := res.User
	h.mu.Lock()
	h.token = res.Token
	h.user = &user
	h.locked = false
	h.needsSetup = false
	h.loading = false
	h.lastActivity = h.now()
	h.mu.Unlock()
	return user, nil
}

// Logout revokes the server session on a best-effort basis and clears local state.
func (h *Handle) Logout(ctx context.Context) {
	h.mu.Lock()
	token := h.token
	h.mu.Unlock()
	if token == "" {
		token, _ = h.tokens.Load()
	}
	if token != "" {
		if err := h.api.Logout(ctx, token); err != nil {
			obs.Logger().Warn().Err(err).Msg("session: logout")
		}
	}
	if err := h.tokens.Clear(); err != nil {
		obs.Logger().Warn().Err(err).Msg("session: clear token")
	}
	h.mu.Lock()
	h.token = ""
	h.user = nil
	h.locked = false
	h.loading = false
	h.mu.Unlock()
}

// Lock hides protected content until Unlock. No-op without a user.
func (h *Handle) Lock() {
	h.mu.Lock()
	if h.user != nil {
		h.locked = true
	}
	h.mu.Unlock()
}

// Unlock re-checks pin for the current user. On failure the handle stays locked.
func (h *Handle) Unlock(ctx context.Context, pin string) error {
	h.mu.Lock()
	user := h.user
	h.mu.Unlock()
	if user == nil {
		return ErrNoUser
	}
	_, err := h.Login(ctx, user.ID, pin)
	return err
}

// Touch records user activity. Ignored while signed out or locked.
func (h *Handle) Touch(ev ActivityEvent) {
	if ev < PointerDown || ev > TouchStart {
		return
	}
	h.mu.Lock()
	if h.user != nil && !h.locked {
		h.lastActivity = h.now()
	}
	h.mu.Unlock()
}

// CheckIdle locks the handle once the idle timeout has passed. It reports
// whether this call locked it.
func (h *Handle) CheckIdle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.user == nil || h.locked {
		return false
	}
	if h.now().Sub(h.lastActivity) > h.idle {
		h.locked = true
		return true
	}
	return false
}

// Run calls CheckIdle on every tick until ctx is done.
func (h *Handle) Run(ctx context.Context) {
	t := time.NewTicker(h.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if h.CheckIdle() {
				obs.Logger().Info().Msg("session locked after inactivity")
			}
		}
	}
}

// Token is the current session token, "" when signed out.
func (h *Handle) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := State{
		Loading:      h.loading,
		NeedsSetup:   h.needsSetup,
		Locked:       h.locked,
		LastActivity: h.lastActivity,
	}
	if h.user != nil {
		u := *h.user
		st.User = &u
	}
	return st
}

// HasRole reports an exact role match for the current user.
func (h *Handle) HasRole(role auth.Role) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.user != nil && h.user.Role == role
}

// CanAccess reports whether the current user holds one of roles.
func (h *Handle) CanAccess(roles ...auth.Role) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.user != nil && slices.Contains(roles, h.user.Role)
}

// Gate decides what a protected view shows. An empty roles list admits any
// signed-in, unlocked user.
func (h *Handle) Gate(roles ...auth.Role) Access {
	st := h.State()
	switch {
	case st.Loading:
		return AccessLoading
	case st.User == nil:
		return AccessLoginRequired
	case st.Locked:
		return AccessLocked
	case len(roles) > 0 && !slices.Contains(roles, st.User.Role):
		return AccessForbidden
	}
	return AccessGranted
}
