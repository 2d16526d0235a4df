package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-course-storefront/gateway"
	"github.com/jrsteele09/go-course-storefront/internal/config"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/jrsteele09/go-course-storefront/transport"
	"github.com/jrsteele09/go-course-storefront/users"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const statusProbeKey = "status"

// Session is a read-only view of the current login state.
// LoggedIn implies Identity is set.
type Session struct {
	LoggedIn     bool
	Identity     users.Identity
	Loaded       bool // an initial status check has completed
	PendingCheck bool // a status probe is in flight
}

// State holds the current member identity. It is written only by the
// gateway's refresh outcome and by explicit login/logout.
type State struct {
	client transport.Doer
	config config.GatewayConfig
	log    zerolog.Logger

	mu       sync.RWMutex
	loggedIn bool
	identity users.Identity
	loaded   bool
	checking bool

	probe singleflight.Group
}

// New creates an empty State. client is used for login, logout and status
// probes and is normally the gateway.
func New(client transport.Doer, cfg config.GatewayConfig, logger zerolog.Logger) *State {
	return &State{
		client: client,
		config: cfg,
		log:    logger.With().Str("component", "session").Logger(),
	}
}

// Callbacks returns the refresh outcome hooks to register with the gateway
func (s *State) Callbacks() gateway.Callbacks {
	return gateway.Callbacks{
		OnRefreshSuccess: s.OnRefreshSuccess,
		OnRefreshFailure: s.OnRefreshFailure,
	}
}

func (s *State) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{
		LoggedIn:     s.loggedIn,
		Identity:     s.identity,
		Loaded:       s.loaded,
		PendingCheck: s.checking,
	}
}

// CurrentIdentity returns the signed-in member, if any
func (s *State) CurrentIdentity() (users.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.loggedIn
}

// IsAdmin reports whether the loaded member is the administrator account
func (s *State) IsAdmin(adminID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded && s.loggedIn && s.identity.ID == adminID
}

// LoginSuccess marks the member as signed in
func (s *State) LoginSuccess(identity users.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.identity = identity
	s.loaded = true
}

// Logout resets the state to a signed-out guest
func (s *State) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	s.identity = users.Identity{}
	s.loaded = false
}

func (s *State) OnRefreshSuccess(identity users.Identity) {
	s.LoginSuccess(identity)
}

func (s *State) OnRefreshFailure() {
	s.log.Info().Msg("session expired, signing out")
	s.Logout()
}

// CheckStatus loads the login status once. Concurrent callers share the same
// probe; once loaded it returns immediately. Any failure leaves the member
// signed out and is returned.
func (s *State) CheckStatus(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	// the shared probe outlives any single caller's cancellation
	probeCtx := context.WithoutCancel(ctx)
	ch := s.probe.DoChan(statusProbeKey, func() (any, error) {
		s.setChecking(true)
		defer s.setChecking(false)
		return nil, s.checkStatus(probeCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *State) checkStatus(ctx context.Context) error {
	resp, err := s.client.Do(ctx, transport.NewRequest(http.MethodGet, s.config.GetStatusPath(), nil))
	if err != nil {
		if transport.StatusCode(err) == http.StatusUnauthorized {
			s.log.Debug().Msg("not signed in")
		} else {
			s.log.Warn().Err(err).Msg("login status check failed")
		}
		s.Logout()
		return err
	}

	var identity users.Identity
	ok, err := resp.DecodeData(&identity)
	if err != nil || !ok || identity.IsZero() {
		s.Logout()
		return apperrors.ErrMalformedStatus
	}

	s.LoginSuccess(identity)
	return nil
}

func (s *State) setChecking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checking = v
}

// Credentials are sent to the login endpoint
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login signs the member in. The backend sets session cookies on success.
func (s *State) Login(ctx context.Context, creds Credentials) (users.Identity, error) {
	if creds.Email == "" || creds.Password == "" {
		return users.Identity{}, apperrors.Wrapf(apperrors.ErrValidation, "email and password are required")
	}

	resp, err := s.client.Do(ctx, transport.NewRequest(http.MethodPost, s.config.GetLoginPath(), creds))
	if err != nil {
		return users.Identity{}, err
	}

	var identity users.Identity
	ok, err := resp.DecodeData(&identity)
	if err != nil || !ok || identity.IsZero() {
		return users.Identity{}, apperrors.ErrMalformedStatus
	}

	s.LoginSuccess(identity)
	s.log.Info().Int64("member_id", identity.ID).Msg("signed in")
	return identity, nil
}

// SignOut tells the backend to end the session and clears local state
// whatever the backend answers.
func (s *State) SignOut(ctx context.Context) error {
	_, err := s.client.Do(ctx, transport.NewRequest(http.MethodPost, s.config.GetLogoutPath(), nil))
	s.Logout()
	if err != nil {
		return apperrors.Wrapf(err, "logout")
	}
	return nil
}
