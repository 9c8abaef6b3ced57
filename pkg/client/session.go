package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// =============================================================================
// State
// =============================================================================

// State is the session lifecycle position.
type State string

const (
	// StateNoSession means no token is held.
	StateNoSession State = "no_session"
	// StateLoggingIn means a login call is in flight.
	StateLoggingIn State = "logging_in"
	// StateActive means a token is held and believed valid.
	StateActive State = "active"
	// StateInvalidated means the server reported the held token expired.
	StateInvalidated State = "invalidated"
)

// =============================================================================
// Session
// =============================================================================

// LoginFunc performs the network login and returns a bearer token.
type LoginFunc func(ctx context.Context) (string, error)

// LogoutFunc releases the token on the server.
type LogoutFunc func(ctx context.Context, token string) error

const defaultCooldown = time.Second

// Session owns the Data API token lifecycle. Concurrent callers that need a
// login share a single network call; everyone else reads the token under a
// read lock. A cool-down guard rejects bare login retries that arrive too
// soon after the previous attempt, as a brake on login storms from a
// misbehaving credential source.
type Session struct {
	login    LoginFunc
	logout   LogoutFunc
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	token       string
	state       State
	lastAttempt time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCooldown sets the minimum gap between login attempts enforced by
// EnsureLoggedIn. Zero disables the guard.
func WithCooldown(d time.Duration) SessionOption {
	return func(s *Session) { s.cooldown = d }
}

// WithSessionLogger attaches a logger for lifecycle debug output.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession builds a controller around the given login and logout calls.
func NewSession(login LoginFunc, logout LogoutFunc, opts ...SessionOption) *Session {
	s := &Session{
		login:    login,
		logout:   logout,
		cooldown: defaultCooldown,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		state:    StateNoSession,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the held bearer token, or "" when no session is active.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// EnsureLoggedIn logs in unless a session is already active. Concurrent
// callers share one login call. When the previous attempt is within the
// cool-down window the call fails with ErrTooFastRetry instead of touching
// the network.
func (s *Session) EnsureLoggedIn(ctx context.Context) error {
	return s.ensure(ctx, true)
}

func (s *Session) ensure(ctx context.Context, guarded bool) error {
	s.mu.RLock()
	active := s.state == StateActive
	s.mu.RUnlock()
	if active {
		return nil
	}

	_, err, _ := s.group.Do("login", func() (any, error) {
		s.mu.Lock()
		if s.state == StateActive {
			s.mu.Unlock()
			return nil, nil
		}
		if guarded && s.cooldown > 0 && !s.lastAttempt.IsZero() {
			if elapsed := s.now().Sub(s.lastAttempt); elapsed <= s.cooldown {
				s.mu.Unlock()
				return nil, &core.SessionError{Op: "login", Err: fmt.Errorf(
					"last attempt was %s ago, cool-down is %s: %w",
					elapsed.Round(time.Millisecond), s.cooldown, core.ErrTooFastRetry)}
			}
		}
		s.state = StateLoggingIn
		s.mu.Unlock()

		s.logger.Debug("logging in")
		token, err := s.login(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastAttempt = s.now()
		if err != nil {
			s.token = ""
			s.state = StateNoSession
			return nil, &core.SessionError{Op: "login", Err: err}
		}
		s.token = token
		s.state = StateActive
		return nil, nil
	})
	return err
}

// Invalidate records that the held token was rejected by the server. The
// next ensured call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.state = StateInvalidated
}

// Do runs op with a valid session. An operation whose envelope reports an
// expired token invalidates the session and runs once more after a fresh
// login; a second expired-token report is terminal. The login here skips the
// cool-down guard, a fresh operation always deserves one attempt. Transport
// errors and remote business errors pass through untouched.
func (s *Session) Do(ctx context.Context, op func(ctx context.Context, token string) (*Envelope, error)) (*Envelope, error) {
	var invalid *Envelope
	for range 2 {
		if err := s.ensure(ctx, false); err != nil {
			return nil, err
		}
		env, err := op(ctx, s.Token())
		if err != nil {
			return nil, err
		}
		if !env.HasCode(core.CodeInvalidToken) {
			return env, nil
		}
		s.logger.Debug("token rejected, re-logging in")
		invalid = env
		s.Invalidate()
	}
	return nil, &core.SessionError{Op: "retry", Err: invalid.Err()}
}

// Logout releases the session. It is a no-op when no session is active and
// never triggers a login. Client-side state is cleared even when the server
// call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	token := s.token
	s.token = ""
	s.state = StateNoSession
	s.mu.Unlock()

	s.logger.Debug("logging out")
	if s.logout == nil {
		return nil
	}
	if err := s.logout(ctx, token); err != nil {
		return &core.SessionError{Op: "logout", Err: err}
	}
	return nil
}
