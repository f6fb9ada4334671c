package petlibro

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the session's authentication state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
)

// renewKey is the single singleflight key: there is one credential per session.
const renewKey = "renew"

// Session owns the account credential.
//
// EnsureValid renews the credential when it is missing or expired: a
// refresh when a refresh token is held, falling back to a full login if
// there is none or the refresh fails. Concurrent callers share one
// renewal through singleflight, and the renewal runs detached from the
// leader's context so a caller that gives up does not fail the others.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	auth   authenticator
	logger Logger
	now    func() time.Time

	mu   sync.RWMutex
	cred credential

	flight singleflight.Group
}

// NewSession creates an unauthenticated session.
func NewSession(auth authenticator, logger Logger) *Session {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// State reports the current state. Expired is derived from the clock.
func (s *Session) State() State {
	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()

	switch {
	case cred.accessToken == "":
		return StateUnauthenticated
	case !cred.validAt(s.now()):
		return StateExpired
	default:
		return StateAuthenticated
	}
}

// EnsureValid returns immediately while the credential is valid. Otherwise
// it performs, or waits for, a renewal. A login failure clears the
// credential and is returned; there is no retry.
func (s *Session) EnsureValid(ctx context.Context) error {
	if _, ok := s.validToken(); ok {
		return nil
	}

	ch := s.flight.DoChan(renewKey, func() (any, error) {
		return nil, s.renew(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Authorize runs fn with a valid access token.
func (s *Session) Authorize(ctx context.Context, fn func(token string) error) error {
	if err := s.EnsureValid(ctx); err != nil {
		return err
	}
	token, _ := s.validToken()
	if token == "" {
		// Invalidate raced with us; the next call logs in again.
		return ErrNotAuthenticated
	}
	return fn(token)
}

// Invalidate discards the credential; the next EnsureValid logs in.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cred = credential{}
	s.mu.Unlock()
}

func (s *Session) validToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred.validAt(s.now()) {
		return s.cred.accessToken, true
	}
	return s.cred.accessToken, false
}

// renew runs inside the singleflight call.
func (s *Session) renew(ctx context.Context) error {
	s.mu.RLock()
	current := s.cred
	s.mu.RUnlock()

	// A renewal that finished just before this flight started already
	// produced a valid credential.
	if current.validAt(s.now()) {
		return nil
	}

	if current.refreshToken != "" {
		next, err := s.auth.refresh(ctx, current)
		if err == nil {
			s.store(next)
			s.logger.Debug("access token refreshed", "expires_at", next.expiry)
			return nil
		}
		s.logger.Warn("token refresh failed, logging in again", "error", err)
	}

	next, err := s.auth.login(ctx)
	if err != nil {
		s.store(credential{})
		return err
	}
	s.store(next)
	s.logger.Info("authenticated with PetLibro", "expires_at", next.expiry)
	return nil
}

func (s *Session) store(c credential) {
	s.mu.Lock()
	s.cred = c
	s.mu.Unlock()
}
