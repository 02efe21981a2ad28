package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSessionTTL is the fixed lifetime of a session from its creation.
const DefaultSessionTTL = 24 * time.Hour

// SessionManager creates, resolves and destroys server-side sessions.
// Session ids are returned to the caller once; the store only keeps their hash.
type SessionManager struct {
	Store   SessionStore
	TTL     time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

func (s *SessionManager) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultSessionTTL
	}
	return s.TTL
}

func (s *SessionManager) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SessionManager) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Create starts a session for accountID and returns its opaque id.
func (s *SessionManager) Create(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: empty account id", ErrInvalidSession)
	}
	// retry once on an id collision
	for attempt := 0; attempt < 2; attempt++ {
		id, err := GenerateSecureToken()
		if err != nil {
			return "", err
		}
		now := s.now()
		err = s.Store.CreateSession(ctx, &Session{
			IDHash:    HashToken(id),
			AccountID: accountID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl()),
		})
		if errors.Is(err, ErrSessionExists) {
			s.logger().Warn("session id collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
		s.Metrics.sessionCreated()
		return id, nil
	}
	return "", fmt.Errorf("failed to create session: %w", ErrSessionExists)
}

// Resolve returns the account id of a live session. Unknown or expired
// sessions yield ErrInvalidSession.
func (s *SessionManager) Resolve(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidSession
	}
	session, err := s.Store.GetSession(ctx, HashToken(sessionID))
	if errors.Is(err, ErrSessionNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if session.IsExpired(s.now()) {
		return "", fmt.Errorf("%w: expired", ErrInvalidSession)
	}
	return session.AccountID, nil
}

// Destroy ends a session. Unknown ids are not an error.
func (s *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.Store.DeleteSession(ctx, HashToken(sessionID)); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	s.Metrics.sessionDestroyed()
	return nil
}

// DestroyAccount ends every session of accountID.
func (s *SessionManager) DestroyAccount(ctx context.Context, accountID string) error {
	if err := s.Store.DeleteAccountSessions(ctx, accountID); err != nil {
		return fmt.Errorf("failed to destroy sessions of %s: %w", accountID, err)
	}
	return nil
}

// Sweep removes sessions past their expiry.
func (s *SessionManager) Sweep(ctx context.Context) error {
	return s.Store.DeleteExpiredSessions(ctx, s.now())
}
