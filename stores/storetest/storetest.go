// Package storetest is a conformance suite for implementations of the
// authcore store interfaces. Each backend's tests call the Run functions
// with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base anchors every timestamp in the suite. It is close to the wall clock
// because some backends expire entries on their own. Stores may drop
// sub-millisecond precision.
var base = time.Now().UTC().Truncate(time.Millisecond)

var idSeq atomic.Int64

func newAccount(handle string) *ac.Account {
	return &ac.Account{
		ID:          fmt.Sprintf("acct-%06d", idSeq.Add(1)),
		Handle:      handle,
		DisplayName: "Test User",
		Role:        ac.RoleOrdinary,
		Active:      true,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

// RunAccountStoreTests exercises an AccountStore.
func RunAccountStoreTests(t *testing.T, newStore func(t *testing.T) ac.AccountStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		a := newAccount("ada@example.com")
		a.PasswordHash = "$2a$04$digest"
		a.Federated = &ac.FederatedIdentity{Provider: "google", Subject: "g-1"}
		require.NoError(t, s.CreateAccount(ctx, a))

		byID, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", byID.Handle)
		assert.Equal(t, a.PasswordHash, byID.PasswordHash)
		assert.Equal(t, ac.RoleOrdinary, byID.Role)
		assert.True(t, byID.Active)
		assert.Equal(t, ac.CredentialBoth, byID.Credentials())
		assert.WithinDuration(t, base, byID.CreatedAt, time.Millisecond)

		byHandle, err := s.GetAccountByHandle(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, a.ID, byHandle.ID)

		byFed, err := s.GetAccountByFederatedID(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, byFed.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAccountByID(ctx, "missing")
		assert.ErrorIs(t, err, ac.ErrAccountNotFound)
		_, err = s.GetAccountByHandle(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ac.ErrAccountNotFound)
		_, err = s.GetAccountByFederatedID(ctx, "github", "42")
		assert.ErrorIs(t, err, ac.ErrAccountNotFound)
	})

	t.Run("DuplicateHandleConflicts", func(t *testing.T) {
		s := newStore(t)
		first := newAccount("dup@example.com")
		first.PasswordHash = "first"
		require.NoError(t, s.CreateAccount(ctx, first))

		second := newAccount("dup@example.com")
		second.PasswordHash = "second"
		assert.ErrorIs(t, s.CreateAccount(ctx, second), ac.ErrConflict)

		got, err := s.GetAccountByHandle(ctx, "dup@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "first", got.PasswordHash)
		_, err = s.GetAccountByID(ctx, second.ID)
		assert.ErrorIs(t, err, ac.ErrAccountNotFound)
	})

	t.Run("DuplicateFederatedIdentityConflicts", func(t *testing.T) {
		s := newStore(t)
		a := newAccount("one@example.com")
		a.Federated = &ac.FederatedIdentity{Provider: "github", Subject: "7"}
		require.NoError(t, s.CreateAccount(ctx, a))

		b := newAccount("two@example.com")
		b.Federated = &ac.FederatedIdentity{Provider: "github", Subject: "7"}
		assert.ErrorIs(t, s.CreateAccount(ctx, b), ac.ErrConflict)

		// the losing create must not hold on to its handle
		c := newAccount("two@example.com")
		assert.NoError(t, s.CreateAccount(ctx, c))
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		s := newStore(t)
		a := newAccount("ver@example.com")
		require.NoError(t, s.CreateAccount(ctx, a))

		got, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		v := got.Version
		got.Role = ac.RoleAdministrative
		login := base.Add(time.Hour)
		got.LastAuthenticatedAt = &login
		require.NoError(t, s.UpdateAccount(ctx, got))
		assert.Equal(t, v+1, got.Version)

		reloaded, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, ac.RoleAdministrative, reloaded.Role)
		assert.Equal(t, v+1, reloaded.Version)
		require.NotNil(t, reloaded.LastAuthenticatedAt)
		assert.WithinDuration(t, login, *reloaded.LastAuthenticatedAt, time.Millisecond)
	})

	t.Run("StaleUpdateRejected", func(t *testing.T) {
		s := newStore(t)
		a := newAccount("stale@example.com")
		require.NoError(t, s.CreateAccount(ctx, a))

		one, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		two, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)

		one.DisplayName = "first writer"
		require.NoError(t, s.UpdateAccount(ctx, one))
		two.DisplayName = "second writer"
		assert.ErrorIs(t, s.UpdateAccount(ctx, two), ac.ErrStaleAccount)

		got, err := s.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "first writer", got.DisplayName)
	})

	t.Run("UpdateClaimsFederatedIdentity", func(t *testing.T) {
		s := newStore(t)
		owner := newAccount("owner@example.com")
		owner.Federated = &ac.FederatedIdentity{Provider: "google", Subject: "taken"}
		require.NoError(t, s.CreateAccount(ctx, owner))
		other := newAccount("other@example.com")
		require.NoError(t, s.CreateAccount(ctx, other))

		got, err := s.GetAccountByID(ctx, other.ID)
		require.NoError(t, err)
		got.Federated = &ac.FederatedIdentity{Provider: "google", Subject: "taken"}
		assert.ErrorIs(t, s.UpdateAccount(ctx, got), ac.ErrConflict)

		got, err = s.GetAccountByID(ctx, other.ID)
		require.NoError(t, err)
		got.Federated = &ac.FederatedIdentity{Provider: "google", Subject: "free"}
		require.NoError(t, s.UpdateAccount(ctx, got))

		linked, err := s.GetAccountByFederatedID(ctx, "google", "free")
		require.NoError(t, err)
		assert.Equal(t, other.ID, linked.ID)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		var wg sync.WaitGroup
		var wins, conflicts atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CreateAccount(ctx, newAccount("race@example.com"))
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, ac.ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(n-1), conflicts.Load())
	})
}

func newSession(idHash, accountID string, ttl time.Duration) *ac.Session {
	return &ac.Session{
		IDHash:    idHash,
		AccountID: accountID,
		CreatedAt: base,
		ExpiresAt: base.Add(ttl),
	}
}

// RunSessionStoreTests exercises a SessionStore.
func RunSessionStoreTests(t *testing.T, newStore func(t *testing.T) ac.SessionStore) {
	ctx := context.Background()

	t.Run("CreateGetDelete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateSession(ctx, newSession("h1", "acct-1", time.Hour)))

		got, err := s.GetSession(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", got.AccountID)
		assert.WithinDuration(t, base.Add(time.Hour), got.ExpiresAt, time.Millisecond)

		require.NoError(t, s.DeleteSession(ctx, "h1"))
		_, err = s.GetSession(ctx, "h1")
		assert.ErrorIs(t, err, ac.ErrSessionNotFound)

		// idempotent
		assert.NoError(t, s.DeleteSession(ctx, "h1"))
		assert.NoError(t, s.DeleteSession(ctx, "never-existed"))
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateSession(ctx, newSession("dup", "acct-1", time.Hour)))
		assert.ErrorIs(t, s.CreateSession(ctx, newSession("dup", "acct-2", time.Hour)), ac.ErrSessionExists)

		got, err := s.GetSession(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "acct-1", got.AccountID)
	})

	t.Run("DeleteAccountSessions", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateSession(ctx, newSession("a1", "acct-a", time.Hour)))
		require.NoError(t, s.CreateSession(ctx, newSession("a2", "acct-a", time.Hour)))
		require.NoError(t, s.CreateSession(ctx, newSession("b1", "acct-b", time.Hour)))

		require.NoError(t, s.DeleteAccountSessions(ctx, "acct-a"))
		for _, h := range []string{"a1", "a2"} {
			_, err := s.GetSession(ctx, h)
			assert.ErrorIs(t, err, ac.ErrSessionNotFound, h)
		}
		_, err := s.GetSession(ctx, "b1")
		assert.NoError(t, err)
	})

	t.Run("DeleteExpiredSessions", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateSession(ctx, newSession("short", "acct-1", time.Minute)))
		require.NoError(t, s.CreateSession(ctx, newSession("long", "acct-1", 24*time.Hour)))

		require.NoError(t, s.DeleteExpiredSessions(ctx, base.Add(time.Hour)))
		_, err := s.GetSession(ctx, "short")
		assert.ErrorIs(t, err, ac.ErrSessionNotFound)
		_, err = s.GetSession(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.CreateSession(ctx, newSession("same", fmt.Sprintf("acct-%d", i), time.Hour))
				if err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, ac.ErrSessionExists)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func newHandshake(state string, ttl time.Duration) *ac.Handshake {
	return &ac.Handshake{
		State:          state,
		Provider:       "google",
		Scopes:         []string{"openid", "email"},
		RedirectTarget: "/dashboard",
		CodeVerifier:   "verifier-" + state,
		CreatedAt:      base,
		ExpiresAt:      base.Add(ttl),
	}
}

// RunHandshakeStoreTests exercises a HandshakeStore.
func RunHandshakeStoreTests(t *testing.T, newStore func(t *testing.T) ac.HandshakeStore) {
	ctx := context.Background()
	now := base.Add(time.Minute)

	t.Run("ConsumeOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-1", 10*time.Minute)))

		h, err := s.ConsumeHandshake(ctx, "st-1", now)
		require.NoError(t, err)
		assert.Equal(t, "google", h.Provider)
		assert.Equal(t, "/dashboard", h.RedirectTarget)
		assert.Equal(t, "verifier-st-1", h.CodeVerifier)
		assert.Equal(t, []string{"openid", "email"}, h.Scopes)
		require.NotNil(t, h.ConsumedAt)

		_, err = s.ConsumeHandshake(ctx, "st-1", now)
		assert.ErrorIs(t, err, ac.ErrExpired)
	})

	t.Run("UnknownState", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConsumeHandshake(ctx, "never-issued", now)
		assert.ErrorIs(t, err, ac.ErrStateMismatch)
	})

	t.Run("Expired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-old", 10*time.Minute)))
		_, err := s.ConsumeHandshake(ctx, "st-old", base.Add(11*time.Minute))
		assert.ErrorIs(t, err, ac.ErrExpired)
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-dup", time.Minute*10)))
		assert.ErrorIs(t, s.SaveHandshake(ctx, newHandshake("st-dup", time.Minute*10)), ac.ErrHandshakeExists)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-gone", 5*time.Minute)))
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-kept", 30*time.Minute)))

		require.NoError(t, s.DeleteExpiredHandshakes(ctx, base.Add(10*time.Minute)))
		_, err := s.ConsumeHandshake(ctx, "st-gone", base.Add(10*time.Minute))
		assert.ErrorIs(t, err, ac.ErrStateMismatch)
		_, err = s.ConsumeHandshake(ctx, "st-kept", base.Add(10*time.Minute))
		assert.NoError(t, err)
	})

	t.Run("ConcurrentConsumeSingleWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveHandshake(ctx, newHandshake("st-race", 10*time.Minute)))
		const n = 8
		var wg sync.WaitGroup
		var wins, expired atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ConsumeHandshake(ctx, "st-race", now)
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, ac.ErrExpired):
					expired.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(n-1), expired.Load())
	})
}
