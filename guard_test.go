package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

func TestAuthenticatePrecedence(t *testing.T) {
	env := setupCore(t)
	ctx := context.Background()
	alice := mustRegister(t, env, "alice@example.com", "password1")
	bob := mustRegister(t, env, "bob@example.com", "password1")

	aliceToken, _ := env.Core.IssueToken(alice.ID)
	bobSession, _ := env.Core.CreateSession(ctx, bob.ID)

	tests := []struct {
		name       string
		proof      ac.Proof
		wantID     string
		wantMethod ac.Method
	}{
		{"nothing", ac.Proof{}, "", ac.MethodNone},
		{"token only", ac.Proof{BearerToken: aliceToken}, alice.ID, ac.MethodToken},
		{"session only", ac.Proof{SessionID: bobSession}, bob.ID, ac.MethodSession},
		{"token wins over session", ac.Proof{BearerToken: aliceToken, SessionID: bobSession}, alice.ID, ac.MethodToken},
		{"invalid token does not fall back", ac.Proof{BearerToken: "garbage", SessionID: bobSession}, "", ac.MethodNone},
		{"unknown session", ac.Proof{SessionID: "bogus"}, "", ac.MethodNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := env.Core.Authenticate(ctx, tc.proof)
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if tc.wantID == "" {
				if !p.Anonymous() {
					t.Errorf("got %s, want anonymous", p.Account.ID)
				}
				return
			}
			if p.Anonymous() || p.Account.ID != tc.wantID {
				t.Errorf("principal = %+v, want %s", p, tc.wantID)
			}
			if p.Method != tc.wantMethod {
				t.Errorf("method = %v, want %v", p.Method, tc.wantMethod)
			}
		})
	}
}

func TestAuthenticateInactiveOrMissingAccount(t *testing.T) {
	env := setupCore(t)
	ctx := context.Background()
	account := mustRegister(t, env, "ada@example.com", "password1")
	token, _ := env.Core.IssueToken(account.ID)
	session, _ := env.Core.CreateSession(ctx, account.ID)
	ghost, _ := env.Core.IssueToken("deleted-account")

	if p, _ := env.Core.Authenticate(ctx, ac.Proof{BearerToken: ghost}); !p.Anonymous() {
		t.Error("token for a missing account resolved")
	}

	if err := env.Core.DeactivateAccount(ctx, account.ID); err != nil {
		t.Fatal(err)
	}
	if p, _ := env.Core.Authenticate(ctx, ac.Proof{BearerToken: token}); !p.Anonymous() {
		t.Error("token of an inactive account resolved")
	}
	if p, _ := env.Core.Authenticate(ctx, ac.Proof{SessionID: session}); !p.Anonymous() {
		t.Error("session of an inactive account resolved")
	}
	// deactivation ended the session outright
	if _, err := env.Core.ResolveSession(ctx, session); !errors.Is(err, ac.ErrInvalidSession) {
		t.Errorf("ResolveSession err = %v", err)
	}

	if err := env.Core.ActivateAccount(ctx, account.ID); err != nil {
		t.Fatal(err)
	}
	if p, _ := env.Core.Authenticate(ctx, ac.Proof{BearerToken: token}); p.Anonymous() {
		t.Error("token rejected after reactivation")
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	env := setupCore(t, func(c *ac.Config) { c.TokenTTL = time.Minute })
	ctx := context.Background()
	account := mustRegister(t, env, "ada@example.com", "password1")
	token, _ := env.Core.IssueToken(account.ID)

	env.Clock.Advance(time.Minute + ac.DefaultTokenLeeway + time.Second)
	p, err := env.Core.Authenticate(ctx, ac.Proof{BearerToken: token})
	if err != nil || !p.Anonymous() {
		t.Errorf("expired token: principal=%+v err=%v", p, err)
	}
}

func TestRequireRole(t *testing.T) {
	ordinary := &ac.Account{ID: "o", Role: ac.RoleOrdinary, Active: true}
	admin := &ac.Account{ID: "a", Role: ac.RoleAdministrative, Active: true}

	tests := []struct {
		name    string
		account *ac.Account
		role    ac.Role
		want    error
	}{
		{"anonymous", nil, ac.RoleOrdinary, ac.ErrUnauthenticated},
		{"ordinary needs ordinary", ordinary, ac.RoleOrdinary, nil},
		{"ordinary needs admin", ordinary, ac.RoleAdministrative, ac.ErrForbidden},
		{"admin needs admin", admin, ac.RoleAdministrative, nil},
		{"admin needs ordinary", admin, ac.RoleOrdinary, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ac.RequireRole(tc.account, tc.role); !errors.Is(err, tc.want) {
				t.Errorf("RequireRole = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSetRole(t *testing.T) {
	env := setupCore(t)
	ctx := context.Background()
	account := mustRegister(t, env, "ada@example.com", "password1")

	updated, err := env.Core.SetRole(ctx, account.ID, ac.RoleAdministrative)
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if updated.Role != ac.RoleAdministrative {
		t.Errorf("Role = %s", updated.Role)
	}
	if err := env.Core.RequireRole(updated, ac.RoleAdministrative); err != nil {
		t.Errorf("RequireRole after promotion: %v", err)
	}
	if _, err := env.Core.SetRole(ctx, account.ID, ac.Role("superuser")); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("unknown role err = %v", err)
	}
	if _, err := env.Core.SetRole(ctx, "missing", ac.RoleOrdinary); !errors.Is(err, ac.ErrAccountNotFound) {
		t.Errorf("missing account err = %v", err)
	}
}

func TestMethodString(t *testing.T) {
	for m, want := range map[ac.Method]string{ac.MethodNone: "none", ac.MethodToken: "token", ac.MethodSession: "session"} {
		if m.String() != want {
			t.Errorf("%d.String() = %q, want %q", m, m.String(), want)
		}
	}
}
