package authcore_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

func setupFederated(t *testing.T, tweak ...func(*ac.Config)) (*testEnv, *fakeProvider) {
	t.Helper()
	env := setupCore(t, tweak...)
	p := newFakeProvider("google")
	if err := env.Core.AddProvider(p); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	return env, p
}

func startLogin(t *testing.T, env *testEnv, provider, target string) string {
	t.Helper()
	authURL, state, err := env.Core.StartFederatedLogin(context.Background(), provider, target)
	if err != nil {
		t.Fatalf("StartFederatedLogin: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("bad auth url %q: %v", authURL, err)
	}
	if got := u.Query().Get("state"); got != state {
		t.Fatalf("auth url state = %q, want %q", got, state)
	}
	return state
}

func TestFederatedCreatesAccount(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "New.User@Example.com", EmailVerified: true, Name: "New User", AvatarURL: "https://img/1"})

	state := startLogin(t, env, "google", "/dashboard")
	account, err := env.Core.CompleteFederatedLogin(ctx, "google", "code-1", state)
	if err != nil {
		t.Fatalf("CompleteFederatedLogin: %v", err)
	}
	if account.Handle != "new.user@example.com" {
		t.Errorf("Handle = %q", account.Handle)
	}
	if account.Credentials() != ac.CredentialFederated {
		t.Errorf("Credentials = %v, want federated", account.Credentials())
	}
	if account.Federated.Key() != "google:g-1" {
		t.Errorf("Federated = %+v", account.Federated)
	}
	if account.DisplayName != "New User" || account.AvatarURL != "https://img/1" {
		t.Errorf("profile = %q %q", account.DisplayName, account.AvatarURL)
	}
	if account.Role != ac.RoleOrdinary || !account.Active {
		t.Errorf("role=%s active=%v", account.Role, account.Active)
	}
	if account.LastAuthenticatedAt == nil {
		t.Error("LastAuthenticatedAt not set")
	}
	if code, _ := p.lastCode.Load().(string); code != "code-1" {
		t.Errorf("provider saw code %q", code)
	}

	// a second login with the same identity reuses the account
	state = startLogin(t, env, "google", "")
	again, err := env.Core.CompleteFederatedLogin(ctx, "google", "code-2", state)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.ID != account.ID {
		t.Errorf("second login gave %s, want %s", again.ID, account.ID)
	}
}

func TestFederatedHandshakeRecordsPKCEAndRedirect(t *testing.T) {
	env, _ := setupFederated(t)
	ctx := context.Background()
	state := startLogin(t, env, "google", "https://evil.example/steal")

	h, err := env.Handshakes.ConsumeHandshake(ctx, state, env.Clock.Now())
	if err != nil {
		t.Fatalf("ConsumeHandshake: %v", err)
	}
	if h.RedirectTarget != "/" {
		t.Errorf("RedirectTarget = %q, want /", h.RedirectTarget)
	}
	if len(h.CodeVerifier) < 43 {
		t.Errorf("CodeVerifier %q too short", h.CodeVerifier)
	}
	if h.Provider != "google" || len(h.Scopes) == 0 {
		t.Errorf("handshake = %+v", h)
	}
	if !h.ExpiresAt.Equal(env.Clock.Now().Add(ac.DefaultHandshakeTTL)) {
		t.Errorf("ExpiresAt = %v", h.ExpiresAt)
	}
}

func TestFederatedStateFailures(t *testing.T) {
	env, p := setupFederated(t, func(c *ac.Config) { c.HandshakeTTL = 5 * time.Minute })
	ctx := context.Background()
	p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "a@example.com", EmailVerified: true})

	other := newFakeProvider("github")
	if err := env.Core.AddProvider(other); err != nil {
		t.Fatal(err)
	}

	t.Run("empty state", func(t *testing.T) {
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", "")
		if !errors.Is(err, ac.ErrStateMismatch) {
			t.Errorf("err = %v, want ErrStateMismatch", err)
		}
	})
	t.Run("unknown state", func(t *testing.T) {
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", "never-issued")
		if !errors.Is(err, ac.ErrStateMismatch) {
			t.Errorf("err = %v, want ErrStateMismatch", err)
		}
	})
	t.Run("state of another provider", func(t *testing.T) {
		state := startLogin(t, env, "github", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrStateMismatch) {
			t.Errorf("err = %v, want ErrStateMismatch", err)
		}
	})
	t.Run("replayed state", func(t *testing.T) {
		state := startLogin(t, env, "google", "")
		if _, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state); err != nil {
			t.Fatalf("first completion: %v", err)
		}
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
	})
	t.Run("expired state", func(t *testing.T) {
		state := startLogin(t, env, "google", "")
		env.Clock.Advance(5*time.Minute + time.Second)
		before := p.exchanges.Load()
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrExpired) {
			t.Errorf("err = %v, want ErrExpired", err)
		}
		if p.exchanges.Load() != before {
			t.Error("provider contacted for an expired handshake")
		}
	})
	t.Run("unknown provider", func(t *testing.T) {
		_, _, err := env.Core.StartFederatedLogin(ctx, "myspace", "")
		if !errors.Is(err, ac.ErrUnknownProvider) {
			t.Errorf("err = %v, want ErrUnknownProvider", err)
		}
	})
}

func TestFederatedProviderErrors(t *testing.T) {
	env, p := setupFederated(t, func(c *ac.Config) { c.ProviderTimeout = 50 * time.Millisecond })
	ctx := context.Background()

	t.Run("exchange fails", func(t *testing.T) {
		p.fail(errors.New("invalid_grant"))
		state := startLogin(t, env, "google", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrProviderError) {
			t.Errorf("err = %v, want ErrProviderError", err)
		}
	})
	t.Run("missing code", func(t *testing.T) {
		p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "a@example.com", EmailVerified: true})
		state := startLogin(t, env, "google", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "", state)
		if !errors.Is(err, ac.ErrProviderError) {
			t.Errorf("err = %v, want ErrProviderError", err)
		}
	})
	t.Run("no subject", func(t *testing.T) {
		p.assert(ac.ProviderIdentity{Email: "a@example.com", EmailVerified: true})
		state := startLogin(t, env, "google", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrProviderError) {
			t.Errorf("err = %v, want ErrProviderError", err)
		}
	})
	t.Run("no email", func(t *testing.T) {
		p.assert(ac.ProviderIdentity{Subject: "g-9"})
		state := startLogin(t, env, "google", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrProviderError) {
			t.Errorf("err = %v, want ErrProviderError", err)
		}
	})
	t.Run("timeout", func(t *testing.T) {
		p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "a@example.com", EmailVerified: true})
		p.mu.Lock()
		p.delay = time.Second
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.delay = 0
			p.mu.Unlock()
		}()
		state := startLogin(t, env, "google", "")
		_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
		if !errors.Is(err, ac.ErrProviderError) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want a provider timeout", err)
		}
	})
}

func TestFederatedLinksVerifiedEmail(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	local := mustRegister(t, env, "ada@example.com", "hunter22")

	p.assert(ac.ProviderIdentity{Subject: "g-ada", Email: "ADA@example.com", EmailVerified: true, AvatarURL: "https://img/ada"})
	state := startLogin(t, env, "google", "")
	account, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	if err != nil {
		t.Fatalf("CompleteFederatedLogin: %v", err)
	}
	if account.ID != local.ID {
		t.Fatalf("linked to %s, want existing %s", account.ID, local.ID)
	}
	if account.Credentials() != ac.CredentialBoth {
		t.Errorf("Credentials = %v, want both", account.Credentials())
	}
	if account.AvatarURL != "https://img/ada" {
		t.Errorf("AvatarURL = %q", account.AvatarURL)
	}
	// local login still works after linking
	if _, err := env.Core.Login(ctx, "ada@example.com", "hunter22"); err != nil {
		t.Errorf("Login after link: %v", err)
	}
}

func TestFederatedRefusesUnverifiedLink(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	local := mustRegister(t, env, "ada@example.com", "hunter22")

	p.assert(ac.ProviderIdentity{Subject: "g-ada", Email: "ada@example.com", EmailVerified: false})
	state := startLogin(t, env, "google", "")
	_, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	if !errors.Is(err, ac.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
	stored, _ := env.Core.GetAccount(ctx, local.ID)
	if stored.Federated != nil {
		t.Error("unverified email was linked")
	}
}

func TestFederatedHandleBoundToOtherIdentity(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()

	p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "shared@example.com", EmailVerified: true})
	state := startLogin(t, env, "google", "")
	first, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	if err != nil {
		t.Fatal(err)
	}

	p.assert(ac.ProviderIdentity{Subject: "g-2", Email: "shared@example.com", EmailVerified: true})
	state = startLogin(t, env, "google", "")
	_, err = env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	if !errors.Is(err, ac.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	stored, _ := env.Core.GetAccount(ctx, first.ID)
	if stored.Federated.Subject != "g-1" {
		t.Errorf("binding was replaced: %+v", stored.Federated)
	}
}

func TestFederatedInactiveAccount(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "a@example.com", EmailVerified: true})
	state := startLogin(t, env, "google", "")
	account, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Core.DeactivateAccount(ctx, account.ID); err != nil {
		t.Fatal(err)
	}
	state = startLogin(t, env, "google", "")
	if _, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state); err != ac.ErrInvalidCredential {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestFederatedDoesNotLinkInactiveAccount(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	local := mustRegister(t, env, "gone@example.com", "password1")
	if err := env.Core.DeactivateAccount(ctx, local.ID); err != nil {
		t.Fatal(err)
	}
	before, err := env.Core.GetAccount(ctx, local.ID)
	if err != nil {
		t.Fatal(err)
	}

	env.Clock.Advance(time.Minute)
	p.assert(ac.ProviderIdentity{Subject: "g-gone", Email: "gone@example.com", EmailVerified: true})
	state := startLogin(t, env, "google", "")
	if _, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", state); !errors.Is(err, ac.ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}

	after, err := env.Core.GetAccount(ctx, local.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Federated != nil {
		t.Errorf("inactive account was linked to %+v", after.Federated)
	}
	if after.Version != before.Version || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("inactive account was rewritten: version %d -> %d", before.Version, after.Version)
	}
	if _, err := env.Accounts.GetAccountByFederatedID(ctx, "google", "g-gone"); !errors.Is(err, ac.ErrAccountNotFound) {
		t.Errorf("GetAccountByFederatedID err = %v, want ErrAccountNotFound", err)
	}
}

func TestFederatedConcurrentCallbacksShareAccount(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	p.assert(ac.ProviderIdentity{Subject: "g-race", Email: "race@example.com", EmailVerified: true})

	const n = 8
	states := make([]string, n)
	for i := range states {
		states[i] = startLogin(t, env, "google", "")
	}
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account, err := env.Core.CompleteFederatedLogin(ctx, "google", "code", states[i])
			errs[i] = err
			if err == nil {
				ids[i] = account.ID
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Errorf("callback %d got account %s, want %s", i, ids[i], ids[0])
		}
	}
}

func TestFederatedConcurrentCallbacksWithLocalRegistration(t *testing.T) {
	env, p := setupFederated(t)
	ctx := context.Background()
	p.assert(ac.ProviderIdentity{Subject: "g-ada", Email: "ada@example.com", EmailVerified: true})
	state := startLogin(t, env, "google", "")

	var wg sync.WaitGroup
	var fedAccount, localAccount *ac.Account
	var fedErr, localErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		fedAccount, fedErr = env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	}()
	go func() {
		defer wg.Done()
		localAccount, localErr = env.Core.Register(ctx, "ada@example.com", "hunter22", ac.Profile{})
	}()
	wg.Wait()

	if fedErr != nil {
		t.Fatalf("federated login: %v", fedErr)
	}
	// whichever came first, exactly one account owns the handle
	stored, err := env.Core.GetAccountByHandle(ctx, "ada@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != fedAccount.ID {
		t.Errorf("handle owned by %s, federated login returned %s", stored.ID, fedAccount.ID)
	}
	if localErr == nil && localAccount.ID != stored.ID {
		t.Errorf("registration created a second account %s", localAccount.ID)
	}
	if localErr != nil && !errors.Is(localErr, ac.ErrConflict) {
		t.Errorf("registration err = %v", localErr)
	}
}

func TestAddProviderRules(t *testing.T) {
	env, _ := setupFederated(t)
	if err := env.Core.AddProvider(newFakeProvider("google")); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("duplicate provider err = %v, want ErrConfig", err)
	}
	if err := env.Core.AddProvider(newFakeProvider("github")); err != nil {
		t.Fatal(err)
	}
	got := env.Core.Providers()
	if len(got) != 2 || got[0] != "github" || got[1] != "google" {
		t.Errorf("Providers = %v", got)
	}

	core, err := ac.New(ac.Config{Logger: quietLogger()}, ac.Stores{Accounts: env.Accounts, Sessions: env.Sessions})
	if err != nil {
		t.Fatal(err)
	}
	if err := core.AddProvider(newFakeProvider("google")); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("provider without handshake store err = %v, want ErrConfig", err)
	}
}
