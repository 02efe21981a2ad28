package authcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/memory"
)

// A user registers, logs in, gets a token and is refused an admin-only operation.
func TestUserJourney(t *testing.T) {
	env := setupCore(t)
	ctx := context.Background()

	registered, err := env.Core.Register(ctx, "alice@example.com", "s3cretpw", ac.Profile{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	account, err := env.Core.Login(ctx, "alice@example.com", "s3cretpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if account.ID != registered.ID {
		t.Fatalf("login returned %s, want %s", account.ID, registered.ID)
	}

	token, err := env.Core.IssueToken(account.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	id, err := env.Core.VerifyToken(token)
	if err != nil || id != account.ID {
		t.Fatalf("VerifyToken = %q, %v", id, err)
	}

	p, err := env.Core.Authenticate(ctx, ac.Proof{BearerToken: token})
	if err != nil || p.Anonymous() {
		t.Fatalf("Authenticate = %+v, %v", p, err)
	}
	if err := env.Core.RequireRole(p.Account, ac.RoleAdministrative); !errors.Is(err, ac.ErrForbidden) {
		t.Errorf("RequireRole(administrative) = %v, want ErrForbidden", err)
	}
	if err := env.Core.RequireRole(p.Account, ac.RoleOrdinary); err != nil {
		t.Errorf("RequireRole(ordinary) = %v", err)
	}
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := ac.New(ac.Config{Logger: quietLogger()}, ac.Stores{}); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
	_, err := ac.New(ac.Config{SigningSecret: []byte("short"), Logger: quietLogger()}, ac.Stores{
		Accounts: memory.NewAccountStore(),
		Sessions: memory.NewSessionStore(),
	})
	if !errors.Is(err, ac.ErrConfig) {
		t.Errorf("short secret err = %v, want ErrConfig", err)
	}
}

func TestGeneratedSecretIsPerCore(t *testing.T) {
	stores := ac.Stores{Accounts: memory.NewAccountStore(), Sessions: memory.NewSessionStore()}
	a, err := ac.New(ac.Config{Logger: quietLogger()}, stores)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ac.New(ac.Config{Logger: quietLogger()}, stores)
	if err != nil {
		t.Fatal(err)
	}
	token, _ := a.IssueToken("acct-1")
	if _, err := a.VerifyToken(token); err != nil {
		t.Errorf("own token rejected: %v", err)
	}
	if _, err := b.VerifyToken(token); !errors.Is(err, ac.ErrInvalidToken) {
		t.Errorf("token from another secret err = %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c ac.Config
	c.Logger = quietLogger()
	if err := c.EnsureDefaults(); err != nil {
		t.Fatal(err)
	}
	if len(c.SigningSecret) != ac.MinSecretLength {
		t.Errorf("generated secret length = %d", len(c.SigningSecret))
	}
	if c.TokenTTL != ac.DefaultTokenTTL || c.SessionTTL != ac.DefaultSessionTTL || c.HandshakeTTL != ac.DefaultHandshakeTTL {
		t.Errorf("ttls = %v %v %v", c.TokenTTL, c.SessionTTL, c.HandshakeTTL)
	}
	if c.PasswordCost != ac.DefaultPasswordCost || c.MinPasswordLength != ac.DefaultMinPasswordLength {
		t.Errorf("password policy = %d %d", c.PasswordCost, c.MinPasswordLength)
	}
	if c.TokenIssuer != ac.DefaultTokenIssuer || c.Now == nil {
		t.Errorf("issuer=%q now set=%v", c.TokenIssuer, c.Now != nil)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_SIGNING_SECRET", "env-secret-0123456789abcdef012345")
	t.Setenv("AUTHCORE_TOKEN_ISSUER", "my-app")
	t.Setenv("AUTHCORE_TOKEN_TTL", "2h")
	t.Setenv("AUTHCORE_SESSION_TTL", "30m")
	t.Setenv("AUTHCORE_PASSWORD_COST", "10")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "gid")
	t.Setenv("OAUTH2_GOOGLE_CLIENT_SECRET", "gsecret")
	t.Setenv("OAUTH2_GOOGLE_CALLBACK_URL", "http://localhost/auth/google/callback")
	t.Setenv("OAUTH2_GITHUB_CLIENT_ID", "only-id")
	t.Setenv("OAUTH2_GITHUB_CLIENT_SECRET", "")

	c, err := ac.ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if string(c.SigningSecret) != "env-secret-0123456789abcdef012345" || c.TokenIssuer != "my-app" {
		t.Errorf("secret=%q issuer=%q", c.SigningSecret, c.TokenIssuer)
	}
	if c.TokenTTL != 2*time.Hour || c.SessionTTL != 30*time.Minute || c.PasswordCost != 10 {
		t.Errorf("ttl=%v session=%v cost=%d", c.TokenTTL, c.SessionTTL, c.PasswordCost)
	}
	google, ok := c.Providers["google"]
	if !ok || google.ClientID != "gid" || google.CallbackURL == "" {
		t.Errorf("google = %+v", google)
	}
	if _, ok := c.Providers["github"]; ok {
		t.Error("github configured without a secret")
	}
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_TTL", "forever")
	if _, err := ac.ConfigFromEnv(); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("bad duration err = %v", err)
	}
	t.Setenv("AUTHCORE_TOKEN_TTL", "")
	t.Setenv("AUTHCORE_MIN_PASSWORD_LENGTH", "six")
	if _, err := ac.ConfigFromEnv(); !errors.Is(err, ac.ErrConfig) {
		t.Errorf("bad int err = %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := ac.NewMetrics(reg, "")
	env := setupCore(t, func(c *ac.Config) { c.Metrics = metrics })
	p := newFakeProvider("google")
	if err := env.Core.AddProvider(p); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	account := mustRegister(t, env, "ada@example.com", "password1")
	env.Core.Register(ctx, "ada@example.com", "password1", ac.Profile{})
	env.Core.Login(ctx, "ada@example.com", "password1")
	env.Core.Login(ctx, "ada@example.com", "wrong-one")
	token, _ := env.Core.IssueToken(account.ID)
	env.Core.VerifyToken(token)
	env.Core.VerifyToken("junk")
	session, _ := env.Core.CreateSession(ctx, account.ID)
	env.Core.DestroySession(ctx, session)

	p.assert(ac.ProviderIdentity{Subject: "g-1", Email: "ada@example.com", EmailVerified: true})
	_, state, _ := env.Core.StartFederatedLogin(ctx, "google", "/")
	env.Core.CompleteFederatedLogin(ctx, "google", "code", state)
	env.Core.CompleteFederatedLogin(ctx, "google", "code", state)

	expected := `
# HELP authcore_registrations_total Local account registrations by outcome
# TYPE authcore_registrations_total counter
authcore_registrations_total{outcome="failure"} 1
authcore_registrations_total{outcome="success"} 1
# HELP authcore_logins_total Login attempts by method (local or provider name) and outcome
# TYPE authcore_logins_total counter
authcore_logins_total{method="google",outcome="failure"} 1
authcore_logins_total{method="google",outcome="success"} 1
authcore_logins_total{method="local",outcome="failure"} 1
authcore_logins_total{method="local",outcome="success"} 1
# HELP authcore_tokens_total Bearer tokens issued and verified by outcome
# TYPE authcore_tokens_total counter
authcore_tokens_total{op="issue",outcome="success"} 1
authcore_tokens_total{op="verify",outcome="failure"} 1
authcore_tokens_total{op="verify",outcome="success"} 1
# HELP authcore_sessions_created_total Server-side sessions created
# TYPE authcore_sessions_created_total counter
authcore_sessions_created_total 1
# HELP authcore_sessions_destroyed_total Server-side sessions destroyed by logout
# TYPE authcore_sessions_destroyed_total counter
authcore_sessions_destroyed_total 1
# HELP authcore_federated_handshakes_total Federated handshakes by provider and stage/outcome
# TYPE authcore_federated_handshakes_total counter
authcore_federated_handshakes_total{outcome="expired",provider="google"} 1
authcore_federated_handshakes_total{outcome="resolved",provider="google"} 1
authcore_federated_handshakes_total{outcome="started",provider="google"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"authcore_registrations_total",
		"authcore_logins_total",
		"authcore_tokens_total",
		"authcore_sessions_created_total",
		"authcore_sessions_destroyed_total",
		"authcore_federated_handshakes_total",
	)
	if err != nil {
		t.Error(err)
	}
	n, err := testutil.GatherAndCount(reg, "authcore_provider_exchange_seconds")
	if err != nil || n != 1 {
		t.Errorf("provider_exchange_seconds series = %d (%v), want 1", n, err)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	env := setupCore(t)
	account := mustRegister(t, env, "ada@example.com", "password1")
	if _, err := env.Core.IssueToken(account.ID); err != nil {
		t.Fatal(err)
	}
}
