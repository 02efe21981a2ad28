package authcore

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderCredentials are the OAuth client settings of one identity provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Configured reports whether a client id and secret are set.
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config holds every tunable of the core. Zero values are replaced by
// EnsureDefaults.
type Config struct {
	// HS256 signing secret for bearer tokens, at least 32 bytes.
	// Generated at startup when empty, which invalidates tokens on restart.
	SigningSecret []byte

	TokenIssuer string
	TokenTTL    time.Duration
	TokenLeeway time.Duration

	SessionTTL time.Duration

	HandshakeTTL    time.Duration
	ProviderTimeout time.Duration

	PasswordCost      int
	MinPasswordLength int

	// Federated provider credentials keyed by provider name.
	Providers map[string]ProviderCredentials

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

// EnsureDefaults fills unset fields. It fails only if a signing secret must be
// generated and the entropy source fails.
func (c *Config) EnsureDefaults() error {
	if len(c.SigningSecret) == 0 {
		secret, err := GenerateSigningSecret()
		if err != nil {
			return err
		}
		c.SigningSecret = secret
		c.logger().Warn("no signing secret configured; generated an ephemeral one")
	}
	if c.TokenIssuer == "" {
		c.TokenIssuer = DefaultTokenIssuer
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.TokenLeeway <= 0 {
		c.TokenLeeway = DefaultTokenLeeway
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.HandshakeTTL <= 0 {
		c.HandshakeTTL = DefaultHandshakeTTL
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.PasswordCost == 0 {
		c.PasswordCost = DefaultPasswordCost
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = DefaultMinPasswordLength
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ConfigFromEnv reads AUTHCORE_* settings and OAUTH2_<PROVIDER>_* client
// credentials for google and github.
func ConfigFromEnv() (*Config, error) {
	c := &Config{
		SigningSecret: []byte(os.Getenv("AUTHCORE_SIGNING_SECRET")),
		TokenIssuer:   os.Getenv("AUTHCORE_TOKEN_ISSUER"),
		Providers:     map[string]ProviderCredentials{},
	}
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"AUTHCORE_TOKEN_TTL", &c.TokenTTL},
		{"AUTHCORE_TOKEN_LEEWAY", &c.TokenLeeway},
		{"AUTHCORE_SESSION_TTL", &c.SessionTTL},
		{"AUTHCORE_HANDSHAKE_TTL", &c.HandshakeTTL},
		{"AUTHCORE_PROVIDER_TIMEOUT", &c.ProviderTimeout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrConfig, d.env, err)
			}
			*d.dst = parsed
		}
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"AUTHCORE_PASSWORD_COST", &c.PasswordCost},
		{"AUTHCORE_MIN_PASSWORD_LENGTH", &c.MinPasswordLength},
	}
	for _, i := range ints {
		if v := os.Getenv(i.env); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrConfig, i.env, err)
			}
			*i.dst = parsed
		}
	}
	for _, name := range []string{"google", "github"} {
		prefix := "OAUTH2_" + strings.ToUpper(name) + "_"
		creds := ProviderCredentials{
			ClientID:     os.Getenv(prefix + "CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			CallbackURL:  os.Getenv(prefix + "CALLBACK_URL"),
		}
		if creds.Configured() {
			c.Providers[name] = creds
		}
	}
	return c, nil
}
