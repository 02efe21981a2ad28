package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Federated defaults
const (
	DefaultHandshakeTTL    = 10 * time.Minute
	DefaultProviderTimeout = 10 * time.Second
)

// ProviderIdentity is what an identity provider asserts about the user
// after a successful code exchange.
type ProviderIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// IdentityProvider is an external OAuth provider.
type IdentityProvider interface {
	// Name is the provider key, e.g. "google".
	Name() string

	// Scopes requested at authorization time.
	Scopes() []string

	// AuthCodeURL returns the authorization URL for h, carrying its state
	// and the S256 challenge of its verifier.
	AuthCodeURL(h *Handshake) string

	// Exchange trades an authorization code for the user's identity.
	Exchange(ctx context.Context, code string, h *Handshake) (*ProviderIdentity, error)
}

// FederatedAuthenticator runs the login handshake against one IdentityProvider
// and reconciles the asserted identity with local accounts.
//
// An identity is only linked to an existing account with the same handle
// when the provider has verified the email. Otherwise Complete fails with
// ErrProviderError and the account is left as it was. Inactive accounts are
// never linked; Complete returns ErrInvalidCredential for them.
type FederatedAuthenticator struct {
	Provider        IdentityProvider
	Accounts        AccountStore
	Handshakes      HandshakeStore
	HandshakeTTL    time.Duration
	ProviderTimeout time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
	Metrics         *Metrics
}

func (f *FederatedAuthenticator) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func (f *FederatedAuthenticator) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

func (f *FederatedAuthenticator) handshakeTTL() time.Duration {
	if f.HandshakeTTL <= 0 {
		return DefaultHandshakeTTL
	}
	return f.HandshakeTTL
}

// HandshakeLifetime is how long a started handshake stays valid.
func (f *FederatedAuthenticator) HandshakeLifetime() time.Duration {
	return f.handshakeTTL()
}

func (f *FederatedAuthenticator) providerTimeout() time.Duration {
	if f.ProviderTimeout <= 0 {
		return DefaultProviderTimeout
	}
	return f.ProviderTimeout
}

// Start records a pending handshake and returns the provider URL to send
// the user to, together with the handshake state.
func (f *FederatedAuthenticator) Start(ctx context.Context, redirectTarget string) (string, string, error) {
	name := f.Provider.Name()
	for attempt := 0; attempt < 2; attempt++ {
		state, err := GenerateSecureToken()
		if err != nil {
			return "", "", err
		}
		now := f.now()
		h := &Handshake{
			State:          state,
			Provider:       name,
			Scopes:         f.Provider.Scopes(),
			RedirectTarget: SafeRedirectTarget(redirectTarget),
			CodeVerifier:   oauth2.GenerateVerifier(),
			CreatedAt:      now,
			ExpiresAt:      now.Add(f.handshakeTTL()),
		}
		err = f.Handshakes.SaveHandshake(ctx, h)
		if errors.Is(err, ErrHandshakeExists) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to save handshake: %w", err)
		}
		f.Metrics.handshake(name, "started")
		return f.Provider.AuthCodeURL(h), state, nil
	}
	return "", "", fmt.Errorf("failed to save handshake: %w", ErrHandshakeExists)
}

// Complete consumes the handshake for state, exchanges code with the
// provider and returns the reconciled account.
func (f *FederatedAuthenticator) Complete(ctx context.Context, code, state string) (account *Account, h *Handshake, err error) {
	name := f.Provider.Name()
	defer func() {
		f.Metrics.login(name, err)
		switch {
		case err == nil:
			f.Metrics.handshake(name, "resolved")
		case errors.Is(err, ErrStateMismatch):
			f.Metrics.handshake(name, "state_mismatch")
		case errors.Is(err, ErrExpired):
			f.Metrics.handshake(name, "expired")
		default:
			f.Metrics.handshake(name, "failed")
		}
	}()

	if state == "" {
		return nil, nil, ErrStateMismatch
	}
	h, err = f.Handshakes.ConsumeHandshake(ctx, state, f.now())
	if err != nil {
		return nil, nil, err
	}
	if h.Provider != name {
		return nil, nil, fmt.Errorf("%w: state issued for %s", ErrStateMismatch, h.Provider)
	}
	if code == "" {
		return nil, nil, providerError(errors.New("missing authorization code"))
	}

	identity, err := f.exchange(ctx, code, h)
	if err != nil {
		return nil, nil, err
	}

	account, err = f.reconcile(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	if !account.Active {
		return nil, nil, ErrInvalidCredential
	}

	updated, err := ModifyAccount(ctx, f.Accounts, account.ID, func(a *Account) error {
		now := f.now()
		a.LastAuthenticatedAt = &now
		a.UpdatedAt = now
		if a.AvatarURL == "" {
			a.AvatarURL = identity.AvatarURL
		}
		return nil
	})
	if err != nil {
		f.logger().Warn("failed to record federated login", "account", account.ID, "err", err)
		return account, h, nil
	}
	return updated, h, nil
}

func (f *FederatedAuthenticator) exchange(ctx context.Context, code string, h *Handshake) (*ProviderIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, f.providerTimeout())
	defer cancel()

	start := time.Now()
	identity, err := f.Provider.Exchange(ctx, code, h)
	f.Metrics.exchange(h.Provider, start)
	if err != nil {
		f.logger().Warn("provider exchange failed", "provider", h.Provider, "err", err)
		return nil, providerError(err)
	}
	if identity == nil || identity.Subject == "" {
		return nil, providerError(errors.New("provider returned no subject"))
	}
	identity.Provider = h.Provider
	return identity, nil
}

// reconcile maps a provider identity onto an account: reuse by federated
// id, else link by handle, else create.
func (f *FederatedAuthenticator) reconcile(ctx context.Context, identity *ProviderIdentity) (*Account, error) {
	account, err := f.Accounts.GetAccountByFederatedID(ctx, identity.Provider, identity.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	handle := NormalizeHandle(identity.Email)
	if err := ValidateHandle(handle); err != nil {
		return nil, providerError(fmt.Errorf("no usable email asserted: %w", err))
	}

	for attempt := 0; attempt < 2; attempt++ {
		account, err = f.linkByHandle(ctx, handle, identity)
		if err == nil || !errors.Is(err, ErrAccountNotFound) {
			return account, err
		}

		account, err = f.create(ctx, handle, identity)
		switch {
		case err == nil:
			return account, nil
		case errors.Is(err, ErrFederatedIDExists):
			// a concurrent callback created the account for this identity
			return f.Accounts.GetAccountByFederatedID(ctx, identity.Provider, identity.Subject)
		case errors.Is(err, ErrConflict):
			// lost the handle race; link to the winner
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrConflict
}

func (f *FederatedAuthenticator) linkByHandle(ctx context.Context, handle string, identity *ProviderIdentity) (*Account, error) {
	existing, err := f.Accounts.GetAccountByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !identity.EmailVerified {
		return nil, providerError(fmt.Errorf("email %s is not verified by %s", handle, identity.Provider))
	}
	if !existing.Active {
		return nil, ErrInvalidCredential
	}

	fid := FederatedIdentity{Provider: identity.Provider, Subject: identity.Subject}
	if existing.Federated != nil && *existing.Federated == fid {
		return existing, nil
	}
	linked, err := ModifyAccount(ctx, f.Accounts, existing.ID, func(a *Account) error {
		if !a.Active {
			return ErrInvalidCredential
		}
		switch a.Credentials() {
		case CredentialNone, CredentialLocal:
			a.Federated = &fid
			a.UpdatedAt = f.now()
			if a.AvatarURL == "" {
				a.AvatarURL = identity.AvatarURL
			}
			return nil
		case CredentialFederated, CredentialBoth:
			if *a.Federated == fid {
				return nil
			}
			return fmt.Errorf("%w: %s is bound to another %s identity", ErrConflict, handle, a.Federated.Provider)
		}
		return fmt.Errorf("unknown credential kind %v", a.Credentials())
	})
	if err != nil {
		return nil, err
	}
	f.logger().Info("linked federated identity", "account", linked.ID, "handle", handle, "provider", identity.Provider)
	return linked, nil
}

func (f *FederatedAuthenticator) create(ctx context.Context, handle string, identity *ProviderIdentity) (*Account, error) {
	now := f.now()
	account := &Account{
		ID:          newAccountID(),
		Handle:      handle,
		Federated:   &FederatedIdentity{Provider: identity.Provider, Subject: identity.Subject},
		DisplayName: strings.TrimSpace(identity.Name),
		AvatarURL:   identity.AvatarURL,
		Role:        RoleOrdinary,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if account.DisplayName == "" {
		account.DisplayName = handle[:strings.Index(handle, "@")]
	}
	if err := f.Accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	f.logger().Info("created federated account", "account", account.ID, "handle", handle, "provider", identity.Provider)
	return account, nil
}

// SafeRedirectTarget returns target when it is a local absolute path and "/"
// otherwise.
func SafeRedirectTarget(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}
