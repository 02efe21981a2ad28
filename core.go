package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Stores are the persistence collaborators of a Core. Handshakes is only
// required when federated providers are added.
type Stores struct {
	Accounts   AccountStore
	Sessions   SessionStore
	Handshakes HandshakeStore
}

// Core wires the authenticators, token issuer, session manager and guard
// over a set of stores and exposes the full operation surface.
type Core struct {
	Tokens   *TokenIssuer
	Sessions *SessionManager
	Local    *LocalAuthenticator
	Guard    *Guard

	config     Config
	accounts   AccountStore
	handshakes HandshakeStore
	logger     *slog.Logger

	mu        sync.RWMutex
	federated map[string]*FederatedAuthenticator
}

// New builds a Core. A missing signing secret is generated; the only
// other failure is a broken entropy source or an invalid config.
func New(cfg Config, stores Stores) (*Core, error) {
	if stores.Accounts == nil || stores.Sessions == nil {
		return nil, fmt.Errorf("%w: account and session stores are required", ErrConfig)
	}
	if err := cfg.EnsureDefaults(); err != nil {
		return nil, err
	}

	tokens, err := NewTokenIssuer(cfg.SigningSecret, TokenOptions{
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
		Leeway: cfg.TokenLeeway,
		Now:    cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	local, err := NewLocalAuthenticator(stores.Accounts, &PasswordHasher{Cost: cfg.PasswordCost})
	if err != nil {
		return nil, err
	}
	local.MinPasswordLength = cfg.MinPasswordLength
	local.Now = cfg.Now
	local.Logger = cfg.Logger
	local.Metrics = cfg.Metrics

	sessions := &SessionManager{
		Store:   stores.Sessions,
		TTL:     cfg.SessionTTL,
		Now:     cfg.Now,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	}
	return &Core{
		Tokens:   tokens,
		Sessions: sessions,
		Local:    local,
		Guard: &Guard{
			Tokens:   tokens,
			Sessions: sessions,
			Accounts: stores.Accounts,
			Logger:   cfg.Logger,
			Metrics:  cfg.Metrics,
		},
		config:     cfg,
		accounts:   stores.Accounts,
		handshakes: stores.Handshakes,
		logger:     cfg.Logger,
		federated:  map[string]*FederatedAuthenticator{},
	}, nil
}

// AddProvider enables federated login through p.
func (c *Core) AddProvider(p IdentityProvider) error {
	if c.handshakes == nil {
		return fmt.Errorf("%w: a handshake store is required for federated login", ErrConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name := p.Name()
	if _, ok := c.federated[name]; ok {
		return fmt.Errorf("%w: provider %q already added", ErrConfig, name)
	}
	c.federated[name] = &FederatedAuthenticator{
		Provider:        p,
		Accounts:        c.accounts,
		Handshakes:      c.handshakes,
		HandshakeTTL:    c.config.HandshakeTTL,
		ProviderTimeout: c.config.ProviderTimeout,
		Now:             c.config.Now,
		Logger:          c.config.Logger,
		Metrics:         c.config.Metrics,
	}
	c.logger.Info("federated provider enabled", "provider", name)
	return nil
}

// Providers returns the names of the enabled providers, sorted.
func (c *Core) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.federated))
	for name := range c.federated {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Federated returns the authenticator for provider.
func (c *Core) Federated(provider string) (*FederatedAuthenticator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.federated[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return f, nil
}

// Register creates a local account.
func (c *Core) Register(ctx context.Context, handle, password string, profile Profile) (*Account, error) {
	return c.Local.Register(ctx, handle, password, profile)
}

// Login checks local credentials.
func (c *Core) Login(ctx context.Context, handle, password string) (*Account, error) {
	return c.Local.Login(ctx, handle, password)
}

// IssueToken mints a bearer token for accountID.
func (c *Core) IssueToken(accountID string) (string, error) {
	token, err := c.Tokens.Issue(accountID)
	c.config.Metrics.token("issue", err)
	return token, err
}

// VerifyToken returns the account id carried by token.
func (c *Core) VerifyToken(token string) (string, error) {
	id, err := c.Tokens.Verify(token)
	c.config.Metrics.token("verify", err)
	return id, err
}

// CreateSession starts a server-side session.
func (c *Core) CreateSession(ctx context.Context, accountID string) (string, error) {
	return c.Sessions.Create(ctx, accountID)
}

// ResolveSession returns the account id of a live session.
func (c *Core) ResolveSession(ctx context.Context, sessionID string) (string, error) {
	return c.Sessions.Resolve(ctx, sessionID)
}

// DestroySession ends a session. It is idempotent.
func (c *Core) DestroySession(ctx context.Context, sessionID string) error {
	return c.Sessions.Destroy(ctx, sessionID)
}

// StartFederatedLogin begins a handshake with provider.
func (c *Core) StartFederatedLogin(ctx context.Context, provider, redirectTarget string) (string, string, error) {
	f, err := c.Federated(provider)
	if err != nil {
		return "", "", err
	}
	return f.Start(ctx, redirectTarget)
}

// CompleteFederatedLogin finishes the handshake identified by state.
func (c *Core) CompleteFederatedLogin(ctx context.Context, provider, code, state string) (*Account, error) {
	f, err := c.Federated(provider)
	if err != nil {
		return nil, err
	}
	account, _, err := f.Complete(ctx, code, state)
	return account, err
}

// Authenticate resolves a request's proof to a Principal.
func (c *Core) Authenticate(ctx context.Context, proof Proof) (Principal, error) {
	return c.Guard.Authenticate(ctx, proof)
}

// RequireRole checks account against role.
func (c *Core) RequireRole(account *Account, role Role) error {
	return RequireRole(account, role)
}

// GetAccount loads an account by id.
func (c *Core) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return c.accounts.GetAccountByID(ctx, accountID)
}

// GetAccountByHandle loads an account by handle.
func (c *Core) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	return c.accounts.GetAccountByHandle(ctx, NormalizeHandle(handle))
}

// ChangePassword replaces a local password after checking the current one.
func (c *Core) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	return c.Local.ChangePassword(ctx, accountID, oldPassword, newPassword)
}

// SetPassword adds a local password to an account without one.
func (c *Core) SetPassword(ctx context.Context, accountID, password string) error {
	return c.Local.SetPassword(ctx, accountID, password)
}

// SetRole changes the role of an account.
func (c *Core) SetRole(ctx context.Context, accountID string, role Role) (*Account, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrConfig, role)
	}
	account, err := ModifyAccount(ctx, c.accounts, accountID, func(a *Account) error {
		a.Role = role
		a.UpdatedAt = c.config.Now()
		return nil
	})
	if err == nil {
		c.logger.Info("role changed", "account", accountID, "role", role)
	}
	return account, err
}

// DeactivateAccount disables an account and ends all its sessions. Its bearer
// tokens stop resolving at the guard.
func (c *Core) DeactivateAccount(ctx context.Context, accountID string) error {
	if err := c.setActive(ctx, accountID, false); err != nil {
		return err
	}
	return c.Sessions.DestroyAccount(ctx, accountID)
}

// ActivateAccount re-enables an account.
func (c *Core) ActivateAccount(ctx context.Context, accountID string) error {
	return c.setActive(ctx, accountID, true)
}

func (c *Core) setActive(ctx context.Context, accountID string, active bool) error {
	_, err := ModifyAccount(ctx, c.accounts, accountID, func(a *Account) error {
		a.Active = active
		a.UpdatedAt = c.config.Now()
		return nil
	})
	if err == nil {
		c.logger.Info("account activation changed", "account", accountID, "active", active)
	}
	return err
}

// Sweep deletes expired sessions and handshakes.
func (c *Core) Sweep(ctx context.Context) error {
	errs := []error{c.Sessions.Sweep(ctx)}
	if c.handshakes != nil {
		errs = append(errs, c.handshakes.DeleteExpiredHandshakes(ctx, c.config.Now()))
	}
	return errors.Join(errs...)
}
