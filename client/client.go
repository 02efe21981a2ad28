package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/panyam/authcore/httpauth"
)

// ErrNotLoggedIn is returned by calls that need a stored credential.
var ErrNotLoggedIn = errors.New("not logged in")

// ResponseError is a failed call, carrying the server's AuthError.
type ResponseError struct {
	StatusCode int
	*httpauth.AuthError
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (HTTP %d, %s)", e.Message, e.StatusCode, e.Code)
}

// AuthClient calls the auth routes of one server and authenticates other
// requests to it with the stored bearer token.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	authPath      string
	now           func() time.Time
}

type ClientOption func(*AuthClient)

// WithAuthPath sets where the auth routes are mounted. Defaults to "/auth".
func WithAuthPath(path string) ClientOption {
	return func(c *AuthClient) {
		c.authPath = path
	}
}

// WithTransport sets the transport wrapped by the client.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every request of the client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.httpClient.Timeout = d
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *AuthClient) {
		c.now = now
	}
}

// NewAuthClient returns a client for serverURL. Only the scheme and host of
// serverURL are kept.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		authPath:      "/auth",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &tokenTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns an http.Client that adds the stored bearer token.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored access token, or "" when there is none. An
// expired credential is removed.
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return "", err
	}
	if cred.IsExpired(c.now()) {
		if err := c.forgetLocked(); err != nil {
			return "", err
		}
		return "", nil
	}
	return cred.AccessToken, nil
}

func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn reports whether an unexpired credential is stored.
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.GetToken()
	return err == nil && token != ""
}

// Register creates a local account and stores its token.
func (c *AuthClient) Register(ctx context.Context, handle, password, displayName string) (*httpauth.AccountView, error) {
	return c.signIn(ctx, "/register", map[string]string{
		"handle":       handle,
		"password":     password,
		"display_name": displayName,
	})
}

// Login authenticates with a handle and password and stores the token.
func (c *AuthClient) Login(ctx context.Context, handle, password string) (*httpauth.AccountView, error) {
	return c.signIn(ctx, "/login", map[string]string{
		"handle":   handle,
		"password": password,
	})
}

func (c *AuthClient) signIn(ctx context.Context, path string, body map[string]string) (*httpauth.AccountView, error) {
	var resp httpauth.LoginResponse
	// the base transport skips the token of a previous login
	raw := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	if err := c.call(ctx, raw, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	cred := &ServerCredential{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		AccountID:   resp.Account.ID,
		Handle:      resp.Account.Handle,
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt:   now,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return &resp.Account, nil
}

// Me returns the account the stored token belongs to.
func (c *AuthClient) Me(ctx context.Context) (*httpauth.AccountView, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var account httpauth.AccountView
	if err := c.call(ctx, c.httpClient, http.MethodGet, "/me", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ChangePassword replaces the password of the logged in account. oldPassword
// is ignored by the server when the account has none yet.
func (c *AuthClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return c.call(ctx, c.httpClient, http.MethodPost, "/password", map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}, nil)
}

// Logout forgets the stored credential. Bearer tokens are not revocable, so
// the server is not contacted.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forgetLocked()
}

func (c *AuthClient) forgetLocked() error {
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

func (c *AuthClient) call(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.authPath+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		authErr := &httpauth.AuthError{}
		if json.Unmarshal(data, authErr) != nil || authErr.Code == "" {
			authErr = httpauth.NewAuthError(httpauth.ErrCodeInternal, http.StatusText(resp.StatusCode), "")
		}
		return &ResponseError{StatusCode: resp.StatusCode, AuthError: authErr}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// tokenTransport adds the stored token. A bearer challenge in reply to an
// authenticated request means the server no longer accepts the token, so it
// is forgotten.
type tokenTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" && resp.Header.Get("WWW-Authenticate") != "" {
		t.client.mu.Lock()
		err := t.client.forgetLocked()
		t.client.mu.Unlock()
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}
