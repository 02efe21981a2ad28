// Package oauth2 provides identity providers for federated login with
// Google and GitHub, built on golang.org/x/oauth2. Every provider uses
// PKCE (S256) with the verifier held by the handshake.
package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	ac "github.com/panyam/authcore"
)

// BaseOAuth2 holds the client settings shared by all providers.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// HTTPClient is used for the token exchange and user info calls.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
}

// NewBaseOAuth2 builds the client settings. Empty values fall back to
// OAUTH2_<PREFIX>_CLIENT_ID, _CLIENT_SECRET and _CALLBACK_URL.
func NewBaseOAuth2(envPrefix string, creds ac.ProviderCredentials, endpoint oauth2.Endpoint, scopes []string) *BaseOAuth2 {
	env := func(name string) string {
		return strings.TrimSpace(os.Getenv("OAUTH2_" + envPrefix + "_" + name))
	}
	if creds.ClientID == "" {
		creds.ClientID = env("CLIENT_ID")
	}
	if creds.ClientSecret == "" {
		creds.ClientSecret = env("CLIENT_SECRET")
	}
	if creds.CallbackURL == "" {
		creds.CallbackURL = env("CALLBACK_URL")
	}
	return &BaseOAuth2{
		ClientId:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		CallbackURL:  creds.CallbackURL,
		oauthConfig: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.CallbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// SetEndpoint overrides the authorization and token URLs.
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// Scopes returns the scopes requested at authorization time.
func (b *BaseOAuth2) Scopes() []string {
	return append([]string(nil), b.oauthConfig.Scopes...)
}

// AuthCodeURL returns the provider's consent URL for h.
func (b *BaseOAuth2) AuthCodeURL(h *ac.Handshake) string {
	return b.oauthConfig.AuthCodeURL(h.State, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(h.CodeVerifier))
}

func (b *BaseOAuth2) withClient(ctx context.Context) context.Context {
	if b.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
}

// exchangeCode trades code for a token and returns a client authorized with it.
func (b *BaseOAuth2) exchangeCode(ctx context.Context, code string, h *ac.Handshake) (*http.Client, error) {
	ctx = b.withClient(ctx)
	token, err := b.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(h.CodeVerifier))
	if err != nil {
		return nil, err
	}
	return b.oauthConfig.Client(ctx, token), nil
}
