package oauth2

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	ac "github.com/panyam/authcore"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// APIEndpoint overrides the base URL of the Google userinfo API.
	// Empty means production.
	APIEndpoint string
}

func NewGoogleOAuth2(creds ac.ProviderCredentials) *GoogleOAuth2 {
	return &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2("GOOGLE", creds, google.Endpoint, []string{
			"openid",
			googleoauth2.UserinfoEmailScope,
			googleoauth2.UserinfoProfileScope,
		}),
	}
}

func (g *GoogleOAuth2) Name() string { return "google" }

// Exchange redeems code and reads the user from the userinfo API.
func (g *GoogleOAuth2) Exchange(ctx context.Context, code string, h *ac.Handshake) (*ac.ProviderIdentity, error) {
	client, err := g.exchangeCode(ctx, code, h)
	if err != nil {
		return nil, fmt.Errorf("google code exchange: %w", err)
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.APIEndpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	return &ac.ProviderIdentity{
		Provider:      g.Name(),
		Subject:       info.Id,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail != nil && *info.VerifiedEmail,
		Name:          info.Name,
		AvatarURL:     info.Picture,
	}, nil
}
