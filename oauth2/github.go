package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2/github"

	ac "github.com/panyam/authcore"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// APIURL is the base of the GitHub REST API. Can be overridden for testing.
	APIURL string
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func NewGithubOAuth2(creds ac.ProviderCredentials) *GithubOAuth2 {
	return &GithubOAuth2{
		BaseOAuth2: NewBaseOAuth2("GITHUB", creds, github.Endpoint, []string{"read:user", "user:email"}),
		APIURL:     "https://api.github.com",
	}
}

func (g *GithubOAuth2) Name() string { return "github" }

// Exchange redeems code, then reads /user and /user/emails. The primary
// verified address wins; otherwise the public profile email is used
// unverified.
func (g *GithubOAuth2) Exchange(ctx context.Context, code string, h *ac.Handshake) (*ac.ProviderIdentity, error) {
	client, err := g.exchangeCode(ctx, code, h)
	if err != nil {
		return nil, fmt.Errorf("github code exchange: %w", err)
	}

	var user githubUser
	if err := getJSON(ctx, client, g.APIURL+"/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github user has no id")
	}
	identity := &ac.ProviderIdentity{
		Provider:  g.Name(),
		Subject:   strconv.FormatInt(user.ID, 10),
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if identity.Name == "" {
		identity.Name = user.Login
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, g.APIURL+"/user/emails", &emails); err != nil {
		if ctx.Err() != nil || !emailsDeclined(err) {
			return nil, fmt.Errorf("failed to get github emails: %w", err)
		}
		return identity, nil
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			identity.Email, identity.EmailVerified = e.Email, true
			break
		}
	}
	return identity, nil
}

// emailsDeclined reports whether the emails endpoint refused the token,
// as it does when the user:email scope was not granted.
func emailsDeclined(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusNotFound
}
