package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	ac "github.com/panyam/authcore"
)

// maxResponseSize bounds provider API responses.
const maxResponseSize = 1 << 20

// statusError is a provider API response other than 200.
type statusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return nil
}

// ProvidersFromConfig builds a provider for every configured entry of
// cfg.Providers that this package knows.
func ProvidersFromConfig(cfg *ac.Config) []ac.IdentityProvider {
	var out []ac.IdentityProvider
	if creds, ok := cfg.Providers["google"]; ok && creds.Configured() {
		out = append(out, NewGoogleOAuth2(creds))
	}
	if creds, ok := cfg.Providers["github"]; ok && creds.Configured() {
		out = append(out, NewGithubOAuth2(creds))
	}
	return out
}
