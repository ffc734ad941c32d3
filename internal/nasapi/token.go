package nasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// RefreshingToken is a TokenSource backed by a long-lived refresh token. On
// Refresh it exchanges the refresh token for a fresh access token at the
// auth endpoint; concurrent refreshes are serialized so only one exchange
// hits the server.
type RefreshingToken struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	access  string
	refresh string
}

// NewRefreshingToken creates a RefreshingToken seeded with the current access
// and refresh tokens.
func NewRefreshingToken(baseURL, accessToken, refreshToken string, httpClient *http.Client) *RefreshingToken {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &RefreshingToken{
		baseURL:    baseURL,
		httpClient: httpClient,
		access:     accessToken,
		refresh:    refreshToken,
	}
}

// Token returns the current access token.
func (t *RefreshingToken) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.access == "" {
		return "", fmt.Errorf("nasapi: no access token available")
	}

	return t.access, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges the refresh token for a new access token. A rotated
// refresh token in the response replaces the stored one.
func (t *RefreshingToken) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refresh == "" {
		return fmt.Errorf("nasapi: no refresh token: %w", ErrUnauthorized)
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: t.refresh})
	if err != nil {
		return fmt.Errorf("nasapi: encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/api/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("nasapi: creating refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nasapi: token refresh: %w", ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    "token refresh rejected",
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("nasapi: decoding refresh response: %w", err)
	}

	t.access = parsed.AccessToken

	if parsed.RefreshToken != "" {
		t.refresh = parsed.RefreshToken
	}

	return nil
}
