package nasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// userAgent identifies this client to the NAS.
const userAgent = "baluhost-sync/1.0"

// TokenSource supplies bearer tokens for requests. Refresh is invoked at most
// once per request when the server answers 401; a second 401 propagates.
type TokenSource interface {
	Token() (string, error)
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenSource with no refresh capability, for tests and
// pre-provisioned device tokens.
type StaticToken string

// Token returns the static token value.
func (t StaticToken) Token() (string, error) { return string(t), nil }

// Refresh always fails: a static token cannot be renewed.
func (t StaticToken) Refresh(context.Context) error {
	return fmt.Errorf("nasapi: static token cannot be refreshed: %w", ErrUnauthorized)
}

// Client talks to the BaluHost file API. It classifies HTTP failures into
// sentinel errors and transparently retries a request once after refreshing
// an expired token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// NewClient creates a Client for the given base URL. httpClient may carry a
// caller-chosen timeout; when nil a client with DefaultTimeout is used.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// do sends an authenticated JSON request and returns the response on 2xx.
// On 401 the token is refreshed once and the request replayed; any further
// 401 propagates as ErrUnauthorized. Non-2xx responses are closed and
// returned as *APIError. Transport failures wrap ErrNetwork.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return c.checkStatus(resp)
	}

	// Single refresh-and-replay on token expiry.
	drainClose(resp)

	c.logger.Debug("token expired, refreshing", slog.String("path", path))

	if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
		return nil, fmt.Errorf("nasapi: refreshing token: %w", errors.Join(refreshErr, ErrUnauthorized))
	}

	resp, err = c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	return c.checkStatus(resp)
}

// send builds and executes one authenticated request attempt.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("nasapi: creating request %s %s: %w", method, path, err)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("nasapi: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("nasapi: %s %s: %w", method, path, errors.Join(err, ErrNetwork))
	}

	return resp, nil
}

// checkStatus converts non-2xx responses into *APIError and closes the body.
func (c *Client) checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best-effort read for error message
	resp.Body.Close()

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nasapi: decoding response for %s: %w", path, err)
	}

	return nil
}

// postJSON issues a POST with a JSON body; when out is non-nil the response
// is decoded into it, otherwise the body is drained for connection reuse.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("nasapi: marshaling request for %s: %w", path, err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		drainBody(resp)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nasapi: decoding response for %s: %w", path, err)
	}

	return nil
}

// Health probes the NAS health endpoint. A nil return means reachable and
// authenticated; it is the connectivity signal's probe function.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	drainBody(resp)

	return nil
}

// drainBody discards the remaining body so the connection can be reused.
func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
}

// drainClose drains and closes the body.
func drainClose(resp *http.Response) {
	drainBody(resp)
	resp.Body.Close()
}

// queryPath builds an endpoint path with an escaped path query parameter.
func queryPath(endpoint, remotePath string) string {
	return endpoint + "?path=" + url.QueryEscape(remotePath)
}
