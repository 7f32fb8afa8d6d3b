package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// TokenSource returns the bearer token to attach, if any.
type TokenSource func() (string, bool)

type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string

	token          TokenSource
	onUnauthorized func(endpoint string)
	authPrefix     string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		authPrefix: "/auth/",
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// SetHTTPClient swaps the underlying transport, mostly for tests.
func (c *BaseClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetTokenSource makes every request carry "Authorization: Bearer <token>".
func (c *BaseClient) SetTokenSource(src TokenSource) {
	c.token = src
}

// OnUnauthorized registers the session-expiry hook. It fires for 401 and 403
// responses on every endpoint outside the auth prefix.
func (c *BaseClient) OnUnauthorized(fn func(endpoint string)) {
	c.onUnauthorized = fn
}

// MakeRequest sends body (if non-nil) as JSON and decodes a 2xx response
// into out (if non-nil). Non-2xx responses come back as *APIError.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	if c.token != nil {
		if token, ok := c.token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(method, endpoint, resp.StatusCode, responseBody)
		log.Debug().
			Str("request_id", requestID).
			Str("method", method).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("request failed")

		if isAuthFailure(resp.StatusCode) && !strings.HasPrefix(endpoint, c.authPrefix) && c.onUnauthorized != nil {
			c.onUnauthorized(endpoint)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if s, ok := out.(*string); ok && !json.Valid(responseBody) {
		*s = string(responseBody)
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string, out any) error {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body, out)
}

func (c *BaseClient) Put(ctx context.Context, endpoint string, body, out any) error {
	return c.MakeRequest(ctx, http.MethodPut, endpoint, body, out)
}

func (c *BaseClient) Delete(ctx context.Context, endpoint string) error {
	return c.MakeRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
