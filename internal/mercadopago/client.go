// Package mercadopago provides a Mercado Pago client for the Point terminal
// integration API and the payments API. Uses JSON with Bearer auth. No
// external SDK dependency; no business logic — reconciliation decisions live
// in internal/reconcile.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.mercadopago.com"

var (
	// ErrNotFound means the remote object no longer exists (e.g. the
	// terminal purged an intent).
	ErrNotFound = errors.New("mercadopago: not found")
	// ErrConflict is returned on 409, meaning the intent is actively
	// processing on the terminal. Callers decide whether to back off and
	// retry.
	ErrConflict = errors.New("mercadopago: conflict")
	// ErrUnavailable covers network failures and 5xx responses.
	ErrUnavailable = errors.New("mercadopago: gateway unavailable")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUnavailable reports whether err wraps ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// Client wraps all Mercado Pago API interactions for one store's credentials.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewClient creates a Mercado Pago client. baseURL overrides the production
// API host (used by tests); pass "" for production.
func NewClient(accessToken, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// doRequest makes a JSON request and decodes the response into out (if
// non-nil). Extra headers (e.g. X-Idempotency-Key) may be passed via headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w (%s %s)", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w (%s %s)", ErrConflict, method, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		return fmt.Errorf("mercadopago error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
	}
	return nil
}
