package keap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"keap-export/config"
)

// Doer issues one authenticated request against the Keap API. The
// fetcher consumes this narrow interface so tests can substitute a
// scripted transport.
type Doer interface {
	Do(ctx context.Context, method, path string, params url.Values) (*http.Response, error)
}

// Client is the authenticated Keap HTTP client. It prefers the legacy
// service account key when configured and falls back to OAuth bearer
// tokens with refresh-on-401.
type Client struct {
	settings *config.Settings
	http     *http.Client
	base     string

	mu     sync.Mutex
	bundle *TokenBundle
}

// NewClient constructs a Client. A nil httpClient gets a default with
// the configured request timeout.
func NewClient(settings *config.Settings, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.HTTPTimeout}
	}
	return &Client{
		settings: settings,
		http:     httpClient,
		base:     strings.TrimRight(settings.BaseURL, "/"),
	}
}

func (c *Client) headers(ctx context.Context, req *http.Request) error {
	req.Header.Set("Accept", "application/json")
	if c.settings.APIKey != "" {
		req.Header.Set("X-Keap-API-Key", c.settings.APIKey)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bundle == nil {
		tb, err := LoadTokenBundle(c.settings)
		if err != nil {
			return err
		}
		if tb == nil {
			return fmt.Errorf("%w: no API key and no OAuth tokens found (run initial auth)", ErrAuthExpired)
		}
		c.bundle = tb
	}
	if c.bundle.Expired() {
		tb, err := RefreshTokens(ctx, c.settings, c.bundle.RefreshToken)
		if err != nil {
			return err
		}
		c.bundle = tb
	}
	req.Header.Set("Authorization", "Bearer "+c.bundle.AccessToken)
	return nil
}

// refresh forces a token refresh after an unexpected 401.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bundle == nil {
		return fmt.Errorf("%w: no OAuth tokens to refresh", ErrAuthExpired)
	}
	tb, err := RefreshTokens(ctx, c.settings, c.bundle.RefreshToken)
	if err != nil {
		return err
	}
	c.bundle = tb
	return nil
}

// Do issues one request. On a 401 in OAuth mode it refreshes the token
// and retries the same request exactly once; a second 401 surfaces as
// ErrAuthExpired. The page offset is never advanced by this path.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	resp, err := c.do(ctx, method, path, params)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.settings.APIKey == "" {
		resp.Body.Close()
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = c.do(ctx, method, path, params)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: still unauthorized after token refresh", ErrAuthExpired)
		}
	} else if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: API key rejected", ErrAuthExpired)
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	reqURL := c.base + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if err := c.headers(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	return resp, nil
}
