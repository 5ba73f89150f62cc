// Package rates fetches the daily currency conversion rates from the
// configured HTTP endpoint.
package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// maxBodyBytes caps the response body; a year of daily rates is a few KB.
const maxBodyBytes = 10 << 20

// Client performs the single GET against the rate API.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, domain.Config("NewClient: rate API URL is empty")
	}
	if timeout <= 0 {
		return nil, domain.Config("NewClient: timeout must be positive, got %s", timeout)
	}
	return NewClientWithHTTP(url, &http.Client{Timeout: timeout}), nil
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(url string, hc *http.Client) *Client {
	return &Client{url: url, httpClient: hc}
}

// URL returns the endpoint the client calls.
func (c *Client) URL() string {
	return c.url
}

// Fetch retrieves the date to rate mapping. Transport failures and non-2xx
// responses are connectivity errors; a body that is not a date to rate
// mapping is a schema error.
func (c *Client) Fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, domain.Config("Fetch: building request for %q: %v", c.url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Connectivity(fmt.Errorf("Fetch: GET %s: %w", c.url, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Connectivity(fmt.Errorf("Fetch: reading body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.Connectivity(fmt.Errorf("Fetch: GET %s: unexpected status %s: %s",
			c.url, resp.Status, snippet(body)))
	}

	return Decode(body)
}

// snippet shortens a response body for error messages.
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
