package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// UserAgent is sent on every request; the retailer endpoints are public but
// reject clients that look like bots.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// StatusError reports a non-200 response. Adapters use it to tell a failed
// required request (abort the pass) from a failed optional category fetch
// (skip and continue).
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Client is the rate-limited HTTP client shared by the JSON-speaking
// adapters. The limiter paces the Tigros probe loop in particular, which
// can issue hundreds of requests in one discovery pass.
type Client struct {
	hc      *http.Client
	limiter *rate.Limiter
}

func NewClient(timeout time.Duration, requestsPerSecond float64) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	return &Client{
		hc:      &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("malformed response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.hc.Do(req)
}
