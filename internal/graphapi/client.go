package graphapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "deltabridge/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// "accept interfaces, return structs"; golang.org/x/oauth2 token sources
// satisfy it through a thin adapter.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Microsoft Graph API. It handles
// request construction, authentication, retry with exponential backoff,
// and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph API client.
// baseURL is typically "https://graph.microsoft.com/v1.0".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  sleepContext,
	}
}

// do executes a GET against the Graph API with retries. The path is
// appended to the client's base URL. The caller closes the response body.
func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	reqURL := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graphapi: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("graphapi: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("graphapi: GET %s failed after %d retries: %w", path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := resp.Header.Get("request-id")

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("graphapi: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single request (no retry).
func (c *Client) doOnce(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff for a retryable response, honoring a
// Retry-After header on 429s.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// stripBaseURL converts a full continuation URL from an API response into
// a path relative to the client's base URL. Continuation URLs point at
// the same host; anything else is rejected.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if strings.HasPrefix(fullURL, c.baseURL) {
		return strings.TrimPrefix(fullURL, c.baseURL), nil
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return "", fmt.Errorf("parsing continuation URL: %w", err)
	}

	if u.Host != base.Host {
		return "", fmt.Errorf("continuation URL host %q does not match API host %q", u.Host, base.Host)
	}

	path := strings.TrimPrefix(u.Path, base.Path)
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return path, nil
}

// sleepContext waits for d or until the context is canceled. It is the
// default sleepFunc for Client.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
