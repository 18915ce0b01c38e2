// Package ews talks Exchange Web Services over HTTP+SOAP: token
// exchange, folder enumeration, per-folder item sync, and full item
// fetch. Envelopes have a fixed shape; responses are decoded leniently
// so a missing optional node never fails a whole batch.
package ews

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// Rate-limit retry: the protocol call itself retries 429s with a
	// fixed long delay, independent of the drivers' outer retries.
	maxThrottleRetries = 3
	throttleDelay      = 10 * time.Second

	// Call pacing: roughly 100-250 ms between round trips, enforced as
	// a sustained-rate limiter rather than a per-call random sleep.
	paceInterval = 175 * time.Millisecond

	userAgent = "deltabridge/0.1"

	maxResponseBytes = 256 << 20 // 256 MiB; messages arrive base64-encoded inline
)

// Client issues SOAP calls against one EWS endpoint using application
// credentials with mailbox impersonation.
type Client struct {
	endpoint   string
	httpClient *http.Client
	token      oauth2.TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleepFunc waits between throttle retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an EWS client. The token source is owned by the
// caller and may be shared across invocations; oauth2 token sources
// cache tokens until expiry, so reuse avoids redundant auth round trips
// without any correctness dependence on it.
func NewClient(endpoint string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(paceInterval), 1),
		logger:     logger,
		sleepFunc:  sleepContext,
	}
}

// call posts one SOAP envelope for the given mailbox and returns the raw
// response body. 429 responses are retried with a fixed delay up to
// maxThrottleRetries times; other non-200 statuses fail the call.
func (c *Client) call(ctx context.Context, mailbox, body string) ([]byte, error) {
	envelope := wrapSoap(mailbox, body)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ews: pacing wait: %w", err)
		}

		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("ews: obtaining token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(envelope))
		if err != nil {
			return nil, fmt.Errorf("ews: creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("X-AnchorMailbox", mailbox)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ews: posting envelope: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxThrottleRetries {
			resp.Body.Close()

			c.logger.Warn("throttled by EWS, backing off",
				slog.String("mailbox", mailbox),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", throttleDelay),
			)

			if err := c.sleepFunc(ctx, throttleDelay); err != nil {
				return nil, fmt.Errorf("ews: request canceled: %w", err)
			}

			continue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet := raw
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}

			return nil, fmt.Errorf("ews: HTTP %d from %s: %s", resp.StatusCode, c.endpoint, snippet)
		}

		if readErr != nil {
			return nil, fmt.Errorf("ews: reading response: %w", readErr)
		}

		return raw, nil
	}
}

// sleepContext waits for d or until the context is canceled.
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
