package mojang

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lodestone-mc/lodestone/internal/backoff"
)

const (
	// requestTimeout bounds a single metadata request.
	requestTimeout = 30 * time.Second

	// retryAfterCap bounds server-requested retry delays.
	retryAfterCap = 60 * time.Second

	// maxErrorBodySize limits how much of an error response body is read
	// for diagnostics.
	maxErrorBodySize = 4096

	userAgent = "lodestone"
)

// Client is a retrying HTTP client for the Mojang metadata endpoints.
// Transient failures (network errors, 408, 429, 5xx) are retried with
// exponential backoff; a Retry-After header takes precedence over the
// computed delay.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	policy      backoff.Policy
	manifestURL string

	// sleepFunc is replaceable for testing.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a metadata client using the default retry policy.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		logger:      logger,
		policy:      backoff.Default(),
		manifestURL: ManifestURL,
		sleepFunc:   backoff.Sleep,
	}
}

// Get issues a GET request to the given URL and returns the response with
// an open body on success. The caller must close the body. Non-2xx
// responses are returned as *APIError after the body has been drained.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	attempts := c.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("mojang: creating request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			lastErr = fmt.Errorf("mojang: request to %s failed: %w", url, err)
			if attempt == attempts-1 {
				return nil, lastErr
			}

			if sleepErr := c.sleepFunc(ctx, c.policy.Delay(attempt)); sleepErr != nil {
				return nil, sleepErr
			}

			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Message:    strings.TrimSpace(string(body)),
			Err:        classifyStatus(resp.StatusCode),
		}

		if !isRetryable(resp.StatusCode) || attempt == attempts-1 {
			return nil, apiErr
		}

		lastErr = apiErr

		delay := c.policy.Delay(attempt)
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > delay {
			delay = ra
		}

		c.logger.Warn("metadata request failed, retrying",
			"url", url,
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		if sleepErr := c.sleepFunc(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, lastErr
}

// GetJSON fetches the given URL and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("mojang: decoding response from %s: %w: %w", url, ErrMalformed, err)
	}

	return nil
}

// GetBytes fetches the given URL and returns the full response body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mojang: reading response from %s: %w", url, err)
	}

	return data, nil
}

// parseRetryAfter parses a Retry-After header value in seconds form.
// Returns 0 if the header is absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}

	d := time.Duration(secs) * time.Second
	if d > retryAfterCap {
		return retryAfterCap
	}

	return d
}
