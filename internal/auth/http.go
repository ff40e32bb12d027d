package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lodestone-mc/lodestone/internal/backoff"
)

const maxErrorBodySize = 4096

// httpStatusError is a non-2xx response from one of the chain services.
// Body is kept so callers can decode service-specific error payloads.
type httpStatusError struct {
	URL    string
	Status int
	Body   []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("auth: HTTP %d from %s", e.Status, e.URL)
}

// retryableAuthErr decides whether a failed chain request is transient.
func retryableAuthErr(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusRequestTimeout ||
			statusErr.Status == http.StatusTooManyRequests ||
			statusErr.Status >= http.StatusInternalServerError
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// postJSON sends a JSON payload and decodes the JSON response, retrying
// transient failures under the broker's policy.
func (b *Broker) postJSON(ctx context.Context, requestURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("auth: encoding request: %w", err)
	}

	return backoff.Retry(ctx, b.policy, retryableAuthErr, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("auth: creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		return b.doJSON(req, out)
	})
}

// getJSON fetches a JSON document with a bearer token, retrying transient
// failures under the broker's policy.
func (b *Broker) getJSON(ctx context.Context, requestURL, bearer string, out any) error {
	return backoff.Retry(ctx, b.policy, retryableAuthErr, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("auth: creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)

		return b.doJSON(req, out)
	})
}

// doJSON executes one request and decodes a 2xx response into out.
func (b *Broker) doJSON(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &httpStatusError{URL: req.URL.String(), Status: resp.StatusCode, Body: body}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("auth: decoding response from %s: %w", req.URL, err)
	}

	return nil
}
