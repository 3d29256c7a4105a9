// Package provider holds what the Shopify and Facebook clients share:
// retrying JSON GETs, cursor pagination with a page cap, and date ranges.
//
// ERROR KINDS:
//   - 401/403                     apperror.ErrAuth, never retried
//   - provider throttling         apperror.ErrRateLimited with RetryAfter, never retried here
//   - 5xx and transport failures  retried with exponential backoff and jitter
//   - anything else               *StatusError, not retried
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/telemetry"
)

const maxErrorBody = 4 << 10

// StatusError is a non-2xx response that no Classifier recognised.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool { return e.StatusCode >= 500 }

// Classifier inspects a non-2xx response and returns a typed error, or nil to
// let Client apply the generic mapping.
type Classifier func(resp *http.Response, body []byte) error

// Backoff retries transient failures: delay doubles from Base and a random
// jitter of up to Base is added.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoff makes 3 attempts.
var DefaultBackoff = Backoff{Attempts: 3, Base: 200 * time.Millisecond, Max: 5 * time.Second}

// Retry calls fn until it succeeds, returns a non-transient error, the
// attempts are exhausted, or ctx is done.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	attempts := max(b.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !Transient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := b.Base << i
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
		if b.Base > 0 {
			delay += rand.N(b.Base)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}

// Client performs authenticated JSON GETs against one provider.
type Client struct {
	HTTP     *http.Client
	Provider string
	Backoff  Backoff
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// GetJSON decodes a 2xx response from url into v and returns the response
// headers (pagination cursors live there for some providers).
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, classify Classifier, v any) (http.Header, error) {
	var respHeader http.Header
	err := c.Backoff.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%s: building request: %w", c.Provider, err)
		}
		for k, vals := range header {
			for _, val := range vals {
				req.Header.Add(k, val)
			}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			c.Metrics.ProviderRequest(c.Provider, 0)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Logger.Debug("provider request failed",
				slog.String("provider", c.Provider),
				slog.String("error", err.Error()),
			)
			return &transportError{fmt.Errorf("%s: request: %w", c.Provider, err)}
		}
		defer resp.Body.Close()
		c.Metrics.ProviderRequest(c.Provider, resp.StatusCode)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return fmt.Errorf("%s: decoding response: %w", c.Provider, err)
			}
			respHeader = resp.Header
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if classify != nil {
			if err := classify(resp, body); err != nil {
				if errors.Is(err, apperror.ErrRateLimited) {
					c.Metrics.RateLimited(c.Provider)
				}
				return err
			}
		}
		return c.classify(resp, body)
	})
	return respHeader, err
}

func (c *Client) classify(resp *http.Response, body []byte) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperror.Unauthorized(fmt.Sprintf("%s rejected the access token (%d)", c.Provider, resp.StatusCode))
	case http.StatusTooManyRequests:
		c.Metrics.RateLimited(c.Provider)
		return apperror.RateLimited(c.Provider, RetryAfterHeader(resp.Header, time.Minute))
	}
	return &StatusError{
		Provider:   c.Provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// RetryAfterHeader parses a Retry-After header given in seconds (fractions
// allowed) or as an HTTP date. def is returned when absent or unparsable.
func RetryAfterHeader(h http.Header, def time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return def
}
