// Package transport talks to the therapy chat HTTP API.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/google/uuid"
)

const maxResponseBody = 1 << 20

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// StatusError is a final non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Unwrap lets callers match every status failure with errors.Is(err, domain.ErrTransport).
func (e *StatusError) Unwrap() error { return domain.ErrTransport }

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// RetryPolicy bounds how often a request is re-sent.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is multiplied by the attempt number before each retry.
	BaseDelay time.Duration
}

// Doer sends requests with linear backoff between attempts.
type Doer struct {
	http   *http.Client
	policy RetryPolicy
	sleep  Sleeper
	logger *slog.Logger
}

// DoerOption customizes a Doer.
type DoerOption func(*Doer)

// WithSleeper replaces the backoff timer.
func WithSleeper(s Sleeper) DoerOption {
	return func(d *Doer) { d.sleep = s }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) DoerOption {
	return func(d *Doer) { d.http = c }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) DoerOption {
	return func(d *Doer) { d.logger = l }
}

// NewDoer creates a Doer with the given per-request timeout.
func NewDoer(policy RetryPolicy, timeout time.Duration, opts ...DoerOption) *Doer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	d := &Doer{
		http:   &http.Client{Timeout: timeout},
		policy: policy,
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Do sends the request, retrying network failures and 5xx answers. A 2xx or
// 4xx answer is returned as is. When every attempt fails the error wraps
// domain.ErrTransport.
func (d *Doer) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	requestID := uuid.NewString()
	attempts := d.policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := d.once(ctx, method, url, body, requestID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrTransport, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: %w", domain.ErrTransport, err)
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		default:
			return resp, nil
		}

		if attempt == attempts {
			break
		}
		delay := d.policy.BaseDelay * time.Duration(attempt)
		d.logger.Warn("request failed, retrying",
			"method", method,
			"url", url,
			"request_id", requestID,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
		}
	}
	return nil, lastErr
}

func (d *Doer) once(ctx context.Context, method, url string, body []byte, requestID string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
