package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the
	// initial attempt). Default: 3
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// ShouldRetry decides whether a response (or transport error) should
	// trigger a retry. If nil, transport errors and 5xx responses retry.
	ShouldRetry func(*http.Response, error) bool
}

// DefaultRetryConfig returns a retry config with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy is an http.RoundTripper that retries failed requests with
// exponential backoff.
//
// The gateway applies no retries by default; resilience is an explicit,
// opt-in policy wired via WithTransport:
//
//	policy := httpx.NewRetryPolicy(http.DefaultTransport, httpx.DefaultRetryConfig())
//	session, err := httpx.NewSession(httpx.WithTransport(policy))
type RetryPolicy struct {
	next   http.RoundTripper
	config RetryConfig
}

// NewRetryPolicy wraps next with retry behavior.
func NewRetryPolicy(next http.RoundTripper, config RetryConfig) *RetryPolicy {
	if next == nil {
		next = http.DefaultTransport
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{next: next, config: config}
}

// RoundTrip implements http.RoundTripper. The incoming request is never
// mutated; each attempt runs on a clone with a fresh body.
func (p *RetryPolicy) RoundTrip(req *http.Request) (*http.Response, error) {
	// Requests with a body must be replayable across attempts. GetBody is
	// already set for the common body types; buffer only without it.
	getBody := req.GetBody
	if getBody == nil && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	var lastResp *http.Response
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		attemptReq := req.Clone(req.Context())
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			attemptReq.Body = body
			attemptReq.GetBody = getBody
		}

		lastResp, lastErr = p.next.RoundTrip(attemptReq)
		if !p.shouldRetry(lastResp, lastErr) {
			return lastResp, lastErr
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		// The response body must be drained before the connection can be
		// reused for the next attempt.
		if lastResp != nil {
			io.Copy(io.Discard, lastResp.Body)
			lastResp.Body.Close()
		}

		select {
		case <-time.After(backoff):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}

		backoff = time.Duration(float64(backoff) * p.config.BackoffMultiplier)
		if backoff > p.config.MaxBackoff {
			backoff = p.config.MaxBackoff
		}
	}

	return lastResp, lastErr
}

func (p *RetryPolicy) shouldRetry(resp *http.Response, err error) bool {
	if p.config.ShouldRetry != nil {
		return p.config.ShouldRetry(resp, err)
	}
	if err != nil {
		// Context cancellation is not retryable.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return resp.StatusCode >= 500
}
