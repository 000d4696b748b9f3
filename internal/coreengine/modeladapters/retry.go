package modeladapters

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Model-call retries live here in the adapters. The execution engine never
// retries; a call that exhausts its attempts surfaces as a per-step error.

var rateLimitKeywords = []string{
	"rate limit", "rate_limit", "quota", "429",
	"resource exhausted", "resource_exhausted", "resourceexhausted",
	"too many requests",
}

// IsRateLimitError reports whether an error looks like provider throttling.
// The SDKs disagree on error types, so this matches on message content.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range rateLimitKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// RetryPolicy bounds rate-limit retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the standard policy: five attempts, one second
// initial backoff, doubling up to a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// Do runs op, retrying only rate-limit errors. Any other error returns
// immediately. The backoff wait aborts early if ctx is cancelled; an
// in-flight call is never interrupted.
func (p RetryPolicy) Do(ctx context.Context, modelID string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRateLimitError(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		slog.Warn("rate limit hit, backing off",
			"model", modelID, "attempt", attempt, "max_attempts", attempts, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	slog.Error("all retry attempts exhausted", "model", modelID, "attempts", attempts)
	return lastErr
}
