package utterance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RetryPolicy controls retries of transient backend failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries twice with 2s, 4s backoff capped at 15s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 2,
	BaseDelay:  2 * time.Second,
	MaxDelay:   15 * time.Second,
}

// WithRetry wraps g so transient failures are retried with exponential
// backoff. The result also implements Summarizer when g does.
func WithRetry(g Generator, policy RetryPolicy, logger *slog.Logger) Generator {
	if policy.MaxRetries <= 0 {
		return g
	}
	r := &retrying{next: g, policy: policy, logger: logger}
	if s, ok := g.(Summarizer); ok {
		return &retryingSummarizer{retrying: r, sum: s}
	}
	return r
}

type retrying struct {
	next   Generator
	policy RetryPolicy
	logger *slog.Logger
}

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	return r.run(ctx, "generate", func() (string, error) {
		return r.next.Generate(ctx, req)
	}, slog.String("session_id", req.SessionID), slog.String("role", req.Persona.Role))
}

type retryingSummarizer struct {
	*retrying
	sum Summarizer
}

func (r *retryingSummarizer) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	return r.run(ctx, "summarize", func() (string, error) {
		return r.sum.Summarize(ctx, req)
	}, slog.String("session_id", req.SessionID))
}

func (r *retrying) run(ctx context.Context, op string, fn func() (string, error), attrs ...any) (string, error) {
	result, err := fn()
	if err == nil || !IsRetryable(err) {
		return result, err
	}

	lastErr := err
	for i := 1; i <= r.policy.MaxRetries; i++ {
		delay := r.policy.BaseDelay * time.Duration(1<<(i-1))
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
		r.logger.Warn("utterance: retrying",
			append([]any{"op", op, "attempt", i, "max_retries", r.policy.MaxRetries, "delay", delay, "error", lastErr}, attrs...)...)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("utterance: %s failed after %d retries: %w", op, r.policy.MaxRetries, lastErr)
}

// IsRetryable reports whether err looks transient. Cancellation, deadlines
// and client errors other than 408/429 are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
			return true
		case se.StatusCode >= 400 && se.StatusCode < 500:
			return false
		}
	}
	return true
}
