// Package ratelimit provides the rate limiting used by the HTTP API and the
// realtime gateway.
//
// Keys are opaque strings built by callers: "ip:<addr>" for HTTP requests and
// "conn:<id>" for gateway connections.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Forget drops any state held for key, e.g. when a connection closes.
	Forget(key string)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Forget is a no-op.
func (NoopLimiter) Forget(string) {}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
