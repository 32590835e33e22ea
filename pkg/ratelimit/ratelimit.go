// Package ratelimit wraps external-API calls with a token-bucket limiter so
// callers await tokens instead of having requests silently dropped (§5:
// "Rate limiting... Callers await tokens; no silent dropping"). Shape
// grounded on the Polymarket client's limiter-wrapped request helpers.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter wraps a golang.org/x/time/rate.Limiter with the concurrent/
// per-second budgets named in §5: blockchain API <= 5 concurrent/sec,
// order API <= 20 concurrent/sec.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing ratePerSecond sustained requests with a
// burst of up to burst concurrent requests.
func New(ratePerSecond, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// BlockchainAPILimiter returns the §5-mandated blockchain RPC budget (<=5
// concurrent/sec).
func BlockchainAPILimiter() *Limiter {
	return New(5, 5)
}

// OrderAPILimiter returns the §5-mandated order-submission API budget
// (<=20 concurrent/sec).
func OrderAPILimiter() *Limiter {
	return New(20, 20)
}

// Wait blocks until a token is available or ctx is done. When the next
// token would only arrive after ctx's deadline, the underlying limiter gives
// up at once and Wait returns an error wrapping context.DeadlineExceeded.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.rl.Wait(ctx); err != nil {
		if _, hasDeadline := ctx.Deadline(); hasDeadline && ctx.Err() == nil {
			return fmt.Errorf("rate limiter: %v: %w", err, context.DeadlineExceeded)
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Do acquires a token and then invokes fn, propagating cancellation.
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.Wait(ctx); err != nil {
		return zero, err
	}
	return fn(ctx)
}
