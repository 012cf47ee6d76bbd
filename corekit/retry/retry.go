// Package retry provides exponential backoff retry for the Turn Orchestrator's
// LLM adapter calls. Only errors wrapping errs.ErrTransportTransient are
// retried; anything else (including errs.ErrTransportPermanent and
// errs.ErrContextOverflow) returns immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/evrenesat/asky/corekit/errs"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultPolicy returns a sensible default: 200ms initial, 30s cap, factor 2.
func DefaultPolicy() Policy {
	return Policy{Initial: 200 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// compute returns the backoff duration for attempt (1-indexed).
func compute(p Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitter)
	return time.Duration(total)
}

// ErrExhausted is returned once maxAttempts transient failures have occurred.
var ErrExhausted = errors.New("retry: max attempts exhausted")

// Do executes fn with exponential backoff. fn receives the 1-indexed attempt
// number. Retries happen only when fn's error wraps errs.ErrTransportTransient;
// any other error (nil included) stops the loop immediately.
func Do[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !errors.Is(err, errs.ErrTransportTransient) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		d := compute(policy, attempt, rand.Float64()) // #nosec G404 -- jitter, not a security boundary
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, errors.Join(ErrExhausted, lastErr)
}
