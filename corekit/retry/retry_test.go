package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/evrenesat/asky/corekit/errs"
)

func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, Jitter: 0}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(), 5, func(attempt int) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("throttled: %w", errs.ErrTransportTransient)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestDo_PermanentErrorReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), 5, func(attempt int) (string, error) {
		calls++
		return "", errs.ErrTransportPermanent
	})
	if !errors.Is(err, errs.ErrTransportPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	_, err := Do(context.Background(), fastPolicy(), 3, func(attempt int) (string, error) {
		return "", fmt.Errorf("attempt %d: %w", attempt, errs.ErrTransportTransient)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, errs.ErrTransportTransient) {
		t.Errorf("expected the last transient error to be wrapped, got %v", err)
	}
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastPolicy(), 5, func(attempt int) (string, error) {
		return "", errs.ErrTransportTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
