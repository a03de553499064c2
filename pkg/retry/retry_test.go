package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rescoord/rescoord/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesRetryableError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeOverloaded, "busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeInvalidConfig, "bad config")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestDo_PlainErrorNotRetried(t *testing.T) {
	calls := 0
	New(fastConfig()).Do(func() error {
		calls++
		return fmt.Errorf("plain failure")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExplicitRetryableFlag(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	cfg.RetryableCodes = nil
	New(cfg).Do(func() error {
		calls++
		err := errors.NewError(errors.ErrCodeInvalidState, "flaky")
		err.Retryable = true
		return err
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (Retryable flag honored)", calls)
	}
}

func TestDo_MaxAttemptsExhausted(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeOverloaded, "busy")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoWithContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(fastConfig()).DoWithContext(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	r := New(fastConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	})

	r.Do(func() error {
		return errors.NewError(errors.ErrCodeOverloaded, "busy")
	})

	if len(attempts) != 2 {
		t.Errorf("callback fired %d times, want 2", len(attempts))
	}
}

func TestCalculateDelay_Caps(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
	})

	if d := r.calculateDelay(1); d != time.Second {
		t.Errorf("delay(1) = %v, want 1s", d)
	}
	if d := r.calculateDelay(2); d != 2*time.Second {
		t.Errorf("delay(2) = %v, want 2s", d)
	}
	if d := r.calculateDelay(5); d != 3*time.Second {
		t.Errorf("delay(5) = %v, want cap 3s", d)
	}
}

func TestBackoff(t *testing.T) {
	calls := 0
	err := Backoff(context.Background(), 2, func() error {
		calls++
		return errors.NewError(errors.ErrCodeQueueFull, "full")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
