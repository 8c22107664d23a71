package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Options{Sleep: func(context.Context, time.Duration) error {
		t.Fatal("sleep should not be called")
		return nil
	}}, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Do(context.Background(), Options{Sleep: noSleep(&delays)}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	if calls != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, calls)
	}
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected final attempt error, got %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), delays)
	}
	for i, d := range want {
		if delays[i] != d {
			t.Errorf("delay %d: expected %v, got %v", i, d, delays[i])
		}
	}
}

func TestDoRecoversMidway(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Do(context.Background(), Options{Sleep: noSleep(&delays)}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("got %d after %d calls", got, calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 delays, got %v", delays)
	}
}

func TestDoOnRetryCallback(t *testing.T) {
	var delays []time.Duration
	var notified []int
	_, _ = Do(context.Background(), Options{
		Sleep: noSleep(&delays),
		OnRetry: func(attempt, maxAttempts int, err error) {
			if !errors.Is(err, errFlaky) {
				t.Errorf("attempt %d: unexpected error %v", attempt, err)
			}
			if maxAttempts != DefaultMaxAttempts {
				t.Errorf("attempt %d: maxAttempts = %d, want %d", attempt, maxAttempts, DefaultMaxAttempts)
			}
			notified = append(notified, attempt)
		},
	}, func(ctx context.Context) (int, error) {
		return 0, errFlaky
	})

	// Called after every failure except the last.
	want := []int{1, 2, 3, 4}
	if len(notified) != len(want) {
		t.Fatalf("expected notifications %v, got %v", want, notified)
	}
	for i := range want {
		if notified[i] != want[i] {
			t.Fatalf("expected notifications %v, got %v", want, notified)
		}
	}
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	errDenied := errors.New("access denied")
	calls := 0
	_, err := Do(context.Background(), Options{Sleep: func(context.Context, time.Duration) error {
		t.Fatal("sleep should not be called")
		return nil
	}}, func(ctx context.Context) (int, error) {
		calls++
		return 0, &Permanent{Err: errDenied}
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, errDenied) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
}

func TestDoContextCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Options{Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoCustomAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, err := Do(context.Background(), Options{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		Sleep:       noSleep(&delays),
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if len(delays) != 1 || delays[0] != 100*time.Millisecond {
		t.Fatalf("expected one 100ms delay, got %v", delays)
	}
}
