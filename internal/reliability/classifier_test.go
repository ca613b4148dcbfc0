package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("io"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"permanent", Permanent(errors.New("bad row")), false},
	}
	for _, tc := range cases {
		got := IsRetryable(tc.err)
		if got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLinearBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	if got := LinearBackoff(0, base); got != 0 {
		t.Fatalf("attempt 0 = %v, want 0", got)
	}
	if got := LinearBackoff(3, base); got != 300*time.Millisecond {
		t.Fatalf("attempt 3 = %v, want %v", got, 300*time.Millisecond)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), 3, time.Millisecond, func(int) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("attempts = %d calls = %d, want 2/2", attempts, calls)
	}
}

func TestRetryExhausts(t *testing.T) {
	want := errors.New("down")
	attempts, err := Retry(context.Background(), 3, time.Millisecond, func(int) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Retry() error = %v, want %v", err, want)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPermanentStopsEarly(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), 5, time.Millisecond, func(int) error {
		calls++
		return Permanent(errors.New("constraint"))
	})
	if err == nil || attempts != 1 || calls != 1 {
		t.Fatalf("attempts = %d calls = %d err = %v, want 1/1/non-nil", attempts, calls, err)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, err := Retry(ctx, 3, time.Hour, func(int) error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
