package util

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestBackoff_Schedule(t *testing.T) {
	bo := Backoff{InitialDelay: time.Second, Factor: 2, MaxDelay: 3 * time.Second}.exponential()
	got := []time.Duration{bo.NextBackOff(), bo.NextBackOff(), bo.NextBackOff()}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("backoff schedule = %v, want %v", got, want)
	}
}

func TestRetryWithBackoff_TransientThenSuccess(t *testing.T) {
	var slept []time.Duration
	b := DefaultBackoff()
	b.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result, attempts, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errors.New("connection reset")
		}
		return "merged", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "merged" || attempts != 3 {
		t.Fatalf("got result=%q attempts=%d, want merged/3", result, attempts)
	}
	if !reflect.DeepEqual(slept, []time.Duration{time.Second, 2 * time.Second}) {
		t.Fatalf("unexpected sleeps %v", slept)
	}
}

func TestRetryWithBackoff_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("malformed identifier")
	b := DefaultBackoff()
	b.Sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatal("must not sleep on permanent error")
		return nil
	}

	_, attempts, err := RetryWithBackoff(context.Background(), b,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(ctx context.Context, attempt int) (int, error) {
			return 0, permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	_, attempts, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("503")
	})
	if err == nil || err.Error() != "503" {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoff_CanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := DefaultBackoff()
	b.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, attempts, err := RetryWithBackoff(ctx, b, nil, func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithBackoff_RealTimerWithoutSleepHook(t *testing.T) {
	b := Backoff{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2}
	_, attempts, err := RetryWithBackoff(context.Background(), b, nil, func(ctx context.Context, attempt int) (int, error) {
		if attempt < 3 {
			return 0, errors.New("503")
		}
		return attempt, nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("got attempts=%d err=%v, want 3/nil", attempts, err)
	}
}
