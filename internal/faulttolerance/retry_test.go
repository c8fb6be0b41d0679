package faulttolerance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func TestRetryerSucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 4, Name: "test"}, quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryerExhaustion(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 3}, quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	if !errors.Is(err, ErrMaxAttempts) {
		t.Errorf("Expected ErrMaxAttempts, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryerNonRetryable(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}, quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	})

	if !errors.Is(err, errPermanent) || errors.Is(err, ErrMaxAttempts) {
		t.Errorf("Expected the permanent error as is, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}
}

func TestRetryerStopsOnCancel(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(ctx context.Context) error {
			calls++
			return errTransient
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancel, got %d", calls)
	}
}

func TestCalculateDelay(t *testing.T) {
	r := NewRetryer(RetryConfig{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		JitterRange: 0,
	}, quietLogger())

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		if got := r.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}

	zero := NewRetryer(RetryConfig{}, quietLogger())
	if got := zero.calculateDelay(3); got != 0 {
		t.Errorf("Expected zero delay with zero base delay, got %v", got)
	}
}
