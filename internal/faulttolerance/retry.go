package faulttolerance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMaxAttempts is wrapped by Execute when every attempt failed with a retryable error.
var ErrMaxAttempts = errors.New("max retry attempts exceeded")

// RetryConfig holds configuration for retry mechanisms
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts, including the first one
	BaseDelay   time.Duration // Base delay for exponential backoff, zero retries immediately
	MaxDelay    time.Duration // Maximum delay between retries
	Multiplier  float64       // Multiplier for exponential backoff
	JitterRange float64       // Jitter range (0.0 to 1.0)
	Name        string        // Name for logging

	// Retryable classifies errors. Nil retries every error.
	Retryable func(error) bool
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// Retryer handles retry logic with exponential backoff and jitter
type Retryer struct {
	config RetryConfig
	logger logrus.FieldLogger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryer creates a new retryer
func NewRetryer(config RetryConfig, logger logrus.FieldLogger) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay < 0 {
		config.BaseDelay = 0
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.JitterRange < 0 || config.JitterRange > 1.0 {
		config.JitterRange = 0.1
	}
	if config.Name == "" {
		config.Name = "Retryer"
	}

	return &Retryer{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MaxAttempts returns the effective attempt ceiling.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Execute executes the function with retry logic.
// A non-retryable error is returned as is; exhaustion wraps ErrMaxAttempts and the last error.
func (r *Retryer) Execute(ctx context.Context, fn RetryableFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Infof("[%s] Operation succeeded on attempt %d", r.config.Name, attempt)
			}
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.isRetryable(err) {
			r.logger.Debugf("[%s] Non-retryable error: %v", r.config.Name, err)
			return err
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Warnf("[%s] All %d attempts failed, last error: %v", r.config.Name, attempt, err)
			break
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("[%s] Attempt %d failed: %v. Retrying in %v...", r.config.Name, attempt, err, delay)

		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, r.config.MaxAttempts, lastErr)
}

// calculateDelay calculates the delay for the next retry with exponential backoff and jitter
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	if r.config.BaseDelay == 0 {
		return 0
	}

	// Exponential backoff: baseDelay * multiplier^(attempt-1)
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.JitterRange > 0 {
		r.mu.Lock()
		jitter := r.rng.Float64() * r.config.JitterRange * delay
		negative := r.rng.Float64() < 0.5
		r.mu.Unlock()
		if negative {
			delay -= jitter
		} else {
			delay += jitter
		}
	}

	if delay < float64(r.config.BaseDelay) {
		delay = float64(r.config.BaseDelay)
	}

	return time.Duration(delay)
}

// isRetryable checks if an error should trigger a retry
func (r *Retryer) isRetryable(err error) bool {
	if r.config.Retryable == nil {
		return true
	}
	return r.config.Retryable(err)
}

// ExecuteWithCircuitBreaker runs the whole retry sequence under one breaker call,
// so a fully exhausted operation counts as a single failure.
func (r *Retryer) ExecuteWithCircuitBreaker(ctx context.Context, cb *CircuitBreaker, fn RetryableFunc) error {
	return cb.Execute(ctx, func() error {
		return r.Execute(ctx, fn)
	})
}
