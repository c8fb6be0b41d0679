// Package crawler fetches store pages with rate limiting, bounded retries and a circuit breaker.
package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/faulttolerance"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrFetchExhausted means a page could not be fetched within the retry ceiling,
// or the store's circuit is open.
var ErrFetchExhausted = errors.New("fetch exhausted")

// Fetcher wraps a PageSource with an inter-request delay, retries and a breaker.
// It is safe for concurrent use; the limiter is shared by all callers.
type Fetcher struct {
	source  PageSource
	limiter *rate.Limiter
	retryer *faulttolerance.Retryer
	breaker *faulttolerance.CircuitBreaker
	logger  logrus.FieldLogger
}

// NewFetcher builds a Fetcher for one store.
func NewFetcher(name string, cfg configs.FetchConfig, source PageSource, logger logrus.FieldLogger) *Fetcher {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	retryer := faulttolerance.NewRetryer(faulttolerance.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  2,
		JitterRange: 0.1,
		Name:        name + "-fetch",
		Retryable:   IsTransient,
	}, logger)

	breaker := faulttolerance.NewCircuitBreaker(faulttolerance.CircuitBreakerConfig{
		MaxFailures: cfg.BreakerThreshold,
		Timeout:     cfg.BreakerCooldown,
		Name:        name + "-breaker",
		IsFailure: func(err error) bool {
			return errors.Is(err, faulttolerance.ErrMaxAttempts)
		},
	}, logger)

	return &Fetcher{
		source:  source,
		limiter: rate.NewLimiter(limit, 1),
		retryer: retryer,
		breaker: breaker,
		logger:  logger,
	}
}

// Get fetches url. Transient failures are retried with backoff; once the ceiling is
// reached the returned error wraps ErrFetchExhausted. Other errors are returned unchanged.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var page *Page
	err := f.retryer.ExecuteWithCircuitBreaker(ctx, f.breaker, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		p, err := f.source.Get(ctx, url)
		if err != nil {
			return err
		}
		page = p
		return nil
	})

	switch {
	case err == nil:
		return page.Body, nil
	case errors.Is(err, faulttolerance.ErrMaxAttempts):
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrFetchExhausted, url, f.retryer.MaxAttempts(), err)
	case errors.Is(err, faulttolerance.ErrCircuitBreakerOpen):
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchExhausted, url, err)
	default:
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
}

// BreakerState exposes the circuit state for logging.
func (f *Fetcher) BreakerState() faulttolerance.CircuitBreakerState {
	return f.breaker.State()
}

// BreakerStats exposes the breaker counters for the run log.
func (f *Fetcher) BreakerStats() faulttolerance.BreakerStats {
	return f.breaker.Stats()
}
