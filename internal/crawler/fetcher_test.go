package crawler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/faulttolerance"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testFetchConfig() configs.FetchConfig {
	return configs.FetchConfig{
		MaxAttempts:      3,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
		Timeout:          time.Second,
	}
}

func TestFetcherRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("catalog"))
	}))
	defer server.Close()

	f := NewFetcher("test", testFetchConfig(), NewHTTPSource(time.Second, ""), testLogger())
	body, err := f.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(body) != "catalog" {
		t.Errorf("Unexpected body %q", body)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 requests, got %d", calls.Load())
	}
}

func TestFetcherExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewFetcher("test", testFetchConfig(), NewHTTPSource(time.Second, ""), testLogger())
	_, err := f.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrFetchExhausted) {
		t.Fatalf("Expected ErrFetchExhausted, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected the retry ceiling of 3 requests, got %d", calls.Load())
	}
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := NewFetcher("test", testFetchConfig(), NewHTTPSource(time.Second, ""), testLogger())
	_, err := f.Get(context.Background(), server.URL)
	if err == nil || errors.Is(err, ErrFetchExhausted) {
		t.Fatalf("Expected a plain fetch error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("Expected StatusError in chain, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single request, got %d", calls.Load())
	}
	if f.BreakerState() != faulttolerance.StateClosed {
		t.Error("Client errors must not trip the breaker")
	}
}

func TestFetcherBreakerOpensAfterExhaustedFetches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testFetchConfig()
	cfg.MaxAttempts = 1
	f := NewFetcher("test", cfg, NewHTTPSource(time.Second, ""), testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.Get(ctx, server.URL); !errors.Is(err, ErrFetchExhausted) {
			t.Fatalf("fetch %d: expected ErrFetchExhausted, got %v", i, err)
		}
	}
	if f.BreakerState() != faulttolerance.StateOpen {
		t.Fatalf("Expected OPEN breaker, got %s", f.BreakerState())
	}

	_, err := f.Get(ctx, server.URL)
	if !errors.Is(err, ErrFetchExhausted) || !errors.Is(err, faulttolerance.ErrCircuitBreakerOpen) {
		t.Errorf("Expected open-circuit exhaustion, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected no request while open, got %d requests", calls.Load())
	}
}

func TestFetcherRespectsMinInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testFetchConfig()
	cfg.MinInterval = 50 * time.Millisecond
	f := NewFetcher("test", cfg, NewHTTPSource(time.Second, ""), testLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := f.Get(context.Background(), server.URL); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected at least 100ms for 3 requests, took %v", elapsed)
	}
}
