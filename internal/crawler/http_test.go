package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSourceGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "pricio-test" {
			t.Errorf("Expected user agent header, got %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Accept-Language") == "" {
			t.Error("Expected Accept-Language header")
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("hello"))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	source := NewHTTPSource(time.Second, "pricio-test")
	ctx := context.Background()

	page, err := source.Get(ctx, server.URL+"/ok")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(page.Body) != "hello" || page.Status != http.StatusOK {
		t.Errorf("Unexpected page: %d %q", page.Status, page.Body)
	}

	_, err = source.Get(ctx, server.URL+"/missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if IsTransient(err) {
		t.Error("404 must not be transient")
	}

	_, err = source.Get(ctx, server.URL+"/down")
	if !IsTransient(err) {
		t.Errorf("503 must be transient, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil", nil, false},
		{"Rate limited", &StatusError{Code: http.StatusTooManyRequests}, true},
		{"Server error", &StatusError{Code: http.StatusBadGateway}, true},
		{"Forbidden", &StatusError{Code: http.StatusForbidden}, false},
		{"Canceled", context.Canceled, false},
		{"Deadline", context.DeadlineExceeded, true},
		{"Plain error", errors.New("bad json"), false},
		{"Render failure", &RenderError{Err: errors.New("net::ERR_CONNECTION_RESET")}, true},
		{"Render canceled", &RenderError{Err: context.Canceled}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestHTTPSourceTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewHTTPSource(20*time.Millisecond, "").Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("Timeout must be transient, got %v", err)
	}
}
