package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Page is a fetched document.
type Page struct {
	URL    string
	Status int
	Body   []byte
}

// PageSource retrieves one page. It does not retry.
type PageSource interface {
	Get(ctx context.Context, url string) (*Page, error)
}

// StatusError is returned for HTTP responses with an error status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Transient reports whether the status is worth retrying (rate limit or server error).
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// RenderError is returned when a headless browser fails to load or render a page.
type RenderError struct {
	URL string
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.URL, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsTransient classifies fetch errors: timeouts, network errors, render failures,
// 429 and 5xx are transient. Context cancellation and client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
