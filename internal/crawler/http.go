package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodySize caps a catalog page.
const maxBodySize = 16 << 20

// HTTPSource fetches pages with net/http.
type HTTPSource struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

// NewHTTPSource creates a source with the given per-request timeout.
func NewHTTPSource(timeout time.Duration, userAgent string) *HTTPSource {
	return &HTTPSource{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		headers: map[string]string{
			"Accept-Language": "ru-RU,ru;q=0.9",
		},
	}
}

// WithHeader sets an extra header sent with every request.
func (s *HTTPSource) WithHeader(key, value string) *HTTPSource {
	s.headers[key] = value
	return s
}

func (s *HTTPSource) Get(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}

	return &Page{URL: url, Status: resp.StatusCode, Body: body}, nil
}
