package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserSource renders pages in headless Chrome and returns the final DOM.
// Catalog pages that load products on scroll are scrolled until the height settles.
type BrowserSource struct {
	userAgent  string
	settle     time.Duration
	maxScrolls int

	once        sync.Once
	allocCtx    context.Context
	cancelAlloc context.CancelFunc

	// one tab at a time
	mu sync.Mutex
}

// NewBrowserSource creates a browser-backed page source. Call Close when done.
func NewBrowserSource(userAgent string) *BrowserSource {
	return &BrowserSource{
		userAgent:  userAgent,
		settle:     time.Second,
		maxScrolls: 30,
	}
}

func (s *BrowserSource) start() {
	s.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(s.userAgent),
			chromedp.WindowSize(1920, 1080),
		)
		s.allocCtx, s.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	})
}

func (s *BrowserSource) Get(ctx context.Context, url string) (*Page, error) {
	s.start()
	s.mu.Lock()
	defer s.mu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(s.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	// tie the tab to the caller's context
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	status := int64(http.StatusOK)
	if resp != nil {
		status = resp.Status
	}
	if err := renderErr(ctx, url, status, err); err != nil {
		return nil, err
	}
	if err := chromedp.Run(tabCtx, chromedp.Sleep(s.settle)); err != nil {
		return nil, renderErr(ctx, url, status, err)
	}

	var lastHeight int64
	for i := 0; i < s.maxScrolls; i++ {
		var height int64
		err := chromedp.Run(tabCtx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`, &height),
			chromedp.Sleep(s.settle),
		)
		if err != nil {
			return nil, renderErr(ctx, url, status, fmt.Errorf("scroll: %w", err))
		}
		if height == lastHeight {
			break
		}
		lastHeight = height
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, renderErr(ctx, url, status, fmt.Errorf("read DOM: %w", err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &Page{URL: url, Status: int(status), Body: []byte(html)}, nil
}

// renderErr classifies the outcome of a browser step. Caller cancellation wins,
// browser failures are retryable render errors, and an error status of the
// document response becomes a StatusError like in HTTPSource.
func renderErr(ctx context.Context, url string, status int64, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return &RenderError{URL: url, Err: err}
	case status >= http.StatusBadRequest:
		return &StatusError{URL: url, Code: int(status)}
	}
	return nil
}

// Close shuts the browser down.
func (s *BrowserSource) Close() {
	if s.cancelAlloc != nil {
		s.cancelAlloc()
	}
}
