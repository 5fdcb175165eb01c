package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// RenderedFetcher loads pages in headless Chrome so script-built markup is
// present before extraction.
type RenderedFetcher struct {
	timeout   time.Duration
	userAgent string
	settle    time.Duration
}

func NewRenderedFetcher(timeout time.Duration, userAgent string) *RenderedFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	}
	return &RenderedFetcher{timeout: timeout, userAgent: userAgent, settle: 1500 * time.Millisecond}
}

func (f *RenderedFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f == nil {
		return nil, fmt.Errorf("nil fetcher")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	timeout := effectiveTimeout(ctx, f.timeout)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(f.userAgent),
		)...,
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var (
		mu       sync.Mutex
		status   int64
		finalURL string
	)
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if status == 0 {
			status = e.Response.Status
			finalURL = e.Response.URL
		}
	})

	reqCtx, reqCancel := context.WithTimeout(browserCtx, timeout)
	defer reqCancel()

	var html string
	err := chromedp.Run(reqCtx,
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded)) {
			return nil, &FetchTimeoutError{URL: rawURL, Timeout: timeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}

	mu.Lock()
	code := int(status)
	final := finalURL
	mu.Unlock()
	if code == 0 {
		code = 200
	}
	if code < 200 || code >= 300 {
		return nil, &FetchHTTPError{URL: rawURL, Status: code}
	}

	return NewPage(rawURL, final, code, []byte(html))
}
