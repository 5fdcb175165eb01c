package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticFetcher issues a plain GET through a fresh colly collector per page.
type StaticFetcher struct {
	timeout   time.Duration
	userAgent string
}

func NewStaticFetcher(timeout time.Duration, userAgent string) *StaticFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = "CatalogScraper/0.1"
	}
	return &StaticFetcher{timeout: timeout, userAgent: userAgent}
}

func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f == nil {
		return nil, fmt.Errorf("nil fetcher")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	timeout := effectiveTimeout(ctx, f.timeout)

	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxBodySize(maxBodyBytes),
	)
	// status codes are judged below, not by colly
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(timeout)

	var (
		status   int
		body     []byte
		finalURL string
		reqErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range httpHeaders() {
			r.Headers.Set(k, v)
		}
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		reqErr = err
		if r != nil && r.StatusCode != 0 {
			status = r.StatusCode
		}
	})

	err := c.Visit(rawURL)
	if err == nil {
		err = reqErr
	}
	if err != nil {
		if isTimeout(err) {
			return nil, &FetchTimeoutError{URL: rawURL, Timeout: timeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if status != 0 && (status < 200 || status >= 300) {
			return nil, &FetchHTTPError{URL: rawURL, Status: status}
		}
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if status < 200 || status >= 300 {
		return nil, &FetchHTTPError{URL: rawURL, Status: status}
	}

	return NewPage(rawURL, finalURL, status, body)
}

func httpHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-GB,en;q=0.9",
	}
}
