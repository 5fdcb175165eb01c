package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"catalog-scraper/internal/domain/scrape"

	"github.com/PuerkitoBio/goquery"
)

const (
	ModeStatic   = "static"
	ModeRendered = "rendered"

	DefaultFetchTimeout = 30 * time.Second
	maxBodyBytes        = 5 << 20
)

var ErrUnparsableDocument = errors.New("document could not be parsed")

// Page is a fetched document ready for extraction.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Doc        *goquery.Document
	FetchedAt  time.Time
}

// Fetcher retrieves one page. Implementations must return *FetchTimeoutError
// when the fetch exceeds its timeout and *FetchHTTPError on non-2xx status.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

type FetchHTTPError struct {
	URL    string
	Status int
}

func (e *FetchHTTPError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
}

// Transient reports whether a retry can reasonably succeed.
func (e *FetchHTTPError) Transient() bool {
	return e.Status >= 500 || e.Status == 429 || e.Status == 408
}

type FetchTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timed out after %s", e.URL, e.Timeout)
}

func (e *FetchTimeoutError) Unwrap() error {
	return e.Err
}

// NewPage parses body into a Page.
func NewPage(rawURL, finalURL string, status int, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnparsableDocument, rawURL, err)
	}
	if strings.TrimSpace(finalURL) == "" {
		finalURL = rawURL
	}
	return &Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		Body:       body,
		Doc:        doc,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// PageBase is the base relative links on page resolve against: the final
// URL without query or fragment.
func PageBase(p *Page) string {
	if p == nil {
		return ""
	}
	u := p.FinalURL
	if u == "" {
		u = p.URL
	}
	return documentBase(u)
}

func documentBase(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimRight(u.String(), "/")
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// effectiveTimeout shortens timeout to the caller's deadline when that comes first.
func effectiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			return rem
		}
	}
	return timeout
}

// FetcherSet picks the fetch strategy per target type.
type FetcherSet struct {
	Static   Fetcher
	Rendered Fetcher
	Modes    map[scrape.TargetType]string
}

func (s FetcherSet) For(t scrape.TargetType) Fetcher {
	if s.Modes[t] == ModeRendered && s.Rendered != nil {
		return s.Rendered
	}
	if s.Static != nil {
		return s.Static
	}
	return s.Rendered
}
