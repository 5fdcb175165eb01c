package crawl

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

const detailHTML = `<html><head><meta name="description" content="A long read"></head><body>
<h1>Book A</h1>
<span class="price">£9.99</span>
<ul class="product-specs"><li>ISBN: 9780000000001</li></ul>
<div class="review-item"><span class="review-author">ann</span><span data-rating="5"></span><p class="review-text">great</p></div>
<div class="review-item"><span class="review-author">bob</span><span data-rating="4"></span><p class="review-text">good</p></div>
</body></html>`

const detailNoReviewsHTML = `<html><head><meta name="description" content="A long read"></head><body>
<h1>Book A</h1>
<span class="price">£9.99</span>
<ul class="product-specs"><li>ISBN: 9780000000001</li></ul>
</body></html>`

func TestQuickScraper_DetailRescrapeReplacesReviewAggregate(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	q := NewQuickScraper(h.scheduler, h.catalog)
	ctx := context.Background()
	pageURL := "https://site.test/item?id=a"
	target := scrape.Target{URL: pageURL, Type: scrape.TargetProductDetail}

	h.fetcher.setPage(pageURL, detailHTML)
	first, err := q.ScrapeNow(ctx, target)
	if err != nil || len(first.Records) != 1 {
		t.Fatalf("first scrape: %+v %v", first, err)
	}
	sid := first.Records[0].SourceID
	if first.Records[0].ReviewCount != 2 {
		t.Fatalf("expected 2 reviews on first scrape, got %d", first.Records[0].ReviewCount)
	}

	h.fetcher.setPage(pageURL, detailNoReviewsHTML)
	second, err := q.ScrapeNow(ctx, target)
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if second.Updated != 1 {
		t.Fatalf("expected the product to be updated, got %+v", second)
	}
	stored, _ := h.catalog.FindBySourceID(ctx, sid)
	_, reviews, err := h.catalog.GetProductDetail(ctx, sid)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if stored.ReviewCount != len(reviews) || stored.ReviewCount != 0 || stored.RatingAvg != 0 {
		t.Fatalf("review_count %d rating_avg %v disagrees with stored reviews %d", stored.ReviewCount, stored.RatingAvg, len(reviews))
	}

	third, err := q.ScrapeNow(ctx, target)
	if err != nil || third.Unchanged != 1 {
		t.Fatalf("expected unchanged re-scrape, got %+v %v", third, err)
	}
}

func TestQuickScraper_RelativeLinksResolveAgainstPagePath(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	q := NewQuickScraper(h.scheduler, h.catalog)
	ctx := context.Background()
	pageURL := "https://example.test/en-gb"
	h.fetcher.setPage(pageURL, `<html><body>
<div class="product-item"><h3 class="title">Book X</h3><span class="price">£5.00</span><a href="books/x">view</a></div>
<div class="product-item"><h3 class="title">Book X again</h3><span class="price">£5.00</span><a href="/en-gb/books/x">view</a></div>
</body></html>`)

	out, err := q.ScrapeNow(ctx, scrape.Target{URL: pageURL, Type: scrape.TargetCategory})
	if err != nil {
		t.Fatalf("scrape now: %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("expected one record after dedup, got %d", len(out.Records))
	}
	if got := out.Records[0].SourceURL; got != "https://example.test/en-gb/books/x" {
		t.Fatalf("source_url = %s, want https://example.test/en-gb/books/x", got)
	}
}

func TestQuickScraper_FallsBackToStoredRecords(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	q := NewQuickScraper(h.scheduler, h.catalog)
	ctx := context.Background()

	out, err := q.ScrapeNow(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("scrape now: %v", err)
	}
	if out.Created != 2 || out.Stale || len(out.Records) != 2 {
		t.Fatalf("unexpected fresh outcome %+v", out)
	}

	h.fetcher.setErr(&scraper.FetchTimeoutError{URL: "https://site.test/fiction", Timeout: time.Second})
	stale, err := q.ScrapeNow(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("expected stored fallback, got %v", err)
	}
	if !stale.Stale || len(stale.Records) != 2 {
		t.Fatalf("expected 2 stale records, got %+v", stale)
	}

	_, err = q.ScrapeNow(ctx, scrape.Target{URL: "https://site.test/poetry", Type: scrape.TargetCategory})
	var timeout *scraper.FetchTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected timeout error without fallback, got %v", err)
	}

	if jobs, _ := h.jobs.ListStale(ctx, scrape.StatusPending, time.Now().Add(time.Hour)); len(jobs) != 0 {
		t.Fatalf("quick scrape must not create jobs, got %d", len(jobs))
	}
}

func TestScheduler_ProductDetailAttachesToTargetID(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fetcher.pages["https://site.test/item?id=a"] = detailHTML
	h.start(t)
	ctx := context.Background()

	listing, _ := h.scheduler.Enqueue(ctx, categoryTarget())
	waitForJob(t, h, listing, isStatus(scrape.StatusCompleted))

	productID := scraper.SourceID("https://site.test/books/a")
	before, err := h.catalog.FindBySourceID(ctx, productID)
	if err != nil {
		t.Fatalf("expected listed product: %v", err)
	}

	handle, err := h.scheduler.Enqueue(ctx, scrape.Target{
		URL:      "https://site.test/item?id=a",
		Type:     scrape.TargetProductDetail,
		TargetID: productID,
	})
	if err != nil {
		t.Fatalf("enqueue detail: %v", err)
	}
	waitForJob(t, h, handle, isStatus(scrape.StatusCompleted))

	detail, reviews, err := h.catalog.GetProductDetail(ctx, productID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Specs["ISBN"] != "9780000000001" || len(reviews) != 2 {
		t.Fatalf("unexpected detail %+v reviews=%d", detail, len(reviews))
	}
	after, _ := h.catalog.FindBySourceID(ctx, productID)
	if after.ReviewCount != 2 || after.RatingAvg != 4.5 {
		t.Fatalf("expected aggregated rating on product, got count=%d avg=%v", after.ReviewCount, after.RatingAvg)
	}
	if after.ID != before.ID || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("detail ingestion must update the existing product in place")
	}
}

func TestPersister_CountsFailuresAndAbortsWhenAllFail(t *testing.T) {
	repo := repository.NewMemoryCatalogRepository()
	p := NewPersister(repo, log.New(io.Discard, "", 0))
	ctx := context.Background()
	recs := []scraper.NormalizedRecord{
		{Record: catalog.Record{SourceID: "a", Type: catalog.RecordProduct, Title: "A", ContentHash: "ha"}},
		{Record: catalog.Record{SourceID: "b", Type: catalog.RecordProduct, Title: "B", ContentHash: "hb"}},
	}

	repo.FailNextWrite(errors.New("connection reset"))
	out, err := p.Ingest(ctx, recs)
	if err != nil {
		t.Fatalf("partial failure must not abort: %v", err)
	}
	if out.Failed != 1 || out.Created != 1 || len(out.Records) != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	repo.FailNextWrite(errors.New("connection reset"))
	_, err = p.Ingest(ctx, recs[:1])
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", &scraper.FetchTimeoutError{URL: "u"}, true},
		{"server error", &scraper.FetchHTTPError{URL: "u", Status: 503}, true},
		{"rate limited", &scraper.FetchHTTPError{URL: "u", Status: 429}, true},
		{"not found", &scraper.FetchHTTPError{URL: "u", Status: 404}, false},
		{"invalid transition", scrape.ErrInvalidTransition, false},
		{"no handler", ErrNoHandler, false},
		{"storage", errors.New("connection refused"), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable=%v want %v", tc.name, got, tc.want)
		}
	}
}
