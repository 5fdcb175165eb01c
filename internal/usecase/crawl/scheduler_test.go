package crawl

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/infrastructure/cache"
	"catalog-scraper/internal/infrastructure/queue"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const categoryHTML = `<html><body>
<div class="product-item"><h3 class="title">Book A</h3><span class="price">£9.99</span><a href="/books/a">view</a></div>
<div class="product-item"><h3 class="title">Book B</h3><span class="price">Currently unavailable</span><a href="/books/b">view</a></div>
</body></html>`

// stubFetcher serves fixed markup per URL and counts calls.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*scraper.Page, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	html, ok := f.pages[rawURL]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &scraper.FetchHTTPError{URL: rawURL, Status: 404}
	}
	return scraper.NewPage(rawURL, rawURL, 200, []byte(html))
}

func (f *stubFetcher) setPage(rawURL, html string) {
	f.mu.Lock()
	f.pages[rawURL] = html
	f.mu.Unlock()
}

func (f *stubFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]scrape.Status
}

func (n *recordingNotifier) JobChanged(job scrape.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		n.events = map[string][]scrape.Status{}
	}
	n.events[job.ID.String()] = append(n.events[job.ID.String()], job.Status)
}

func (n *recordingNotifier) statuses(id string) []scrape.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]scrape.Status(nil), n.events[id]...)
}

type harness struct {
	scheduler *Scheduler
	jobs      *repository.MemoryScrapeJobRepository
	catalog   *repository.MemoryCatalogRepository
	queue     *queue.MemoryQueue
	fetcher   *stubFetcher
	notifier  *recordingNotifier
	gate      *CacheGate
}

func newHarness(t *testing.T, opts Options, gate func(repository.CatalogRepository) *CacheGate) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	h := &harness{
		jobs:     repository.NewMemoryScrapeJobRepository(),
		catalog:  repository.NewMemoryCatalogRepository(),
		queue:    queue.NewMemoryQueue(queue.WithDelayScale(0.001)),
		fetcher:  &stubFetcher{pages: map[string]string{"https://site.test/fiction": categoryHTML}},
		notifier: &recordingNotifier{},
	}
	t.Cleanup(h.queue.Close)
	if gate != nil {
		h.gate = gate(h.catalog)
	}
	if opts.PopTimeout == 0 {
		opts.PopTimeout = 20 * time.Millisecond
	}
	h.scheduler = NewScheduler(Deps{
		Jobs:     h.jobs,
		Queue:    h.queue,
		Gate:     h.gate,
		Notifier: h.notifier,
		Logger:   logger,
		Options:  opts,
	})
	pipeline := NewPipeline(
		scraper.FetcherSet{Static: h.fetcher},
		scraper.NewExtractor(logger),
		scraper.NewNormalizer("GBP"),
		h.catalog,
		logger,
	)
	h.scheduler.RegisterAll(pipeline.Handlers())
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.scheduler.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForJob(t *testing.T, h *harness, handle scrape.Handle, cond func(scrape.Job) bool) scrape.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.jobs.Get(context.Background(), handle.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if cond(job) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := h.jobs.Get(context.Background(), handle.ID)
	t.Fatalf("timed out waiting for job %s, last state %s retry=%d", handle.ID, job.Status, job.RetryCount)
	return scrape.Job{}
}

func isStatus(s scrape.Status) func(scrape.Job) bool {
	return func(j scrape.Job) bool { return j.Status == s }
}

func categoryTarget() scrape.Target {
	return scrape.Target{URL: "https://site.test/fiction", Type: scrape.TargetCategory}
}

func TestScheduler_CategoryEndToEnd(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 3}, nil)
	h.start(t)
	ctx := context.Background()

	handle, err := h.scheduler.Enqueue(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if handle.Status != scrape.StatusPending {
		t.Fatalf("expected PENDING handle, got %s", handle.Status)
	}
	job := waitForJob(t, h, handle, isStatus(scrape.StatusCompleted))
	if job.Metadata["created"] != "2" || job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatalf("unexpected completed job %+v", job)
	}

	parent := scraper.SourceID("https://site.test/fiction")
	recs, _ := h.catalog.ListByParent(ctx, parent)
	if len(recs) != 2 {
		t.Fatalf("expected 2 catalog records, got %d", len(recs))
	}
	byTitle := map[string]catalog.Record{}
	for _, r := range recs {
		byTitle[r.Title] = r
	}
	if byTitle["Book A"].Price.String() != "9.99" {
		t.Fatalf("unexpected Book A price %q", byTitle["Book A"].Price.String())
	}
	if p := byTitle["Book B"].Price; p.Known || p.String() != "unknown" {
		t.Fatalf("Book B price must be unknown, got %+v", p)
	}

	second, err := h.scheduler.Enqueue(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	again := waitForJob(t, h, second, isStatus(scrape.StatusCompleted))
	if again.Metadata["unchanged"] != "2" || again.Metadata["created"] != "0" {
		t.Fatalf("expected unchanged re-ingestion, got %+v", again.Metadata)
	}
	after, _ := h.catalog.ListByParent(ctx, parent)
	for _, r := range after {
		before := byTitle[r.Title]
		if r.ContentHash != before.ContentHash || !r.LastScrapedAt.Equal(before.LastScrapedAt) {
			t.Fatalf("record %q changed on identical re-ingestion", r.Title)
		}
	}

	got := h.notifier.statuses(handle.ID.String())
	want := []scrape.Status{scrape.StatusPending, scrape.StatusRunning, scrape.StatusCompleted}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestScheduler_RetryBackoffThenFailed(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 3, RetryDelay: 2 * time.Second}, nil)
	h.fetcher.setErr(&scraper.FetchTimeoutError{URL: "https://site.test/fiction", Timeout: 30 * time.Second})
	h.start(t)

	handle, err := h.scheduler.Enqueue(context.Background(), categoryTarget())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job := waitForJob(t, h, handle, func(j scrape.Job) bool {
		return j.Status == scrape.StatusFailed && j.RetryCount == 3
	})
	if job.ErrorLog == nil || *job.ErrorLog == "" {
		t.Fatalf("expected error log on failed job")
	}

	delays := h.queue.Delays()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
	if n := h.fetcher.count(); n != 4 {
		t.Fatalf("expected 4 fetch attempts, got %d", n)
	}
}

func TestScheduler_PermanentHTTPErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 3}, nil)
	h.start(t)

	handle, err := h.scheduler.Enqueue(context.Background(), scrape.Target{URL: "https://site.test/missing", Type: scrape.TargetCategory})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job := waitForJob(t, h, handle, isStatus(scrape.StatusFailed))
	if job.RetryCount != 0 || len(h.queue.Delays()) != 0 {
		t.Fatalf("404 must not be retried, got retry=%d delays=%v", job.RetryCount, h.queue.Delays())
	}
}

func TestScheduler_CancelPendingIsNeverDispatched(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()

	handle, err := h.scheduler.Enqueue(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	cancelled, err := h.scheduler.Cancel(ctx, handle.ID)
	if err != nil || cancelled.Status != scrape.StatusCancelled {
		t.Fatalf("cancel: %v %s", err, cancelled.Status)
	}

	h.start(t)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := h.queue.Depth(ctx, scrape.TargetCategory); n == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if n := h.fetcher.count(); n != 0 {
		t.Fatalf("cancelled job must not be fetched, got %d fetches", n)
	}
	job, _ := h.scheduler.GetJobStatus(ctx, handle.ID)
	if job.Status != scrape.StatusCancelled {
		t.Fatalf("expected job to stay cancelled, got %s", job.Status)
	}
	if _, err := h.scheduler.Cancel(ctx, handle.ID); !errors.Is(err, scrape.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
}

func TestScheduler_EnqueueRejectsInvalidTargets(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	if _, err := h.scheduler.Enqueue(ctx, scrape.Target{URL: "/relative", Type: scrape.TargetCategory}); !errors.Is(err, scrape.ErrInvalidTarget) {
		t.Fatalf("expected invalid target for relative url, got %v", err)
	}
	if _, err := h.scheduler.Enqueue(ctx, scrape.Target{URL: "https://site.test", Type: "BOGUS"}); !errors.Is(err, scrape.ErrInvalidTarget) {
		t.Fatalf("expected invalid target for unknown type, got %v", err)
	}
}

func TestScheduler_HandlerPanicFailsJob(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 0}, nil)
	h.scheduler.Register(scrape.TargetProduct, func(ctx context.Context, job scrape.Job) (Outcome, error) {
		panic("selector table corrupted")
	})
	h.start(t)

	handle, err := h.scheduler.Enqueue(context.Background(), scrape.Target{URL: "https://site.test/books/a", Type: scrape.TargetProduct})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job := waitForJob(t, h, handle, isStatus(scrape.StatusFailed))
	if job.ErrorLog == nil || *job.ErrorLog != "handler panic: selector table corrupted" {
		t.Fatalf("unexpected error log %v", job.ErrorLog)
	}
}

func TestScheduler_RecoverStaleRunningJobs(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 3, RetryDelay: 2 * time.Second}, nil)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	h.jobs.SetClock(func() time.Time { return past })

	handle, err := h.scheduler.Enqueue(ctx, categoryTarget())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := h.jobs.Transition(ctx, handle.ID, scrape.StatusRunning, ""); err != nil {
		t.Fatalf("to running: %v", err)
	}
	h.jobs.SetClock(time.Now)

	n, err := h.scheduler.RecoverStale(ctx, 15*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one recovered job, got %d %v", n, err)
	}
	job, _ := h.jobs.Get(ctx, handle.ID)
	if job.Status != scrape.StatusPending || job.RetryCount != 1 {
		t.Fatalf("expected job re-queued for retry, got %s retry=%d", job.Status, job.RetryCount)
	}
	if job.ErrorLog == nil || *job.ErrorLog != errWorkerLost.Error() {
		t.Fatalf("expected worker lost error log, got %v", job.ErrorLog)
	}
	if d := h.queue.Delays(); len(d) != 1 || d[0] != 2*time.Second {
		t.Fatalf("expected one 2s retry, got %v", d)
	}
}

func TestScheduler_RequeuePendingOrphans(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()
	h.jobs.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	// stored but never pushed, as after a queue outage during submit
	orphan, err := h.jobs.Create(ctx, scrape.NewJob(categoryTarget(), time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.jobs.SetClock(time.Now)

	n, err := h.scheduler.RequeuePending(ctx, 15*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one requeued job, got %d %v", n, err)
	}
	if depth, _ := h.queue.Depth(ctx, scrape.TargetCategory); depth != 1 {
		t.Fatalf("expected the orphan on its lane, got depth %d", depth)
	}
	if n, _ := h.scheduler.RequeuePending(ctx, 15*time.Minute); n != 0 {
		t.Fatalf("a requeued job must not be pushed again on the next sweep, got %d", n)
	}

	h.start(t)
	job := waitForJob(t, h, orphan.Handle(), isStatus(scrape.StatusCompleted))
	if job.Metadata[metaRequeuedAt] == "" {
		t.Fatalf("expected requeue mark in metadata, got %v", job.Metadata)
	}
}

func redisGate(t *testing.T, scope string) func(repository.CatalogRepository) *CacheGate {
	return func(repo repository.CatalogRepository) *CacheGate {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("failed to start miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		logger := log.New(io.Discard, "", 0)
		c := cache.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger)
		t.Cleanup(func() { _ = c.Close() })
		return NewCacheGate(c, repo, 24*time.Hour, scope, logger)
	}
}

func TestScheduler_CacheGateShortCircuitsFetch(t *testing.T) {
	h := newHarness(t, Options{}, redisGate(t, CacheScopeType))
	h.start(t)
	ctx := context.Background()

	if h.gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/fiction") {
		t.Fatalf("empty cache must never be fresh")
	}

	first, _ := h.scheduler.Enqueue(ctx, categoryTarget())
	waitForJob(t, h, first, isStatus(scrape.StatusCompleted))
	if !h.gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/fiction") {
		t.Fatalf("expected fresh after a successful ingestion")
	}

	second, _ := h.scheduler.Enqueue(ctx, categoryTarget())
	job := waitForJob(t, h, second, isStatus(scrape.StatusCompleted))
	if job.Metadata["cache_hit"] != "true" || job.Metadata["records"] != "2" {
		t.Fatalf("expected cache hit with 2 records, got %+v", job.Metadata)
	}
	if n := h.fetcher.count(); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}

	forced, _ := h.scheduler.Enqueue(ctx, scrape.Target{URL: "https://site.test/fiction", Type: scrape.TargetCategory, Metadata: map[string]string{"force": "true"}})
	waitForJob(t, h, forced, isStatus(scrape.StatusCompleted))
	if n := h.fetcher.count(); n != 2 {
		t.Fatalf("forced crawl must bypass the gate, got %d fetches", n)
	}
}

func TestCacheGate_TargetScopeAndExpiry(t *testing.T) {
	repo := repository.NewMemoryCatalogRepository()
	gate := redisGate(t, CacheScopeTarget)(repo)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }

	if err := gate.MarkIngested(ctx, scrape.TargetCategory, "https://site.test/fiction", []string{"src-missing"}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/fiction") {
		t.Fatalf("mark without resolvable records must not be fresh")
	}

	_, _, _ = repo.UpsertBySourceID(ctx, catalog.Record{SourceID: "src-a", Type: catalog.RecordProduct, Title: "A", ContentHash: "h"})
	_ = gate.MarkIngested(ctx, scrape.TargetCategory, "https://site.test/fiction", []string{"src-a"})
	if !gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/fiction") {
		t.Fatalf("expected fresh")
	}
	if gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/history") {
		t.Fatalf("target scope must not share freshness across urls")
	}
	if got := gate.GetCached(ctx, scrape.TargetCategory, "https://site.test/fiction"); len(got) != 1 || got[0].SourceID != "src-a" {
		t.Fatalf("unexpected cached records %+v", got)
	}

	now = now.Add(25 * time.Hour)
	if gate.IsFresh(ctx, scrape.TargetCategory, "https://site.test/fiction") {
		t.Fatalf("expected stale after the window")
	}
}

func TestCacheGate_NilCacheNeverFresh(t *testing.T) {
	gate := NewCacheGate(nil, repository.NewMemoryCatalogRepository(), 0, "", nil)
	if gate.IsFresh(context.Background(), scrape.TargetNavigation, "https://site.test") {
		t.Fatalf("no cache must mean not fresh")
	}
	var nilGate *CacheGate
	if nilGate.IsFresh(context.Background(), scrape.TargetNavigation, "https://site.test") {
		t.Fatalf("nil gate must mean not fresh")
	}
}
