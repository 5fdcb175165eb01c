package crawl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/infrastructure/queue"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"

	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second

	defaultPopTimeout = time.Second
	metaForce         = "force"
	metaRequeuedAt    = "requeued_at"
)

var (
	ErrNoHandler  = errors.New("no handler registered for target type")
	errWorkerLost = errors.New("worker lost while job was running")
)

// Notifier hears about every status change.
type Notifier interface {
	JobChanged(job scrape.Job)
}

type Options struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	LaneConcurrency int
	LaneRPS         int
	PopTimeout      time.Duration
	StaleAfter      time.Duration
}

type Deps struct {
	Jobs     repository.ScrapeJobRepository
	Queue    queue.Queue
	Gate     *CacheGate
	Notifier Notifier
	Logger   *log.Logger
	Options  Options
}

// Scheduler admits crawl requests, runs one lane per target type and applies
// the retry policy.
type Scheduler struct {
	jobs     repository.ScrapeJobRepository
	queue    queue.Queue
	gate     *CacheGate
	notifier Notifier
	logger   *log.Logger
	opts     Options
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[scrape.TargetType]Handler
}

func NewScheduler(d Deps) *Scheduler {
	opts := d.Options
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = defaultPopTimeout
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		jobs:     d.Jobs,
		queue:    d.Queue,
		gate:     d.Gate,
		notifier: d.Notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		handlers: map[scrape.TargetType]Handler{},
	}
}

func (s *Scheduler) Register(t scrape.TargetType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

func (s *Scheduler) RegisterAll(table map[scrape.TargetType]Handler) {
	for t, h := range table {
		s.Register(t, h)
	}
}

func (s *Scheduler) handler(t scrape.TargetType) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[t]
	return h, ok
}

// Enqueue creates a PENDING job for target and pushes it onto its lane.
func (s *Scheduler) Enqueue(ctx context.Context, target scrape.Target) (scrape.Handle, error) {
	if err := target.Validate(); err != nil {
		return scrape.Handle{}, err
	}
	job, err := s.jobs.Create(ctx, scrape.NewJob(target, s.now()))
	if err != nil {
		return scrape.Handle{}, fmt.Errorf("create scrape job: %w", err)
	}
	s.notify(job)

	if err := s.queue.Push(ctx, queue.TaskFor(job, s.now())); err != nil {
		s.logger.Printf("[Scheduler] Enqueue failed job_id=%s err=%v", job.ID, err)
		return job.Handle(), fmt.Errorf("enqueue scrape job %s: %w", job.ID, err)
	}
	s.logger.Printf("[Scheduler] Job enqueued job_id=%s target_type=%s url=%s", job.ID, job.TargetType, job.TargetURL)
	return job.Handle(), nil
}

func (s *Scheduler) GetJobStatus(ctx context.Context, id uuid.UUID) (scrape.Job, error) {
	return s.jobs.Get(ctx, id)
}

// Cancel stops a PENDING job. Running jobs are not interrupted.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (scrape.Job, error) {
	job, err := s.jobs.Transition(ctx, id, scrape.StatusCancelled, "")
	if err != nil {
		return scrape.Job{}, err
	}
	s.notify(job)
	s.logger.Printf("[Scheduler] Job cancelled job_id=%s", id)
	return job, nil
}

type inFlightRequeuer interface {
	RequeueInFlight(ctx context.Context, lane scrape.TargetType) (int, error)
}

type delayedPromoter interface {
	RunPromoter(ctx context.Context, interval time.Duration)
}

// Run drains every registered lane until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.RLock()
	lanes := make([]scrape.TargetType, 0, len(s.handlers))
	for _, t := range scrape.TargetTypes {
		if _, ok := s.handlers[t]; ok {
			lanes = append(lanes, t)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	if p, ok := s.queue.(delayedPromoter); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RunPromoter(ctx, 500*time.Millisecond)
		}()
	}
	if s.opts.StaleAfter > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runRecovery(ctx)
		}()
	}
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane scrape.TargetType) {
			defer wg.Done()
			s.runLane(ctx, lane)
		}(lane)
	}
	s.logger.Printf("[Scheduler] started lanes=%v concurrency=%d", lanes, s.opts.LaneConcurrency)
	wg.Wait()
	s.logger.Printf("[Scheduler] stopped")
}

func (s *Scheduler) runLane(ctx context.Context, lane scrape.TargetType) {
	if r, ok := s.queue.(inFlightRequeuer); ok {
		if n, err := r.RequeueInFlight(ctx, lane); err != nil {
			s.logger.Printf("[Scheduler] Requeue in-flight failed lane=%s err=%v", lane, err)
		} else if n > 0 {
			s.logger.Printf("[Scheduler] Requeued in-flight tasks lane=%s count=%d", lane, n)
		}
	}

	pool := scraper.NewWorkerPool(s.opts.LaneConcurrency, 0)
	pool.SetRateLimit(s.opts.LaneRPS)
	results := pool.Run(ctx)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for r := range results {
			if r.Err != nil {
				s.logger.Printf("[Scheduler] Lane task error lane=%s err=%v", lane, r.Err)
			}
		}
	}()

	for ctx.Err() == nil {
		task, err := s.queue.Pop(ctx, lane, s.opts.PopTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrNoTask) || ctx.Err() != nil {
				continue
			}
			s.logger.Printf("[Scheduler] Queue pop failed lane=%s err=%v", lane, err)
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.PopTimeout):
			}
			continue
		}
		t := task
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			return s.process(ctx, t)
		}); err != nil {
			break
		}
	}
	pool.Close()
	<-drained
}

// process runs one delivered task. Losing the PENDING to RUNNING transition
// means another worker owns the job, or it was cancelled, and the task is dropped.
func (s *Scheduler) process(ctx context.Context, task queue.Task) error {
	defer func() {
		if err := s.queue.Ack(context.WithoutCancel(ctx), task); err != nil {
			s.logger.Printf("[Scheduler] Ack failed job_id=%s err=%v", task.JobID, err)
		}
	}()

	job, err := s.jobs.Transition(ctx, task.JobID, scrape.StatusRunning, "")
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTransition) || errors.Is(err, scrape.ErrNotFound) {
			s.logger.Printf("[Scheduler] Task dropped at admission job_id=%s err=%v", task.JobID, err)
			return nil
		}
		if perr := s.queue.PushDelayed(context.WithoutCancel(ctx), task, s.opts.RetryDelay); perr != nil {
			return fmt.Errorf("admit job %s: %w (requeue: %v)", task.JobID, err, perr)
		}
		return fmt.Errorf("admit job %s: %w", task.JobID, err)
	}
	s.notify(job)
	s.logger.Printf("[Scheduler] Job started job_id=%s target_type=%s attempt=%d", job.ID, job.TargetType, job.RetryCount+1)

	started := s.now()
	outcome, runErr := s.execute(ctx, job)
	if runErr != nil {
		return s.fail(context.WithoutCancel(ctx), job, runErr)
	}

	if _, err := s.jobs.UpdateMetadata(ctx, job.ID, outcome.Metadata()); err != nil {
		s.logger.Printf("[Scheduler] Job metadata update failed job_id=%s err=%v", job.ID, err)
	}
	done, err := s.jobs.Transition(context.WithoutCancel(ctx), job.ID, scrape.StatusCompleted, "")
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	s.notify(done)
	s.logger.Printf("[Scheduler] Job completed job_id=%s created=%d updated=%d unchanged=%d failed=%d cache_hit=%t duration_ms=%d",
		job.ID, outcome.Created, outcome.Updated, outcome.Unchanged, outcome.Failed, outcome.CacheHit, s.now().Sub(started).Milliseconds())
	return nil
}

// execute consults the cache gate, dispatches to the handler and records a
// fresh ingestion. Handler panics become errors.
func (s *Scheduler) execute(ctx context.Context, job scrape.Job) (out Outcome, err error) {
	force := job.Metadata[metaForce] == "true"
	if !force {
		if recs, ok := s.gate.Lookup(ctx, job.TargetType, job.TargetURL); ok {
			return Outcome{CacheHit: true, Unchanged: len(recs), Records: recs}, nil
		}
	}

	h, ok := s.handler(job.TargetType)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoHandler, job.TargetType)
	}

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	out, err = h(ctx, job)
	if err != nil {
		return out, err
	}
	if merr := s.gate.MarkIngested(ctx, job.TargetType, job.TargetURL, out.SourceIDs()); merr != nil {
		s.logger.Printf("[Scheduler] Cache mark failed job_id=%s err=%v", job.ID, merr)
	}
	return out, nil
}

// fail records cause on the job and schedules a retry while attempts remain.
func (s *Scheduler) fail(ctx context.Context, job scrape.Job, cause error) error {
	failed, err := s.jobs.Transition(ctx, job.ID, scrape.StatusFailed, cause.Error())
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	s.notify(failed)

	if !Retryable(cause) || failed.RetryCount >= s.opts.MaxAttempts {
		s.logger.Printf("[Scheduler] Job failed job_id=%s retry_count=%d err=%v", job.ID, failed.RetryCount, cause)
		return nil
	}

	delay := s.backoff(failed.RetryCount)
	pending, err := s.jobs.Transition(ctx, job.ID, scrape.StatusPending, "")
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	s.notify(pending)
	if err := s.queue.PushDelayed(ctx, queue.TaskFor(pending, s.now()), delay); err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}
	s.logger.Printf("[Scheduler] Job retry scheduled job_id=%s retry_count=%d delay_ms=%d err=%v", job.ID, pending.RetryCount, delay.Milliseconds(), cause)
	return nil
}

func (s *Scheduler) backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 20 {
		retryCount = 20
	}
	return s.opts.RetryDelay << uint(retryCount)
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, scrape.ErrInvalidTransition) || errors.Is(err, ErrNoHandler) || errors.Is(err, scraper.ErrNoLayout) {
		return false
	}
	var httpErr *scraper.FetchHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return true
}

// RecoverStale fails RUNNING jobs untouched for longer than olderThan and
// applies the retry policy to them.
func (s *Scheduler) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.jobs.ListStale(ctx, scrape.StatusRunning, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range stale {
		if err := s.fail(ctx, job, errWorkerLost); err != nil {
			if errors.Is(err, scrape.ErrInvalidTransition) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// RequeuePending pushes PENDING jobs untouched for longer than olderThan back
// onto their lanes. A job whose original task is still queued runs once: the
// second delivery loses the PENDING to RUNNING transition and is dropped.
func (s *Scheduler) RequeuePending(ctx context.Context, olderThan time.Duration) (int, error) {
	orphans, err := s.jobs.ListStale(ctx, scrape.StatusPending, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range orphans {
		if err := s.queue.Push(ctx, queue.TaskFor(job, s.now())); err != nil {
			return n, fmt.Errorf("requeue pending job %s: %w", job.ID, err)
		}
		// refreshes updated_at so the job is not pushed again next sweep
		if _, err := s.jobs.UpdateMetadata(ctx, job.ID, map[string]string{metaRequeuedAt: s.now().UTC().Format(time.RFC3339)}); err != nil {
			s.logger.Printf("[Scheduler] Requeue mark failed job_id=%s err=%v", job.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *Scheduler) recoverOnce(ctx context.Context) {
	n, err := s.RecoverStale(ctx, s.opts.StaleAfter)
	if err != nil && ctx.Err() == nil {
		s.logger.Printf("[Scheduler] Stale recovery failed err=%v", err)
	} else if n > 0 {
		s.logger.Printf("[Scheduler] Recovered stale jobs count=%d", n)
	}
	n, err = s.RequeuePending(ctx, s.opts.StaleAfter)
	if err != nil && ctx.Err() == nil {
		s.logger.Printf("[Scheduler] Pending requeue failed err=%v", err)
	} else if n > 0 {
		s.logger.Printf("[Scheduler] Requeued pending jobs count=%d", n)
	}
}

func (s *Scheduler) runRecovery(ctx context.Context) {
	interval := s.opts.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	s.recoverOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recoverOnce(ctx)
		}
	}
}

func (s *Scheduler) notify(job scrape.Job) {
	if s.notifier != nil {
		s.notifier.JobChanged(job)
	}
}
