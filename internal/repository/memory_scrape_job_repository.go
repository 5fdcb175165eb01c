package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalog-scraper/internal/domain/scrape"

	"github.com/google/uuid"
)

// MemoryScrapeJobRepository keeps jobs in process. Used when no database is
// configured and in tests.
type MemoryScrapeJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]scrape.Job
	now  func() time.Time
}

func NewMemoryScrapeJobRepository() *MemoryScrapeJobRepository {
	return &MemoryScrapeJobRepository{jobs: map[uuid.UUID]scrape.Job{}, now: time.Now}
}

func (r *MemoryScrapeJobRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryScrapeJobRepository) Create(ctx context.Context, job scrape.Job) (scrape.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return scrape.Job{}, fmt.Errorf("scrape job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return job.Clone(), nil
}

func (r *MemoryScrapeJobRepository) Get(ctx context.Context, id uuid.UUID) (scrape.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
	}
	return job.Clone(), nil
}

func (r *MemoryScrapeJobRepository) Transition(ctx context.Context, id uuid.UUID, to scrape.Status, errorDetail string) (scrape.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
	}
	job = job.Clone()
	if err := job.Apply(to, errorDetail, r.now()); err != nil {
		return scrape.Job{}, err
	}
	r.jobs[id] = job
	return job.Clone(), nil
}

func (r *MemoryScrapeJobRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, kv map[string]string) (scrape.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
	}
	job = job.Clone()
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	for k, v := range kv {
		job.Metadata[k] = v
	}
	job.UpdatedAt = r.now().UTC()
	r.jobs[id] = job
	return job.Clone(), nil
}

func (r *MemoryScrapeJobRepository) ListStale(ctx context.Context, status scrape.Status, olderThan time.Time) ([]scrape.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scrape.Job, 0)
	for _, job := range r.jobs {
		if job.Status == status && job.UpdatedAt.Before(olderThan) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
