package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalog-scraper/internal/domain/catalog"
)

type MemoryCatalogRepository struct {
	mu       sync.Mutex
	records  map[string]catalog.Record
	details  map[string]catalog.ProductDetail
	reviews  map[string][]catalog.Review
	now      func() time.Time
	failNext error
}

func NewMemoryCatalogRepository() *MemoryCatalogRepository {
	return &MemoryCatalogRepository{
		records: map[string]catalog.Record{},
		details: map[string]catalog.ProductDetail{},
		reviews: map[string][]catalog.Review{},
		now:     time.Now,
	}
}

func (r *MemoryCatalogRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// FailNextWrite makes the next write return err. Tests use it to simulate
// storage outages.
func (r *MemoryCatalogRepository) FailNextWrite(err error) {
	r.mu.Lock()
	r.failNext = err
	r.mu.Unlock()
}

func (r *MemoryCatalogRepository) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *MemoryCatalogRepository) UpsertBySourceID(ctx context.Context, rec catalog.Record) (catalog.Record, catalog.UpsertOutcome, error) {
	if rec.SourceID == "" {
		return catalog.Record{}, "", fmt.Errorf("upsert catalog record: empty source id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return catalog.Record{}, "", err
	}

	var existing *catalog.Record
	if cur, ok := r.records[rec.SourceID]; ok {
		existing = &cur
	}
	out, outcome := resolveUpsert(existing, rec, r.now())
	if outcome != catalog.OutcomeUnchanged {
		r.records[rec.SourceID] = out
	}
	return out, outcome, nil
}

func (r *MemoryCatalogRepository) FindBySourceID(ctx context.Context, sourceID string) (catalog.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sourceID]
	if !ok {
		return catalog.Record{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, sourceID)
	}
	return rec, nil
}

func (r *MemoryCatalogRepository) FindBySourceIDs(ctx context.Context, sourceIDs []string) ([]catalog.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.Record, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryCatalogRepository) ListByParent(ctx context.Context, parentSourceID string) ([]catalog.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.Record, 0)
	for _, rec := range r.records {
		if rec.ParentSourceID == parentSourceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryCatalogRepository) ReplaceProductDetail(ctx context.Context, detail catalog.ProductDetail, reviews []catalog.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if _, ok := r.records[detail.ProductSourceID]; !ok {
		return fmt.Errorf("%w: product %s", catalog.ErrNotFound, detail.ProductSourceID)
	}
	d := detail
	d.Specs = make(map[string]string, len(detail.Specs))
	for k, v := range detail.Specs {
		d.Specs[k] = v
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = r.now().UTC()
	}
	r.details[detail.ProductSourceID] = d

	cp := make([]catalog.Review, len(reviews))
	for i, rv := range reviews {
		rv.Position = i
		cp[i] = rv
	}
	r.reviews[detail.ProductSourceID] = cp
	return nil
}

func (r *MemoryCatalogRepository) GetProductDetail(ctx context.Context, productSourceID string) (catalog.ProductDetail, []catalog.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.details[productSourceID]
	if !ok {
		return catalog.ProductDetail{}, nil, fmt.Errorf("%w: detail %s", catalog.ErrNotFound, productSourceID)
	}
	reviews := append([]catalog.Review(nil), r.reviews[productSourceID]...)
	return d, reviews, nil
}
