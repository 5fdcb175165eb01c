package crawl

import (
	"context"
	"errors"
	"fmt"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

// QuickScraper serves synchronous crawls without the job store. When a crawl
// fails it answers with the last records stored for the target, flagged stale.
type QuickScraper struct {
	scheduler *Scheduler
	catalog   repository.CatalogRepository
}

func NewQuickScraper(s *Scheduler, catalogRepo repository.CatalogRepository) *QuickScraper {
	return &QuickScraper{scheduler: s, catalog: catalogRepo}
}

func (q *QuickScraper) ScrapeNow(ctx context.Context, target scrape.Target) (Outcome, error) {
	if err := target.Validate(); err != nil {
		return Outcome{}, err
	}
	job := scrape.NewJob(target, q.scheduler.now())

	out, err := q.scheduler.execute(ctx, job)
	if err == nil {
		return out, nil
	}

	fallback, ferr := q.lastKnown(ctx, job)
	if ferr != nil || len(fallback) == 0 {
		return Outcome{}, fmt.Errorf("quick scrape %s: %w", target.URL, err)
	}
	q.scheduler.logger.Printf("[Quick] Scrape failed, serving stored records url=%s records=%d err=%v", target.URL, len(fallback), err)
	return Outcome{Stale: true, Unchanged: len(fallback), Records: fallback}, nil
}

func (q *QuickScraper) lastKnown(ctx context.Context, job scrape.Job) ([]catalog.Record, error) {
	sid := scraper.SourceID(job.TargetURL)
	switch job.TargetType {
	case scrape.TargetNavigation, scrape.TargetCategory:
		return q.catalog.ListByParent(ctx, sid)
	default:
		if job.TargetID != "" {
			sid = job.TargetID
		}
		rec, err := q.catalog.FindBySourceID(ctx, sid)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []catalog.Record{rec}, nil
	}
}
