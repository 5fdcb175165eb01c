package crawl

import (
	"context"
	"errors"
	"fmt"
	"log"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

// Handler runs the crawl for one job. It must not change the job's status.
type Handler func(ctx context.Context, job scrape.Job) (Outcome, error)

// Pipeline is fetch, extract, normalize and persist for each target type.
type Pipeline struct {
	fetchers   scraper.FetcherSet
	extractor  *scraper.Extractor
	normalizer *scraper.Normalizer
	persister  *Persister
	catalog    repository.CatalogRepository
	logger     *log.Logger
}

func NewPipeline(fetchers scraper.FetcherSet, extractor *scraper.Extractor, normalizer *scraper.Normalizer, catalogRepo repository.CatalogRepository, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		fetchers:   fetchers,
		extractor:  extractor,
		normalizer: normalizer,
		persister:  NewPersister(catalogRepo, logger),
		catalog:    catalogRepo,
		logger:     logger,
	}
}

// Handlers is the dispatch table the Scheduler registers.
func (p *Pipeline) Handlers() map[scrape.TargetType]Handler {
	return map[scrape.TargetType]Handler{
		scrape.TargetNavigation:    p.crawlListing,
		scrape.TargetCategory:      p.crawlListing,
		scrape.TargetProduct:       p.crawlProduct,
		scrape.TargetProductDetail: p.crawlProductDetail,
	}
}

type extraction struct {
	raws    []scraper.RawRecord
	base    string
	skipped int
}

func (p *Pipeline) fetchAndExtract(ctx context.Context, job scrape.Job) (extraction, error) {
	f := p.fetchers.For(job.TargetType)
	if f == nil {
		return extraction{}, fmt.Errorf("no fetcher for %s", job.TargetType)
	}
	page, err := f.Fetch(ctx, job.TargetURL)
	if err != nil {
		return extraction{}, err
	}
	items, err := p.extractor.Extract(page, job.TargetType)
	if err != nil {
		return extraction{}, err
	}

	ex := extraction{base: scraper.PageBase(page)}
	for _, it := range items {
		if it.Err != nil {
			ex.skipped++
			p.logger.Printf("[Pipeline] Extract item failed job_id=%s index=%d err=%v", job.ID, it.Index, it.Err)
			continue
		}
		ex.raws = append(ex.raws, *it.Record)
	}
	return ex, nil
}

// crawlListing stores navigation and category listings under the page they
// were found on.
func (p *Pipeline) crawlListing(ctx context.Context, job scrape.Job) (Outcome, error) {
	ex, err := p.fetchAndExtract(ctx, job)
	if err != nil {
		return Outcome{}, err
	}
	parent := scraper.SourceID(job.TargetURL)
	normalized := make([]scraper.NormalizedRecord, 0, len(ex.raws))
	for _, raw := range ex.raws {
		nr := p.normalizer.Normalize(raw, ex.base)
		nr.Record.ParentSourceID = parent
		normalized = append(normalized, nr)
	}
	out, err := p.persister.Ingest(ctx, normalized)
	out.Skipped += ex.skipped
	return out, err
}

func (p *Pipeline) crawlProduct(ctx context.Context, job scrape.Job) (Outcome, error) {
	ex, err := p.fetchAndExtract(ctx, job)
	if err != nil {
		return Outcome{}, err
	}
	normalized := make([]scraper.NormalizedRecord, 0, len(ex.raws))
	for _, raw := range ex.raws {
		normalized = append(normalized, p.normalizer.Normalize(raw, ex.base))
	}
	out, err := p.persister.Ingest(ctx, normalized)
	out.Skipped += ex.skipped
	return out, err
}

// crawlProductDetail attaches detail and reviews to the product named by the
// job's target id when it exists, else to the product at the page URL.
func (p *Pipeline) crawlProductDetail(ctx context.Context, job scrape.Job) (Outcome, error) {
	ex, err := p.fetchAndExtract(ctx, job)
	if err != nil {
		return Outcome{}, err
	}

	var target *catalog.Record
	if job.TargetID != "" {
		rec, err := p.catalog.FindBySourceID(ctx, job.TargetID)
		switch {
		case err == nil:
			target = &rec
		case errors.Is(err, catalog.ErrNotFound):
			p.logger.Printf("[Pipeline] Detail target not in catalog, keying by url job_id=%s target_id=%s", job.ID, job.TargetID)
		default:
			return Outcome{}, err
		}
	}

	normalized := make([]scraper.NormalizedRecord, 0, len(ex.raws))
	for _, raw := range ex.raws {
		nr := p.normalizer.Normalize(raw, ex.base)
		if target != nil {
			nr.Record.SourceID = target.SourceID
			if nr.Detail != nil {
				nr.Detail.ProductSourceID = target.SourceID
			}
		}
		normalized = append(normalized, nr)
	}
	out, err := p.persister.Ingest(ctx, normalized)
	out.Skipped += ex.skipped
	return out, err
}
