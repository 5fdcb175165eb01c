package crawl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

var ErrIngestionFailed = errors.New("ingestion failed for every record")

// Outcome summarizes one crawl for the job record and API callers.
type Outcome struct {
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Unchanged int              `json:"unchanged"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	CacheHit  bool             `json:"cache_hit"`
	Stale     bool             `json:"stale,omitempty"`
	Records   []catalog.Record `json:"records"`
}

func (o Outcome) SourceIDs() []string {
	out := make([]string, 0, len(o.Records))
	for _, r := range o.Records {
		out = append(out, r.SourceID)
	}
	return out
}

func (o Outcome) Metadata() map[string]string {
	return map[string]string{
		"created":   strconv.Itoa(o.Created),
		"updated":   strconv.Itoa(o.Updated),
		"unchanged": strconv.Itoa(o.Unchanged),
		"failed":    strconv.Itoa(o.Failed),
		"skipped":   strconv.Itoa(o.Skipped),
		"records":   strconv.Itoa(len(o.Records)),
		"cache_hit": strconv.FormatBool(o.CacheHit),
	}
}

// Persister writes normalized records through the catalog boundary. A failed
// record is counted and skipped; detail writes and total failure abort.
type Persister struct {
	catalog repository.CatalogRepository
	logger  *log.Logger
}

func NewPersister(catalogRepo repository.CatalogRepository, logger *log.Logger) *Persister {
	if logger == nil {
		logger = log.Default()
	}
	return &Persister{catalog: catalogRepo, logger: logger}
}

func (p *Persister) Ingest(ctx context.Context, records []scraper.NormalizedRecord) (Outcome, error) {
	var out Outcome
	for _, nr := range records {
		stored, outcome, err := p.catalog.UpsertBySourceID(ctx, nr.Record)
		if err != nil {
			out.Failed++
			p.logger.Printf("[Persister] Catalog upsert failed source_id=%s err=%v", nr.Record.SourceID, err)
			continue
		}
		switch outcome {
		case catalog.OutcomeCreated:
			out.Created++
		case catalog.OutcomeUpdated:
			out.Updated++
		default:
			out.Unchanged++
		}

		if nr.Detail != nil {
			if err := p.writeDetail(ctx, stored, outcome, nr); err != nil {
				return out, err
			}
		}
		out.Records = append(out.Records, stored)
	}

	if len(records) > 0 && out.Failed == len(records) {
		return out, fmt.Errorf("%w: %d records", ErrIngestionFailed, len(records))
	}
	return out, nil
}

func (p *Persister) writeDetail(ctx context.Context, stored catalog.Record, outcome catalog.UpsertOutcome, nr scraper.NormalizedRecord) error {
	if outcome == catalog.OutcomeUnchanged {
		if _, _, err := p.catalog.GetProductDetail(ctx, stored.SourceID); err == nil {
			return nil
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("read product detail %s: %w", stored.SourceID, err)
		}
	}
	detail := *nr.Detail
	detail.ProductSourceID = stored.SourceID
	if err := p.catalog.ReplaceProductDetail(ctx, detail, nr.Reviews); err != nil {
		return fmt.Errorf("store product detail %s: %w", stored.SourceID, err)
	}
	return nil
}
