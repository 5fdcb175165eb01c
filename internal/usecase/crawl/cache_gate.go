package crawl

import (
	"context"
	"log"
	"time"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

const (
	CacheScopeType   = "type"
	CacheScopeTarget = "target"

	freshKeyPrefix = "catalog:fresh:"
)

type jsonCache interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type freshnessMark struct {
	IngestedAt time.Time `json:"ingested_at"`
	SourceIDs  []string  `json:"source_ids"`
}

// CacheGate answers whether a target was ingested recently enough that the
// crawl can be skipped. With no cache, or no mark, nothing is fresh.
type CacheGate struct {
	cache   jsonCache
	catalog repository.CatalogRepository
	ttl     time.Duration
	scope   string
	logger  *log.Logger
	now     func() time.Time
}

func NewCacheGate(cache jsonCache, catalogRepo repository.CatalogRepository, ttl time.Duration, scope string, logger *log.Logger) *CacheGate {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if scope != CacheScopeTarget {
		scope = CacheScopeType
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CacheGate{cache: cache, catalog: catalogRepo, ttl: ttl, scope: scope, logger: logger, now: time.Now}
}

func (g *CacheGate) key(t scrape.TargetType, targetURL string) string {
	if g.scope == CacheScopeTarget {
		return freshKeyPrefix + string(t) + ":" + scraper.SourceID(targetURL)
	}
	return freshKeyPrefix + string(t)
}

func (g *CacheGate) mark(ctx context.Context, t scrape.TargetType, targetURL string) (freshnessMark, bool) {
	if g == nil || g.cache == nil {
		return freshnessMark{}, false
	}
	var m freshnessMark
	ok, err := g.cache.GetJSON(ctx, g.key(t, targetURL), &m)
	if err != nil {
		g.logger.Printf("[CacheGate] read failed target_type=%s err=%v", t, err)
		return freshnessMark{}, false
	}
	if !ok || m.IngestedAt.IsZero() || len(m.SourceIDs) == 0 {
		return freshnessMark{}, false
	}
	if g.now().Sub(m.IngestedAt) >= g.ttl {
		return freshnessMark{}, false
	}
	return m, true
}

func (g *CacheGate) IsFresh(ctx context.Context, t scrape.TargetType, targetURL string) bool {
	_, ok := g.Lookup(ctx, t, targetURL)
	return ok
}

func (g *CacheGate) GetCached(ctx context.Context, t scrape.TargetType, targetURL string) []catalog.Record {
	recs, _ := g.Lookup(ctx, t, targetURL)
	return recs
}

// Lookup returns the cached records and true only when the mark is inside the
// window and at least one of its records still resolves.
func (g *CacheGate) Lookup(ctx context.Context, t scrape.TargetType, targetURL string) ([]catalog.Record, bool) {
	m, ok := g.mark(ctx, t, targetURL)
	if !ok || g.catalog == nil {
		return nil, false
	}
	recs, err := g.catalog.FindBySourceIDs(ctx, m.SourceIDs)
	if err != nil {
		g.logger.Printf("[CacheGate] lookup failed target_type=%s err=%v", t, err)
		return nil, false
	}
	if len(recs) == 0 {
		return nil, false
	}
	return recs, true
}

// MarkIngested records a successful ingestion. Empty ingestions leave no mark.
func (g *CacheGate) MarkIngested(ctx context.Context, t scrape.TargetType, targetURL string, sourceIDs []string) error {
	if g == nil || g.cache == nil || len(sourceIDs) == 0 {
		return nil
	}
	m := freshnessMark{IngestedAt: g.now().UTC(), SourceIDs: sourceIDs}
	return g.cache.SetJSON(ctx, g.key(t, targetURL), m, g.ttl)
}

func (g *CacheGate) Invalidate(ctx context.Context, t scrape.TargetType, targetURL string) error {
	if g == nil || g.cache == nil {
		return nil
	}
	return g.cache.Delete(ctx, g.key(t, targetURL))
}
