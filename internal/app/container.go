package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"catalog-scraper/internal/config"
	"catalog-scraper/internal/database"
	"catalog-scraper/internal/database/migration"
	dbpostgres "catalog-scraper/internal/database/postgres"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/infrastructure/cache"
	"catalog-scraper/internal/infrastructure/queue"
	"catalog-scraper/internal/pkg/jwt"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
	"catalog-scraper/internal/usecase/crawl"
	"catalog-scraper/internal/ws"
)

// Container owns every long-lived dependency. Without Postgres the stores are
// in-memory; without Redis the queue is in-memory and the cache gate never
// reports fresh.
type Container struct {
	Config config.Config
	Logger *log.Logger

	DB    database.DB
	Cache *cache.Redis

	Jobs    repository.ScrapeJobRepository
	Catalog repository.CatalogRepository
	Queue   queue.Queue
	Hub     *ws.Hub
	Tokens  jwt.Service

	Scheduler *crawl.Scheduler
	Quick     *crawl.QuickScraper

	memQueue *queue.MemoryQueue
}

func NewContainer(ctx context.Context, cfg config.Config, logger *log.Logger) (*Container, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Container{Config: cfg, Logger: logger}

	if err := c.initStores(ctx); err != nil {
		return nil, err
	}
	c.initQueue()

	if cfg.JWT.Enabled() {
		c.Tokens = jwt.NewHMACService(cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	}

	c.Hub = ws.NewHub(logger)
	gate := crawl.NewCacheGate(c.Cache, c.Catalog, cfg.Scraper.CacheTTL, cfg.Scraper.CacheScope, logger)

	c.Scheduler = crawl.NewScheduler(crawl.Deps{
		Jobs:     c.Jobs,
		Queue:    c.Queue,
		Gate:     gate,
		Notifier: c.Hub,
		Logger:   logger,
		Options: crawl.Options{
			MaxAttempts:     cfg.Scraper.MaxAttempts,
			RetryDelay:      cfg.Scraper.RetryDelay,
			LaneConcurrency: cfg.Scraper.LaneConcurrency,
			LaneRPS:         cfg.Scraper.LaneRPS,
			StaleAfter:      cfg.Scraper.StaleAfter,
		},
	})
	pipeline := crawl.NewPipeline(
		fetcherSet(cfg.Scraper),
		scraper.NewExtractor(logger),
		scraper.NewNormalizer(cfg.Scraper.DefaultCurrency),
		c.Catalog,
		logger,
	)
	c.Scheduler.RegisterAll(pipeline.Handlers())
	c.Quick = crawl.NewQuickScraper(c.Scheduler, c.Catalog)

	return c, nil
}

func (c *Container) initStores(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		c.Logger.Printf("[App] Postgres not configured, using in-memory stores")
		c.Jobs = repository.NewMemoryScrapeJobRepository()
		c.Catalog = repository.NewMemoryCatalogRepository()
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := dbpostgres.Connect(connCtx, c.Config.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	migCtx, migCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer migCancel()
	if err := (migration.Runner{}).Run(migCtx, db.SQLDB()); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	c.DB = db
	c.Jobs = repository.NewPostgresScrapeJobRepository(db)
	c.Catalog = repository.NewPostgresCatalogRepository(db)
	return nil
}

func (c *Container) initQueue() {
	c.Cache = cache.NewRedis(c.Config.Redis, c.Logger)
	if c.Cache.Available() {
		if q, err := queue.NewRedisQueue(c.Cache.Client(), c.Logger); err == nil {
			c.Queue = q
			return
		}
	}
	c.Logger.Printf("[App] Redis unavailable, using in-memory queue")
	c.memQueue = queue.NewMemoryQueue()
	c.Queue = c.memQueue
}

func fetcherSet(cfg config.ScraperConfig) scraper.FetcherSet {
	modes := make(map[scrape.TargetType]string, len(cfg.FetchModes))
	for name, mode := range cfg.FetchModes {
		if t, err := scrape.ParseTargetType(name); err == nil {
			modes[t] = mode
		}
	}
	return scraper.FetcherSet{
		Static:   scraper.NewStaticFetcher(cfg.Timeout, cfg.UserAgent),
		Rendered: scraper.NewRenderedFetcher(cfg.Timeout, cfg.UserAgent),
		Modes:    modes,
	}
}

func (c *Container) Run(ctx context.Context) {
	go c.Hub.Run(ctx)
	c.Scheduler.Run(ctx)
}

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.memQueue != nil {
		c.memQueue.Close()
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
