package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"catalog-scraper/internal/app"
	"catalog-scraper/internal/config"
	"catalog-scraper/internal/database/seeder"
	"catalog-scraper/internal/domain/scrape"
	"catalog-scraper/internal/pkg/jwt"
)

func main() {
	targetType := flag.String("type", "NAVIGATION", "target type: NAVIGATION, CATEGORY, PRODUCT or PRODUCT_DETAIL")
	targetURL := flag.String("url", "", "absolute target url (defaults to WOB_BASE_URL)")
	targetID := flag.String("target-id", "", "source id of the product a PRODUCT_DETAIL crawl belongs to")
	force := flag.Bool("force", false, "bypass the cache gate")
	quick := flag.Bool("quick", false, "scrape synchronously without creating a job")
	wait := flag.Duration("wait", 5*time.Minute, "how long to wait for the job to settle")
	operator := flag.String("mint-token", "", "print an operator token for this name and exit")
	seed := flag.Bool("seed", false, "load the demo catalog and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if name := strings.TrimSpace(*operator); name != "" {
		tok, err := jwt.NewHMACService(cfg.JWT.Secret, cfg.JWT.ExpiresIn).GenerateToken(name)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	t, err := scrape.ParseTargetType(*targetType)
	if err != nil {
		log.Fatalf("%v", err)
	}
	target := scrape.Target{URL: strings.TrimSpace(*targetURL), Type: t, TargetID: *targetID}
	if target.URL == "" {
		target.URL = cfg.Scraper.BaseURL
	}
	if *force {
		target.Metadata = map[string]string{"force": "true"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.NewContainer(ctx, cfg, app.NewLogger(cfg.App))
	if err != nil {
		log.Fatalf("failed to init container: %v", err)
	}
	defer func() {
		_ = c.Close()
	}()

	if *seed {
		if err := (seeder.Runner{Seeders: seeder.Defaults(cfg.Scraper.BaseURL)}).Run(ctx, c.Catalog); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		log.Printf("demo catalog seeded base_url=%s", cfg.Scraper.BaseURL)
		return
	}

	if *quick {
		out, err := c.Quick.ScrapeNow(ctx, target)
		if err != nil {
			log.Fatalf("quick scrape failed: %v", err)
		}
		printJSON(out)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)

	handle, err := c.Scheduler.Enqueue(ctx, target)
	if err != nil {
		log.Fatalf("submit failed: %v", err)
	}
	log.Printf("scrape_job id=%s status=%s", handle.ID, handle.Status)

	waitCtx, waitCancel := context.WithTimeout(ctx, *wait)
	defer waitCancel()
	job, err := waitSettled(waitCtx, c, handle)
	if err != nil {
		log.Fatalf("wait for job %s: %v", handle.ID, err)
	}
	printJSON(job)
	if job.Status != scrape.StatusCompleted {
		os.Exit(1)
	}
}

// waitSettled polls until the job completes, is cancelled, or stays FAILED
// across two polls, which means no retry was scheduled.
func waitSettled(ctx context.Context, c *app.Container, handle scrape.Handle) (scrape.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastFailed time.Time
	for {
		job, err := c.Scheduler.GetJobStatus(ctx, handle.ID)
		if err != nil {
			return scrape.Job{}, err
		}
		switch {
		case job.Status.Terminal():
			return job, nil
		case job.Status == scrape.StatusFailed:
			if !lastFailed.IsZero() && job.UpdatedAt.Equal(lastFailed) {
				return job, nil
			}
			lastFailed = job.UpdatedAt
		default:
			lastFailed = time.Time{}
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("encode result: %v", err)
		return
	}
	fmt.Println(string(b))
}
