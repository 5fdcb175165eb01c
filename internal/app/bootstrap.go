package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"catalog-scraper/internal/config"
	"catalog-scraper/internal/delivery/http/handler"
	"catalog-scraper/internal/delivery/http/middleware"
	"catalog-scraper/internal/delivery/http/routes"
	"catalog-scraper/internal/ws"

	"github.com/gofiber/fiber/v3"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
}

func New(c *Container) *App {
	f := fiber.New(fiber.Config{AppName: c.Config.App.AppName})

	registerGlobalMiddleware(f, c)
	registerRoutes(f, c)

	return &App{Fiber: f, Container: c}
}

// Bootstrap builds the container and HTTP app and starts the background
// workers. The returned cleanup stops the workers and releases resources.
func Bootstrap(ctx context.Context, cfg config.Config) (*App, func() error, error) {
	logger := NewLogger(cfg.App)
	c, err := NewContainer(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	app := New(c)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run(runCtx)
	}()

	cleanup := func() error {
		cancel()
		wg.Wait()
		return c.Close()
	}
	return app, cleanup, nil
}

func registerGlobalMiddleware(app *fiber.App, c *Container) {
	app.Use(middleware.NewAccessLogMiddleware(c.Logger).Middleware())
	app.Use(middleware.NewErrorMiddleware(c.Logger).Middleware())
}

func registerRoutes(app *fiber.App, c *Container) {
	checks := map[string]handler.HealthCheck{"postgres": nil, "redis": nil}
	if c.DB != nil {
		checks["postgres"] = c.DB.Ping
	}
	if c.Cache != nil && c.Cache.Available() {
		checks["redis"] = c.Cache.Ping
	}

	reg := &routes.Registry{
		Health:  handler.NewHealthHandler(checks),
		Scrape:  handler.NewScrapeHandler(c.Scheduler, c.Quick, c.Logger),
		Catalog: handler.NewCatalogHandler(c.Catalog),
		Events:  ws.NewHandler(c.Hub, c.Logger),
		Auth:    middleware.NewAuthMiddleware(c.Tokens),
	}
	reg.Register(app)
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
