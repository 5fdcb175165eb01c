package routes

import (
	"catalog-scraper/internal/delivery/http/handler"
	"catalog-scraper/internal/delivery/http/middleware"
	"catalog-scraper/internal/ws"

	"github.com/gofiber/fiber/v3"
)

type Registry struct {
	Health  *handler.HealthHandler
	Scrape  *handler.ScrapeHandler
	Catalog *handler.CatalogHandler
	Events  *ws.Handler
	Auth    *middleware.AuthMiddleware
}

func (r *Registry) Register(app *fiber.App) {
	if app == nil || r == nil {
		return
	}

	if r.Health != nil {
		r.Health.RegisterRoutes(app)
	}
	if r.Events != nil {
		app.Get("/ws/jobs", r.Events.HandleJobsWS)
	}

	v1 := app.Group("/api/v1")
	if r.Scrape != nil {
		r.Scrape.RegisterRoutes(v1.Group("/scrape", r.Auth.Middleware()))
	}
	if r.Catalog != nil {
		r.Catalog.RegisterRoutes(v1.Group("/catalog"))
	}
}
