package seeder

import (
	"context"

	"catalog-scraper/internal/repository"
)

// Seeder loads fixture data into the catalog store. Seeders must be
// idempotent; they run through the same upsert path as crawls.
type Seeder interface {
	Name() string
	Run(ctx context.Context, catalog repository.CatalogRepository) error
}
