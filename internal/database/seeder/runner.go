package seeder

import (
	"context"
	"fmt"

	"catalog-scraper/internal/repository"
)

type Runner struct {
	Seeders []Seeder
}

func Defaults(baseURL string) []Seeder {
	return []Seeder{DemoCatalogSeeder{BaseURL: baseURL}}
}

func (r Runner) Run(ctx context.Context, catalog repository.CatalogRepository) error {
	if catalog == nil {
		return fmt.Errorf("nil catalog repository")
	}
	for _, s := range r.Seeders {
		if s == nil {
			continue
		}
		if err := s.Run(ctx, catalog); err != nil {
			return fmt.Errorf("seed %s: %w", s.Name(), err)
		}
	}
	return nil
}
