package seeder

import (
	"context"
	"fmt"
	"strings"

	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/repository"
	"catalog-scraper/internal/scraper"
)

type demoListing struct {
	path    string
	title   string
	parent  string
	kind    catalog.RecordType
	price   string
	author  string
	summary string
}

// DemoCatalogSeeder stores a small navigation, category and product tree
// under BaseURL so the read API has data before the first crawl.
type DemoCatalogSeeder struct {
	BaseURL string
}

func (DemoCatalogSeeder) Name() string { return "demo_catalog" }

func (s DemoCatalogSeeder) Run(ctx context.Context, repo repository.CatalogRepository) error {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return fmt.Errorf("demo catalog needs a base url")
	}
	norm := scraper.NewNormalizer("GBP")

	listings := []demoListing{
		{path: "/collections/books", title: "Books", parent: "/", kind: catalog.RecordNavigation},
		{path: "/collections/fiction", title: "Fiction", parent: "/collections/books", kind: catalog.RecordCategory},
		{path: "/collections/history", title: "History", parent: "/collections/books", kind: catalog.RecordCategory},
		{path: "/products/harbour-lights", title: "Harbour Lights", parent: "/collections/fiction", kind: catalog.RecordProduct,
			price: "£6.49", author: "E. Marlow", summary: "A lighthouse keeper's last winter on the coast."},
		{path: "/products/salt-roads", title: "The Salt Roads of Europe", parent: "/collections/history", kind: catalog.RecordProduct,
			price: "£8.99", author: "T. Okafor", summary: "Trade routes traced through a single commodity."},
		{path: "/products/quiet-orchard", title: "The Quiet Orchard", parent: "/collections/fiction", kind: catalog.RecordProduct,
			price: "Out of stock", author: "R. Lind"},
	}

	for _, l := range listings {
		raw := scraper.RawRecord{
			Kind: l.kind,
			Fields: map[string]string{
				scraper.FieldTitle:       l.title,
				scraper.FieldLink:        l.path,
				scraper.FieldPrice:       l.price,
				scraper.FieldAuthor:      l.author,
				scraper.FieldDescription: l.summary,
			},
		}
		nr := norm.Normalize(raw, base)
		nr.Record.ParentSourceID = scraper.SourceID(scraper.NormalizeURL(l.parent, base))
		if _, _, err := repo.UpsertBySourceID(ctx, nr.Record); err != nil {
			return fmt.Errorf("upsert %s: %w", l.path, err)
		}
	}

	detail := scraper.RawRecord{
		Kind:   catalog.RecordProduct,
		Detail: true,
		Fields: map[string]string{
			scraper.FieldTitle:       "Harbour Lights",
			scraper.FieldLink:        "/products/harbour-lights",
			scraper.FieldPrice:       "£6.49",
			scraper.FieldAuthor:      "E. Marlow",
			scraper.FieldDescription: "A lighthouse keeper's last winter on the coast.",
		},
		Specs: map[string]string{"ISBN": "9780000000017", "Format": "Paperback", "Pages": "312"},
		Reviews: []scraper.RawReview{
			{Author: "maria", Rating: "5", Text: "Could not put it down."},
			{Author: "dev", Rating: "4", Text: "Slow start, strong finish."},
		},
	}
	nr := norm.Normalize(detail, base)
	nr.Record.ParentSourceID = scraper.SourceID(base + "/collections/fiction")
	stored, _, err := repo.UpsertBySourceID(ctx, nr.Record)
	if err != nil {
		return fmt.Errorf("upsert detail product: %w", err)
	}
	nr.Detail.ProductSourceID = stored.SourceID
	if err := repo.ReplaceProductDetail(ctx, *nr.Detail, nr.Reviews); err != nil {
		return fmt.Errorf("store detail: %w", err)
	}
	return nil
}
