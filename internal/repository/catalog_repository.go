package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-scraper/internal/database"
	"catalog-scraper/internal/database/postgres"
	"catalog-scraper/internal/domain/catalog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CatalogRepository is the catalog write and read boundary. Upserts are keyed
// by source id and are no-ops when the stored fingerprint matches.
type CatalogRepository interface {
	UpsertBySourceID(ctx context.Context, rec catalog.Record) (catalog.Record, catalog.UpsertOutcome, error)
	FindBySourceID(ctx context.Context, sourceID string) (catalog.Record, error)
	FindBySourceIDs(ctx context.Context, sourceIDs []string) ([]catalog.Record, error)
	ListByParent(ctx context.Context, parentSourceID string) ([]catalog.Record, error)
	ReplaceProductDetail(ctx context.Context, detail catalog.ProductDetail, reviews []catalog.Review) error
	GetProductDetail(ctx context.Context, productSourceID string) (catalog.ProductDetail, []catalog.Review, error)
}

var errUpsertConflict = errors.New("catalog upsert conflict")

// resolveUpsert decides the write for incoming given the stored row, if any.
func resolveUpsert(existing *catalog.Record, incoming catalog.Record, now time.Time) (catalog.Record, catalog.UpsertOutcome) {
	now = now.UTC()
	if existing == nil {
		rec := incoming
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.LastScrapedAt.IsZero() {
			rec.LastScrapedAt = now
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		rec.ReviewsAggregated = false
		return rec, catalog.OutcomeCreated
	}
	if existing.ContentHash == incoming.ContentHash {
		return *existing, catalog.OutcomeUnchanged
	}
	rec := incoming.MergeOnto(*existing)
	rec.UpdatedAt = now
	return rec, catalog.OutcomeUpdated
}

type PostgresCatalogRepository struct {
	db  database.DB
	now func() time.Time
}

func NewPostgresCatalogRepository(db database.DB) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db, now: time.Now}
}

const selectCatalogRecord = `SELECT id, source_id, record_type, parent_source_id, title, source_url, author, price::text, currency, image_url, description, rating_avg, review_count, content_hash, last_scraped_at, created_at, updated_at FROM catalog_records`

func (r *PostgresCatalogRepository) UpsertBySourceID(ctx context.Context, rec catalog.Record) (catalog.Record, catalog.UpsertOutcome, error) {
	if rec.SourceID == "" {
		return catalog.Record{}, "", fmt.Errorf("upsert catalog record: empty source id")
	}
	out, outcome, err := r.upsertOnce(ctx, rec)
	if errors.Is(err, errUpsertConflict) {
		// a concurrent insert won; the second pass sees its row and updates in place
		out, outcome, err = r.upsertOnce(ctx, rec)
	}
	return out, outcome, err
}

func (r *PostgresCatalogRepository) upsertOnce(ctx context.Context, rec catalog.Record) (catalog.Record, catalog.UpsertOutcome, error) {
	var (
		out     catalog.Record
		outcome catalog.UpsertOutcome
	)
	err := database.InTx(ctx, r.db, func(tx database.Tx) error {
		var existing *catalog.Record
		cur, err := scanCatalogRecord(tx.QueryRow(ctx, selectCatalogRecord+` WHERE source_id = $1 FOR UPDATE`, rec.SourceID))
		switch {
		case err == nil:
			existing = &cur
		case err == sql.ErrNoRows || errors.Is(err, pgx.ErrNoRows):
		default:
			return err
		}

		out, outcome = resolveUpsert(existing, rec, r.now())
		switch outcome {
		case catalog.OutcomeUnchanged:
			return nil
		case catalog.OutcomeCreated:
			_, err = tx.Exec(ctx, `
INSERT INTO catalog_records (id, source_id, record_type, parent_source_id, title, source_url, author, price, currency, image_url, description, rating_avg, review_count, content_hash, last_scraped_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::numeric, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				out.ID, out.SourceID, string(out.Type), out.ParentSourceID, out.Title, out.SourceURL, out.Author,
				priceParam(out.Price), out.Currency, out.ImageURL, out.Description, out.RatingAvg, out.ReviewCount,
				out.ContentHash, out.LastScrapedAt, out.CreatedAt, out.UpdatedAt,
			)
			if postgres.IsUniqueViolation(err) {
				return errUpsertConflict
			}
		default:
			_, err = tx.Exec(ctx, `
UPDATE catalog_records
SET record_type = $2, parent_source_id = $3, title = $4, source_url = $5, author = $6, price = NULLIF($7, '')::numeric,
	currency = $8, image_url = $9, description = $10, rating_avg = $11, review_count = $12, content_hash = $13,
	last_scraped_at = $14, updated_at = $15
WHERE id = $1`,
				out.ID, string(out.Type), out.ParentSourceID, out.Title, out.SourceURL, out.Author, priceParam(out.Price),
				out.Currency, out.ImageURL, out.Description, out.RatingAvg, out.ReviewCount, out.ContentHash,
				out.LastScrapedAt, out.UpdatedAt,
			)
		}
		if err != nil {
			return fmt.Errorf("write catalog record %s: %w", rec.SourceID, err)
		}
		return nil
	})
	if err != nil {
		return catalog.Record{}, "", err
	}
	return out, outcome, nil
}

func (r *PostgresCatalogRepository) FindBySourceID(ctx context.Context, sourceID string) (catalog.Record, error) {
	rec, err := scanCatalogRecord(r.db.QueryRow(ctx, selectCatalogRecord+` WHERE source_id = $1`, sourceID))
	if err != nil {
		if err == sql.ErrNoRows || errors.Is(err, pgx.ErrNoRows) {
			return catalog.Record{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, sourceID)
		}
		return catalog.Record{}, err
	}
	return rec, nil
}

func (r *PostgresCatalogRepository) FindBySourceIDs(ctx context.Context, sourceIDs []string) ([]catalog.Record, error) {
	if len(sourceIDs) == 0 {
		return []catalog.Record{}, nil
	}
	rows, err := r.db.Query(ctx, selectCatalogRecord+` WHERE source_id = ANY($1) ORDER BY array_position($1, source_id)`, sourceIDs)
	if err != nil {
		return nil, err
	}
	return collectCatalogRecords(rows)
}

func (r *PostgresCatalogRepository) ListByParent(ctx context.Context, parentSourceID string) ([]catalog.Record, error) {
	rows, err := r.db.Query(ctx, selectCatalogRecord+` WHERE parent_source_id = $1 ORDER BY created_at ASC, source_id ASC`, parentSourceID)
	if err != nil {
		return nil, err
	}
	return collectCatalogRecords(rows)
}

func (r *PostgresCatalogRepository) ReplaceProductDetail(ctx context.Context, detail catalog.ProductDetail, reviews []catalog.Review) error {
	specs, err := json.Marshal(nonNilSpecs(detail.Specs))
	if err != nil {
		return fmt.Errorf("encode specs: %w", err)
	}
	updatedAt := detail.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now().UTC()
	}
	return database.InTx(ctx, r.db, func(tx database.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO catalog_product_details (product_source_id, full_description, specs, updated_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (product_source_id) DO UPDATE
SET full_description = EXCLUDED.full_description, specs = EXCLUDED.specs, updated_at = EXCLUDED.updated_at`,
			detail.ProductSourceID, detail.FullDescription, string(specs), updatedAt,
		); err != nil {
			return fmt.Errorf("upsert product detail %s: %w", detail.ProductSourceID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_reviews WHERE product_source_id = $1`, detail.ProductSourceID); err != nil {
			return fmt.Errorf("clear reviews %s: %w", detail.ProductSourceID, err)
		}
		for i, rv := range reviews {
			if _, err := tx.Exec(ctx, `
INSERT INTO catalog_reviews (product_source_id, position, author, rating, body)
VALUES ($1, $2, $3, $4, $5)`,
				detail.ProductSourceID, i, rv.Author, rv.Rating, rv.Text,
			); err != nil {
				return fmt.Errorf("insert review %d for %s: %w", i, detail.ProductSourceID, err)
			}
		}
		return nil
	})
}

func (r *PostgresCatalogRepository) GetProductDetail(ctx context.Context, productSourceID string) (catalog.ProductDetail, []catalog.Review, error) {
	var (
		d     catalog.ProductDetail
		specs []byte
	)
	err := r.db.QueryRow(ctx, `SELECT product_source_id, full_description, specs, updated_at FROM catalog_product_details WHERE product_source_id = $1`, productSourceID).
		Scan(&d.ProductSourceID, &d.FullDescription, &specs, &d.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows || errors.Is(err, pgx.ErrNoRows) {
			return catalog.ProductDetail{}, nil, fmt.Errorf("%w: detail %s", catalog.ErrNotFound, productSourceID)
		}
		return catalog.ProductDetail{}, nil, err
	}
	d.Specs = map[string]string{}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &d.Specs); err != nil {
			return catalog.ProductDetail{}, nil, fmt.Errorf("decode specs: %w", err)
		}
	}

	rows, err := r.db.Query(ctx, `SELECT position, author, rating, body FROM catalog_reviews WHERE product_source_id = $1 ORDER BY position ASC`, productSourceID)
	if err != nil {
		return catalog.ProductDetail{}, nil, err
	}
	defer rows.Close()
	reviews := make([]catalog.Review, 0)
	for rows.Next() {
		var rv catalog.Review
		if err := rows.Scan(&rv.Position, &rv.Author, &rv.Rating, &rv.Text); err != nil {
			return catalog.ProductDetail{}, nil, err
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return catalog.ProductDetail{}, nil, err
	}
	return d, reviews, nil
}

func collectCatalogRecords(rows database.Rows) ([]catalog.Record, error) {
	defer rows.Close()
	out := make([]catalog.Record, 0)
	for rows.Next() {
		rec, err := scanCatalogRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanCatalogRecord(row database.Row) (catalog.Record, error) {
	var (
		rec        catalog.Record
		recordType string
		price      sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SourceID,
		&recordType,
		&rec.ParentSourceID,
		&rec.Title,
		&rec.SourceURL,
		&rec.Author,
		&price,
		&rec.Currency,
		&rec.ImageURL,
		&rec.Description,
		&rec.RatingAvg,
		&rec.ReviewCount,
		&rec.ContentHash,
		&rec.LastScrapedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return catalog.Record{}, err
	}
	rec.Type = catalog.RecordType(recordType)
	if price.Valid {
		rec.Price = catalog.KnownPrice(price.String)
	}
	rec.LastScrapedAt = rec.LastScrapedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func priceParam(p catalog.Price) string {
	if !p.Known {
		return ""
	}
	return p.Amount
}

func nonNilSpecs(specs map[string]string) map[string]string {
	if specs == nil {
		return map[string]string{}
	}
	return specs
}
