package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-scraper/internal/database"
	"catalog-scraper/internal/domain/scrape"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ScrapeJobRepository persists jobs. Transition is the only way status
// changes, and it applies the state machine atomically per job.
type ScrapeJobRepository interface {
	Create(ctx context.Context, job scrape.Job) (scrape.Job, error)
	Get(ctx context.Context, id uuid.UUID) (scrape.Job, error)
	Transition(ctx context.Context, id uuid.UUID, to scrape.Status, errorDetail string) (scrape.Job, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, kv map[string]string) (scrape.Job, error)
	ListStale(ctx context.Context, status scrape.Status, olderThan time.Time) ([]scrape.Job, error)
}

type PostgresScrapeJobRepository struct {
	db  database.DB
	now func() time.Time
}

func NewPostgresScrapeJobRepository(db database.DB) *PostgresScrapeJobRepository {
	return &PostgresScrapeJobRepository{db: db, now: time.Now}
}

const selectScrapeJob = `SELECT id, target_url, target_type, target_id, status, retry_count, error_log, metadata, created_at, started_at, finished_at, updated_at FROM scrape_jobs`

func (r *PostgresScrapeJobRepository) Create(ctx context.Context, job scrape.Job) (scrape.Job, error) {
	md, err := encodeMetadata(job.Metadata)
	if err != nil {
		return scrape.Job{}, err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO scrape_jobs (id, target_url, target_type, target_id, status, retry_count, error_log, metadata, created_at, started_at, finished_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)`,
		job.ID,
		job.TargetURL,
		string(job.TargetType),
		job.TargetID,
		string(job.Status),
		job.RetryCount,
		job.ErrorLog,
		md,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("insert scrape job: %w", err)
	}
	return job.Clone(), nil
}

func (r *PostgresScrapeJobRepository) Get(ctx context.Context, id uuid.UUID) (scrape.Job, error) {
	job, err := scanScrapeJob(r.db.QueryRow(ctx, selectScrapeJob+` WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows || errors.Is(err, pgx.ErrNoRows) {
			return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
		}
		return scrape.Job{}, err
	}
	return job, nil
}

func (r *PostgresScrapeJobRepository) Transition(ctx context.Context, id uuid.UUID, to scrape.Status, errorDetail string) (scrape.Job, error) {
	var out scrape.Job
	err := database.InTx(ctx, r.db, func(tx database.Tx) error {
		job, err := scanScrapeJob(tx.QueryRow(ctx, selectScrapeJob+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if err == sql.ErrNoRows || errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
			}
			return err
		}
		if err := job.Apply(to, errorDetail, r.now()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE scrape_jobs
SET status = $2, retry_count = $3, error_log = $4, started_at = $5, finished_at = $6, updated_at = $7
WHERE id = $1`,
			job.ID,
			string(job.Status),
			job.RetryCount,
			job.ErrorLog,
			job.StartedAt,
			job.FinishedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update scrape job: %w", err)
		}
		out = job
		return nil
	})
	if err != nil {
		return scrape.Job{}, err
	}
	return out, nil
}

func (r *PostgresScrapeJobRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, kv map[string]string) (scrape.Job, error) {
	patch, err := encodeMetadata(kv)
	if err != nil {
		return scrape.Job{}, err
	}
	n, err := r.db.Exec(ctx, `UPDATE scrape_jobs SET metadata = metadata || $2::jsonb, updated_at = $3 WHERE id = $1`, id, patch, r.now().UTC())
	if err != nil {
		return scrape.Job{}, fmt.Errorf("update scrape job metadata: %w", err)
	}
	if n == 0 {
		return scrape.Job{}, fmt.Errorf("%w: %s", scrape.ErrNotFound, id)
	}
	return r.Get(ctx, id)
}

func (r *PostgresScrapeJobRepository) ListStale(ctx context.Context, status scrape.Status, olderThan time.Time) ([]scrape.Job, error) {
	rows, err := r.db.Query(ctx, selectScrapeJob+` WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`, string(status), olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]scrape.Job, 0)
	for rows.Next() {
		job, err := scanScrapeJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanScrapeJob(row database.Row) (scrape.Job, error) {
	var (
		job        scrape.Job
		targetType string
		status     string
		errorLog   sql.NullString
		metadata   []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.TargetURL,
		&targetType,
		&job.TargetID,
		&status,
		&job.RetryCount,
		&errorLog,
		&metadata,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&job.UpdatedAt,
	); err != nil {
		return scrape.Job{}, err
	}
	job.TargetType = scrape.TargetType(targetType)
	job.Status = scrape.Status(status)
	if errorLog.Valid {
		v := errorLog.String
		job.ErrorLog = &v
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return scrape.Job{}, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return job, nil
}

func encodeMetadata(kv map[string]string) (string, error) {
	if kv == nil {
		kv = map[string]string{}
	}
	b, err := json.Marshal(kv)
	if err != nil {
		return "", fmt.Errorf("encode job metadata: %w", err)
	}
	return string(b), nil
}
