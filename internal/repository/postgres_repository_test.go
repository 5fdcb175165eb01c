package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"catalog-scraper/internal/database"
	"catalog-scraper/internal/domain/catalog"
	"catalog-scraper/internal/domain/scrape"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan dest mismatch: %d != %d", len(dest), len(r.vals))
	}
	for i := range dest {
		dv := reflect.ValueOf(dest[i]).Elem()
		vv := reflect.ValueOf(r.vals[i])
		if !vv.IsValid() {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		if !vv.Type().AssignableTo(dv.Type()) {
			return fmt.Errorf("scan type mismatch at %d: %s into %s", i, vv.Type(), dv.Type())
		}
		dv.Set(vv)
	}
	return nil
}

// fakeTx answers QueryRow from a queue of rows and records every Exec.
type fakeTx struct {
	rows      []fakeRow
	execErrs  []error
	execs     []string
	committed bool
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	t.execs = append(t.execs, strings.TrimSpace(query))
	if len(t.execErrs) > 0 {
		err := t.execErrs[0]
		t.execErrs = t.execErrs[1:]
		return 0, err
	}
	return 1, nil
}

func (t *fakeTx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	if len(t.rows) == 0 {
		return fakeRow{err: sql.ErrNoRows}
	}
	r := t.rows[0]
	t.rows = t.rows[1:]
	return r
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeDB struct {
	txs   []*fakeTx
	begun int
}

func (db *fakeDB) Ping(ctx context.Context) error { return nil }
func (db *fakeDB) Close() error                   { return nil }
func (db *fakeDB) SQLDB() *sql.DB                 { return nil }

func (db *fakeDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return 0, fmt.Errorf("not implemented")
}

func (db *fakeDB) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (db *fakeDB) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return fakeRow{err: sql.ErrNoRows}
}

func (db *fakeDB) Begin(ctx context.Context) (database.Tx, error) {
	if db.begun >= len(db.txs) {
		return nil, fmt.Errorf("unexpected transaction")
	}
	tx := db.txs[db.begun]
	db.begun++
	return tx, nil
}

func jobRow(id uuid.UUID, status scrape.Status, updated time.Time) fakeRow {
	return fakeRow{vals: []any{
		id,
		"https://site.test/fiction",
		string(scrape.TargetCategory),
		"",
		string(status),
		0,
		sql.NullString{},
		[]byte(`{"source":"api"}`),
		updated,
		sql.NullTime{},
		sql.NullTime{},
		updated,
	}}
}

func TestPostgresScrapeJobRepository_TransitionLocksAndUpdates(t *testing.T) {
	id := uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &fakeTx{rows: []fakeRow{jobRow(id, scrape.StatusPending, now)}}
	repo := NewPostgresScrapeJobRepository(&fakeDB{txs: []*fakeTx{tx}})
	repo.now = func() time.Time { return now.Add(time.Second) }

	job, err := repo.Transition(context.Background(), id, scrape.StatusRunning, "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if job.Status != scrape.StatusRunning || job.StartedAt == nil || job.Metadata["source"] != "api" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(tx.execs) != 1 || !strings.HasPrefix(tx.execs[0], "UPDATE scrape_jobs") || !tx.committed {
		t.Fatalf("expected one committed update, got %v committed=%v", tx.execs, tx.committed)
	}
}

func TestPostgresScrapeJobRepository_InvalidTransitionWritesNothing(t *testing.T) {
	id := uuid.New()
	tx := &fakeTx{rows: []fakeRow{jobRow(id, scrape.StatusCancelled, time.Now())}}
	repo := NewPostgresScrapeJobRepository(&fakeDB{txs: []*fakeTx{tx}})

	if _, err := repo.Transition(context.Background(), id, scrape.StatusRunning, ""); !errors.Is(err, scrape.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(tx.execs) != 0 || tx.committed {
		t.Fatalf("expected no writes, got %v", tx.execs)
	}
}

func TestPostgresScrapeJobRepository_TransitionNotFound(t *testing.T) {
	repo := NewPostgresScrapeJobRepository(&fakeDB{txs: []*fakeTx{{}}})
	if _, err := repo.Transition(context.Background(), uuid.New(), scrape.StatusRunning, ""); !errors.Is(err, scrape.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func catalogRow(id uuid.UUID, sourceID, hash string, at time.Time) fakeRow {
	return fakeRow{vals: []any{
		id, sourceID, string(catalog.RecordProduct), "", "Book A", "https://site.test/books/a", "",
		sql.NullString{String: "9.99", Valid: true}, "GBP", "", "", 0.0, 0, hash, at, at, at,
	}}
}

func TestPostgresCatalogRepository_UniqueViolationFallsBackToUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existingID := uuid.New()

	first := &fakeTx{execErrs: []error{&pgconn.PgError{Code: "23505"}}}
	second := &fakeTx{rows: []fakeRow{catalogRow(existingID, "src-a", "old", now)}}
	repo := NewPostgresCatalogRepository(&fakeDB{txs: []*fakeTx{first, second}})
	repo.now = func() time.Time { return now }

	rec, outcome, err := repo.UpsertBySourceID(context.Background(), catalog.Record{
		SourceID:    "src-a",
		Type:        catalog.RecordProduct,
		Title:       "Book A",
		Price:       catalog.KnownPrice("10.99"),
		ContentHash: "new",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if outcome != catalog.OutcomeUpdated || rec.ID != existingID {
		t.Fatalf("expected update of the concurrent row, got %s %s", outcome, rec.ID)
	}
	if first.committed || !second.committed {
		t.Fatalf("expected only the second transaction to commit")
	}
	if len(second.execs) != 1 || !strings.HasPrefix(second.execs[0], "UPDATE catalog_records") {
		t.Fatalf("expected update statement, got %v", second.execs)
	}
}

func TestPostgresCatalogRepository_UnchangedHashIsNoop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := &fakeTx{rows: []fakeRow{catalogRow(uuid.New(), "src-a", "same", now)}}
	repo := NewPostgresCatalogRepository(&fakeDB{txs: []*fakeTx{tx}})

	rec, outcome, err := repo.UpsertBySourceID(context.Background(), catalog.Record{SourceID: "src-a", ContentHash: "same", LastScrapedAt: now.Add(time.Hour)})
	if err != nil || outcome != catalog.OutcomeUnchanged {
		t.Fatalf("expected unchanged, got %s %v", outcome, err)
	}
	if len(tx.execs) != 0 {
		t.Fatalf("expected no writes, got %v", tx.execs)
	}
	if !rec.LastScrapedAt.Equal(now) {
		t.Fatalf("expected stored lastScrapedAt, got %v", rec.LastScrapedAt)
	}
}
