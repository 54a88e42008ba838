package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"iptvmerge/internal/models"
	"iptvmerge/internal/storage"
)

// timeLayout is fixed width so that text comparison of started_at matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	started_at         TEXT NOT NULL,
	elapsed_ms         INTEGER NOT NULL,
	sources            INTEGER NOT NULL,
	total_fetched      INTEGER NOT NULL,
	total_unique       INTEGER NOT NULL,
	live_count         INTEGER NOT NULL,
	dead_count         INTEGER NOT NULL,
	skipped_count      INTEGER NOT NULL,
	unknown_count      INTEGER NOT NULL,
	assumed_live_count INTEGER NOT NULL,
	kept_count         INTEGER NOT NULL,
	degraded           INTEGER NOT NULL,
	canceled           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at_id ON runs (started_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS run_results (
	run_id      TEXT NOT NULL,
	position    INTEGER NOT NULL,
	metadata    TEXT NOT NULL,
	endpoint    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	status_code INTEGER,
	latency_ms  INTEGER NOT NULL,
	error       TEXT,
	kept        INTEGER NOT NULL,
	PRIMARY KEY (run_id, position),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_results_run_id_outcome ON run_results (run_id, outcome);

CREATE TABLE IF NOT EXISTS fetch_failures (
	run_id      TEXT NOT NULL,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	error       TEXT NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun saves a report with its per-record results and fetch failures
// in one transaction.
func (s *SQLiteStore) CreateRun(ctx context.Context, report *models.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
INSERT INTO runs (id, started_at, elapsed_ms, sources, total_fetched, total_unique, live_count, dead_count,
	skipped_count, unknown_count, assumed_live_count, kept_count, degraded, canceled)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	r := report.RunSummary
	if _, err := tx.ExecContext(ctx, query, r.ID, r.StartedAt.UTC().Format(timeLayout), r.Elapsed.Milliseconds(),
		r.Sources, r.TotalFetched, r.TotalUnique, r.LiveCount, r.DeadCount, r.SkippedCount, r.UnknownCount,
		r.AssumedLiveCount, r.KeptCount, r.Degraded, r.Canceled); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO run_results (run_id, position, metadata, endpoint, outcome, status_code, latency_ms, error, kept)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()
	for i, pr := range report.Results {
		if _, err := stmt.ExecContext(ctx, r.ID, i, pr.Record.Metadata, pr.Record.Endpoint, string(pr.Outcome),
			pr.StatusCode, pr.LatencyMS, pr.Error, pr.Kept); err != nil {
			return fmt.Errorf("failed to insert run result: %w", err)
		}
	}

	for _, ff := range report.FetchFailures {
		if _, err := tx.ExecContext(ctx, `INSERT INTO fetch_failures (run_id, source, kind, status_code, error) VALUES (?, ?, ?, ?, ?)`,
			r.ID, ff.Source, ff.Kind, ff.StatusCode, ff.Error); err != nil {
			return fmt.Errorf("failed to insert fetch failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, elapsed_ms, sources, total_fetched, total_unique, live_count, dead_count,
	skipped_count, unknown_count, assumed_live_count, kept_count, degraded, canceled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.RunSummary, error) {
	var r models.RunSummary
	var startedAtStr string
	var elapsedMS int64
	err := row.Scan(&r.ID, &startedAtStr, &elapsedMS, &r.Sources, &r.TotalFetched, &r.TotalUnique,
		&r.LiveCount, &r.DeadCount, &r.SkippedCount, &r.UnknownCount, &r.AssumedLiveCount, &r.KeptCount,
		&r.Degraded, &r.Canceled)
	if err != nil {
		return r, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr); err != nil {
		return r, fmt.Errorf("invalid started_at %q: %w", startedAtStr, err)
	}
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return r, nil
}

// GetRunByID retrieves a single run summary by its ID.
func (s *SQLiteStore) GetRunByID(ctx context.Context, id string) (*models.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by id: %w", err)
	}
	return &r, nil
}

// ListRuns retrieves a page of run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, params storage.ListRunsParams) ([]models.RunSummary, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString("SELECT " + runColumns + " FROM runs WHERE 1=1")
	if !params.BeforeTime.IsZero() && params.BeforeID != "" {
		args = append(args, params.BeforeTime.UTC().Format(timeLayout), params.BeforeID)
		qb.WriteString(" AND (started_at, id) < (?, ?)")
	}
	qb.WriteString(" ORDER BY started_at DESC, id DESC LIMIT ?")
	args = append(args, limitArg(params.Limit))

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var runs []models.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunResults retrieves the per-record results of a run in input order.
func (s *SQLiteStore) ListRunResults(ctx context.Context, params storage.ListRunResultsParams) ([]models.ProbeResult, error) {
	args := []interface{}{params.RunID}
	qb := strings.Builder{}
	qb.WriteString("SELECT metadata, endpoint, outcome, status_code, latency_ms, error, kept FROM run_results WHERE run_id = ?")
	if params.Outcome != "" {
		args = append(args, string(params.Outcome))
		qb.WriteString(" AND outcome = ?")
	}
	if params.KeptOnly {
		qb.WriteString(" AND kept = 1")
	}
	qb.WriteString(" ORDER BY position LIMIT ?")
	args = append(args, limitArg(params.Limit))

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run results: %w", err)
	}
	defer rows.Close()
	var results []models.ProbeResult
	for rows.Next() {
		var pr models.ProbeResult
		var outcome string
		if err := rows.Scan(&pr.Record.Metadata, &pr.Record.Endpoint, &outcome, &pr.StatusCode, &pr.LatencyMS, &pr.Error, &pr.Kept); err != nil {
			return nil, fmt.Errorf("failed to scan run result row: %w", err)
		}
		pr.Outcome = models.Outcome(outcome)
		results = append(results, pr)
	}
	return results, rows.Err()
}

// ListFetchFailures retrieves the sources that failed during a run.
func (s *SQLiteStore) ListFetchFailures(ctx context.Context, runID string) ([]models.FetchFailure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, kind, status_code, error FROM fetch_failures WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch failures: %w", err)
	}
	defer rows.Close()
	var failures []models.FetchFailure
	for rows.Next() {
		var ff models.FetchFailure
		if err := rows.Scan(&ff.Source, &ff.Kind, &ff.StatusCode, &ff.Error); err != nil {
			return nil, fmt.Errorf("failed to scan fetch failure row: %w", err)
		}
		failures = append(failures, ff)
	}
	return failures, rows.Err()
}

// limitArg maps a non-positive limit to SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
