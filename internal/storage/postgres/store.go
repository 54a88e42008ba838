package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"iptvmerge/internal/models"
	"iptvmerge/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// migrate ensures the database schema is created.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		started_at         TIMESTAMPTZ NOT NULL,
		elapsed_ms         BIGINT NOT NULL,
		sources            INTEGER NOT NULL,
		total_fetched      INTEGER NOT NULL,
		total_unique       INTEGER NOT NULL,
		live_count         INTEGER NOT NULL,
		dead_count         INTEGER NOT NULL,
		skipped_count      INTEGER NOT NULL,
		unknown_count      INTEGER NOT NULL,
		assumed_live_count INTEGER NOT NULL,
		kept_count         INTEGER NOT NULL,
		degraded           BOOLEAN NOT NULL,
		canceled           BOOLEAN NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at_id ON runs (started_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS run_results (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		metadata    TEXT NOT NULL,
		endpoint    TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		status_code INTEGER,
		latency_ms  BIGINT NOT NULL,
		error       TEXT,
		kept        BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_run_results_run_id_outcome ON run_results (run_id, outcome);

	CREATE TABLE IF NOT EXISTS fetch_failures (
		id          BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		source      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		error       TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// CreateRun implements the Storer interface. Result rows are bulk loaded
// with COPY inside the same transaction as the run row.
func (s *PostgresStore) CreateRun(ctx context.Context, report *models.Report) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	r := report.RunSummary
	query := `
	INSERT INTO runs (id, started_at, elapsed_ms, sources, total_fetched, total_unique, live_count, dead_count,
		skipped_count, unknown_count, assumed_live_count, kept_count, degraded, canceled)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := tx.Exec(ctx, query, r.ID, r.StartedAt, r.Elapsed.Milliseconds(), r.Sources, r.TotalFetched,
		r.TotalUnique, r.LiveCount, r.DeadCount, r.SkippedCount, r.UnknownCount, r.AssumedLiveCount,
		r.KeptCount, r.Degraded, r.Canceled); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	rows := make([][]any, 0, len(report.Results))
	for i, pr := range report.Results {
		rows = append(rows, []any{r.ID, i, pr.Record.Metadata, pr.Record.Endpoint, string(pr.Outcome),
			pr.StatusCode, pr.LatencyMS, pr.Error, pr.Kept})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"run_results"},
		[]string{"run_id", "position", "metadata", "endpoint", "outcome", "status_code", "latency_ms", "error", "kept"},
		pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to copy run results: %w", err)
	}

	batch := &pgx.Batch{}
	for _, ff := range report.FetchFailures {
		batch.Queue(`INSERT INTO fetch_failures (run_id, source, kind, status_code, error) VALUES ($1, $2, $3, $4, $5)`,
			r.ID, ff.Source, ff.Kind, ff.StatusCode, ff.Error)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert fetch failures: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, elapsed_ms, sources, total_fetched, total_unique, live_count, dead_count,
	skipped_count, unknown_count, assumed_live_count, kept_count, degraded, canceled`

func scanRun(row pgx.Row) (models.RunSummary, error) {
	var r models.RunSummary
	var elapsedMS int64
	err := row.Scan(&r.ID, &r.StartedAt, &elapsedMS, &r.Sources, &r.TotalFetched, &r.TotalUnique,
		&r.LiveCount, &r.DeadCount, &r.SkippedCount, &r.UnknownCount, &r.AssumedLiveCount, &r.KeptCount,
		&r.Degraded, &r.Canceled)
	r.StartedAt = r.StartedAt.UTC()
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return r, err
}

// GetRunByID implements the Storer interface.
func (s *PostgresStore) GetRunByID(ctx context.Context, id string) (*models.RunSummary, error) {
	r, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by id: %w", err)
	}
	return &r, nil
}

// ListRuns implements the Storer interface.
func (s *PostgresStore) ListRuns(ctx context.Context, params storage.ListRunsParams) ([]models.RunSummary, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + runColumns + " FROM runs WHERE 1=1")
	if !params.BeforeTime.IsZero() && params.BeforeID != "" {
		args = append(args, params.BeforeTime, params.BeforeID)
		qb.WriteString(" AND (started_at, id) < ($1, $2)")
	}
	qb.WriteString(" ORDER BY started_at DESC, id DESC")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		fmt.Fprintf(&qb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunResults implements the Storer interface.
func (s *PostgresStore) ListRunResults(ctx context.Context, params storage.ListRunResultsParams) ([]models.ProbeResult, error) {
	args := []any{params.RunID}
	qb := strings.Builder{}
	qb.WriteString("SELECT metadata, endpoint, outcome, status_code, latency_ms, error, kept FROM run_results WHERE run_id = $1")
	if params.Outcome != "" {
		args = append(args, string(params.Outcome))
		fmt.Fprintf(&qb, " AND outcome = $%d", len(args))
	}
	if params.KeptOnly {
		qb.WriteString(" AND kept")
	}
	qb.WriteString(" ORDER BY position")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		fmt.Fprintf(&qb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run results: %w", err)
	}
	defer rows.Close()

	var results []models.ProbeResult
	for rows.Next() {
		var pr models.ProbeResult
		var outcome string
		if err := rows.Scan(&pr.Record.Metadata, &pr.Record.Endpoint, &outcome, &pr.StatusCode, &pr.LatencyMS, &pr.Error, &pr.Kept); err != nil {
			return nil, fmt.Errorf("failed to scan run result: %w", err)
		}
		pr.Outcome = models.Outcome(outcome)
		results = append(results, pr)
	}
	return results, rows.Err()
}

// ListFetchFailures implements the Storer interface.
func (s *PostgresStore) ListFetchFailures(ctx context.Context, runID string) ([]models.FetchFailure, error) {
	rows, err := s.db.Query(ctx, `SELECT source, kind, status_code, error FROM fetch_failures WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetch failures: %w", err)
	}
	defer rows.Close()

	var failures []models.FetchFailure
	for rows.Next() {
		var ff models.FetchFailure
		if err := rows.Scan(&ff.Source, &ff.Kind, &ff.StatusCode, &ff.Error); err != nil {
			return nil, fmt.Errorf("failed to scan fetch failure: %w", err)
		}
		failures = append(failures, ff)
	}
	return failures, rows.Err()
}
