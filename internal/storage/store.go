package storage

import (
	"context"
	"errors"
	"time"

	"iptvmerge/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListRunsParams contains parameters for listing runs with cursor pagination.
// Runs are ordered newest first; the cursor is the (started_at, id) of the
// last run on the previous page.
type ListRunsParams struct {
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}

// ListRunResultsParams filters the per-record results of one run. A zero
// Limit returns every matching row.
type ListRunResultsParams struct {
	RunID    string
	Outcome  models.Outcome
	KeptOnly bool
	Limit    int
}

// Storer defines the interface for persisting and querying run reports
type Storer interface {
	CreateRun(ctx context.Context, report *models.Report) error
	GetRunByID(ctx context.Context, id string) (*models.RunSummary, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]models.RunSummary, error)

	ListRunResults(ctx context.Context, params ListRunResultsParams) ([]models.ProbeResult, error)
	ListFetchFailures(ctx context.Context, runID string) ([]models.FetchFailure, error)
}
