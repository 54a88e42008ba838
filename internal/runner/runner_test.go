package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/models"
	"iptvmerge/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	reports []*models.Report
}

func (s *memStore) CreateRun(ctx context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *memStore) GetRunByID(ctx context.Context, id string) (*models.RunSummary, error) {
	return nil, storage.ErrNotFound
}

func (s *memStore) ListRuns(ctx context.Context, params storage.ListRunsParams) ([]models.RunSummary, error) {
	return nil, nil
}

func (s *memStore) ListRunResults(ctx context.Context, params storage.ListRunResultsParams) ([]models.ProbeResult, error) {
	return nil, nil
}

func (s *memStore) ListFetchFailures(ctx context.Context, runID string) ([]models.FetchFailure, error) {
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func fixedAggregate(kept []models.Record) AggregateFunc {
	return func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error) {
		return &models.Report{
			RunSummary: models.RunSummary{
				ID:          "run_test",
				StartedAt:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
				Sources:     len(sources),
				TotalUnique: len(kept),
				LiveCount:   len(kept),
				KeptCount:   len(kept),
			},
			Kept: kept,
		}, nil
	}
}

func TestRunOnce(t *testing.T) {
	kept := []models.Record{
		{Metadata: "#EXTINF:-1,Alpha", Endpoint: "http://a/1"},
		{Metadata: "#EXTINF:-1,Beta", Endpoint: "http://b/2"},
	}

	t.Run("writes playlist and persists", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "combined.m3u")
		store := &memStore{}
		r := New(store, Options{
			Sources:    []models.Source{{URL: "http://lists/a.m3u"}},
			Policy:     aggregator.DefaultPolicy(),
			OutputFile: out,
			Aggregate:  fixedAggregate(kept),
		})

		report, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.KeptCount != 2 {
			t.Errorf("expected 2 kept, got %d", report.KeptCount)
		}
		if store.count() != 1 {
			t.Errorf("expected the report to be persisted once, got %d", store.count())
		}
		if r.Last() != report {
			t.Error("expected Last() to return the report")
		}

		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		body := string(data)
		if !strings.HasPrefix(body, "#EXTM3U\n") || !strings.Contains(body, "#EXTINF:-1,Beta\nhttp://b/2\n\n") {
			t.Errorf("unexpected playlist:\n%s", body)
		}
		if !strings.Contains(body, "# Sources: 1\n") || !strings.Contains(body, "# Live: 2\n") {
			t.Errorf("missing header comments:\n%s", body)
		}
	})

	t.Run("zero kept leaves output untouched", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "combined.m3u")
		if err := os.WriteFile(out, []byte("previous"), 0o644); err != nil {
			t.Fatal(err)
		}
		r := New(nil, Options{OutputFile: out, Aggregate: fixedAggregate(nil)})

		report, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if report.KeptCount != 0 {
			t.Errorf("expected 0 kept, got %d", report.KeptCount)
		}
		data, _ := os.ReadFile(out)
		if string(data) != "previous" {
			t.Errorf("expected the previous playlist to survive, got %q", data)
		}
	})

	t.Run("configuration error", func(t *testing.T) {
		wantErr := aggregator.ErrNoSources
		r := New(nil, Options{
			OutputFile: filepath.Join(t.TempDir(), "x.m3u"),
			Aggregate: func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error) {
				return nil, wantErr
			},
		})
		if _, err := r.RunOnce(context.Background()); !errors.Is(err, wantErr) {
			t.Errorf("expected %v, got %v", wantErr, err)
		}
	})

	t.Run("run timeout reaches the pipeline", func(t *testing.T) {
		var hadDeadline atomic.Bool
		r := New(nil, Options{
			OutputFile: filepath.Join(t.TempDir(), "x.m3u"),
			RunTimeout: time.Minute,
			Aggregate: func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error) {
				_, ok := ctx.Deadline()
				hadDeadline.Store(ok)
				return fixedAggregate(nil)(ctx, sources, policy)
			},
		})
		if _, err := r.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !hadDeadline.Load() {
			t.Error("expected the run context to carry a deadline")
		}
	})
}

func TestRunBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := New(nil, Options{
		OutputFile: filepath.Join(t.TempDir(), "x.m3u"),
		Aggregate: func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error) {
			close(started)
			<-release
			return fixedAggregate(nil)(ctx, sources, policy)
		},
	})
	defer r.Stop()

	if err := r.Trigger(); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	<-started

	if !r.Running() {
		t.Error("expected a run in progress")
	}
	if err := r.Trigger(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from Trigger, got %v", err)
	}
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from RunOnce, got %v", err)
	}
	close(release)
}

// TestScheduler tests that the periodic loop runs immediately and on each tick.
func TestScheduler(t *testing.T) {
	var runs atomic.Int32
	store := &memStore{}
	r := New(store, Options{
		OutputFile: filepath.Join(t.TempDir(), "x.m3u"),
		Interval:   30 * time.Millisecond,
		Aggregate: func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error) {
			runs.Add(1)
			return fixedAggregate([]models.Record{{Metadata: "#EXTINF:-1,A", Endpoint: "http://a"}})(ctx, sources, policy)
		},
	})

	r.Start()
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	if n := runs.Load(); n < 2 {
		t.Errorf("expected at least 2 scheduled runs, got %d", n)
	}
	if store.count() != int(runs.Load()) {
		t.Errorf("expected every run persisted, got %d of %d", store.count(), runs.Load())
	}
}

func TestWritePlaylistReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "combined.m3u")
	report := &models.Report{Kept: []models.Record{{Metadata: "#EXTINF:-1,A", Endpoint: "http://a"}}}

	for i := 0; i < 2; i++ {
		if err := WritePlaylist(out, report); err != nil {
			t.Fatalf("WritePlaylist() error = %v", err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "combined.m3u" {
		t.Errorf("expected only the playlist in the directory, got %v", entries)
	}
	info, _ := os.Stat(out)
	if info.Mode().Perm() != 0o644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}
}
