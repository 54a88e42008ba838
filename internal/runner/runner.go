// Package runner executes aggregation runs once, on a schedule, or on
// demand, and hands each report to the playlist writer and the run store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/models"
	"iptvmerge/internal/playlist"
	"iptvmerge/internal/storage"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("a run is already in progress")

// AggregateFunc runs one aggregation.
type AggregateFunc func(ctx context.Context, sources []models.Source, policy aggregator.Policy) (*models.Report, error)

// Options configures a Runner.
type Options struct {
	Sources    []models.Source
	Policy     aggregator.Policy
	OutputFile string
	RunTimeout time.Duration // Zero means no deadline.
	Interval   time.Duration
	Aggregate  AggregateFunc // Defaults to aggregator.Aggregate.
}

// Runner is responsible for scheduling aggregation runs. At most one run is
// in progress at any time.
type Runner struct {
	opts  Options
	store storage.Storer

	mu      sync.Mutex
	running bool
	last    *models.Report

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Runner. store may be nil, in which case reports are
// not persisted.
func New(store storage.Storer, opts Options) *Runner {
	if opts.Aggregate == nil {
		opts.Aggregate = aggregator.Aggregate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{opts: opts, store: store, ctx: ctx, cancel: cancel}
}

// RunOnce performs a single run, writes the playlist when at least one
// record was kept, and persists the report. A report is returned even
// when the run was cut short; the error is reserved for configuration
// problems and for output that could not be written.
func (r *Runner) RunOnce(ctx context.Context) (*models.Report, error) {
	if !r.begin() {
		return nil, ErrBusy
	}
	defer r.end()

	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	report, err := r.opts.Aggregate(ctx, r.opts.Sources, r.opts.Policy)
	if err != nil {
		return nil, err
	}
	if report.Canceled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Printf("warning: run %s hit the %s run timeout with %d endpoints unknown; raise the run timeout or per-host limit",
				report.ID, r.opts.RunTimeout, report.UnknownCount)
		} else {
			log.Printf("warning: run %s ended early, reporting partial results", report.ID)
		}
	}

	r.persist(ctx, report)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if report.KeptCount == 0 {
		log.Printf("warning: run %s kept no records, leaving %s untouched", report.ID, r.opts.OutputFile)
		return report, nil
	}
	if err := WritePlaylist(r.opts.OutputFile, report); err != nil {
		return report, fmt.Errorf("failed to write playlist: %w", err)
	}
	log.Printf("wrote %d records to %s", report.KeptCount, r.opts.OutputFile)
	return report, nil
}

// persist stores the report. It uses a context detached from the run so
// partial reports of canceled runs are still recorded.
func (r *Runner) persist(ctx context.Context, report *models.Report) {
	if r.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.store.CreateRun(storeCtx, report); err != nil {
		log.Printf("error saving run %s: %v", report.ID, err)
	}
}

// Start begins the periodic run loop. The first run starts immediately.
func (r *Runner) Start() {
	log.Printf("starting scheduler with interval: %s", r.opts.Interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()

		r.scheduledRun()

		for {
			select {
			case <-ticker.C:
				r.scheduledRun()
			case <-r.ctx.Done():
				log.Println("stopping scheduler...")
				return
			}
		}
	}()
}

func (r *Runner) scheduledRun() {
	if _, err := r.RunOnce(r.ctx); err != nil {
		log.Printf("scheduled run failed: %v", err)
	}
}

// Trigger starts a run in the background. It returns ErrBusy when a run is
// already in progress.
func (r *Runner) Trigger() error {
	r.mu.Lock()
	busy := r.running
	r.mu.Unlock()
	if busy {
		return ErrBusy
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.RunOnce(r.ctx); err != nil && !errors.Is(err, ErrBusy) {
			log.Printf("triggered run failed: %v", err)
		}
	}()
	return nil
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Last returns the most recent report, or nil before the first run ends.
func (r *Runner) Last() *models.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Stop cancels any run in progress and waits for background work to end.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	log.Println("scheduler stopped")
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// WritePlaylist renders the kept records of report to path. The file is
// written next to its destination and renamed into place so readers never
// see a partial playlist.
func WritePlaylist(path string, report *models.Report) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".iptvmerge-*.m3u")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	header := playlist.Header{
		GeneratedAt: report.StartedAt,
		Sources:     report.Sources,
		Live:        report.LiveCount,
		Degraded:    report.Degraded,
		AssumedLive: report.AssumedLiveCount,
	}
	if err := playlist.Write(tmp, report.Kept, header); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
