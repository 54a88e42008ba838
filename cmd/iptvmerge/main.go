package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"iptvmerge/internal/api"
	"iptvmerge/internal/config"
	"iptvmerge/internal/models"
	"iptvmerge/internal/runner"
	"iptvmerge/internal/storage"
	"iptvmerge/internal/storage/postgres"
	"iptvmerge/internal/storage/sqlite"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "iptvmerge: %v\n", err)
		os.Exit(1)
	}

	ok, err := run(cfg)
	if err != nil {
		log.Fatalf("application failed: %v", err)
	}
	if !ok {
		os.Exit(1)
	}
}

// run executes one aggregation, or serves until a signal arrives when a
// schedule or the history API is configured. It reports false when a
// one-shot run kept no records.
func run(cfg *config.Config) (bool, error) {
	// Create a context that is canceled on OS signals like SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer closer.Close()

	sources := make([]models.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, models.Source{URL: s})
	}
	r := runner.New(store, runner.Options{
		Sources:    sources,
		Policy:     cfg.Policy(),
		OutputFile: cfg.OutputFile,
		RunTimeout: cfg.RunTimeout,
		Interval:   cfg.RunInterval,
	})

	if cfg.RunInterval == 0 && cfg.HTTPPort == "" {
		report, err := r.RunOnce(ctx)
		if err != nil {
			return false, err
		}
		return report.KeptCount > 0, nil
	}

	var server *api.Server
	if cfg.HTTPPort != "" {
		if store == nil {
			return false, errors.New("the history API needs a database; set DATABASE_DRIVER to sqlite or postgres")
		}
		server = api.NewServer(cfg.HTTPPort, store, r)
		if err := server.Start(); err != nil {
			return false, err
		}
	}
	if cfg.RunInterval > 0 {
		r.Start()
	}

	log.Println("application is running...")
	<-ctx.Done()

	log.Println("shutdown signal received, starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop runs first so no new report is written while the API drains.
	r.Stop()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			return false, fmt.Errorf("http server shutdown error: %w", err)
		}
	}
	log.Println("application shut down gracefully")
	return true, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the run history store. With the "none" driver the
// returned Storer is nil and reports are not persisted.
func openStore(ctx context.Context, cfg *config.Config) (storage.Storer, io.Closer, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		log.Println("initializing SQLite database connection...")
		s, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		return s, s, nil
	case "postgres":
		log.Println("initializing PostgreSQL connection pool...")
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return s, s, nil
	default:
		return nil, nopCloser{}, nil
	}
}
