// Package config loads runtime settings from defaults, an optional YAML
// file, environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/prober"
	"iptvmerge/internal/urlutil"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultSources are the playlists merged when none are configured.
var DefaultSources = []string{
	"https://iptv-org.github.io/iptv/languages/ara.m3u",
	"https://iptv-org.github.io/iptv/languages/fra.m3u",
}

// Config holds the application's configuration values.
type Config struct {
	Sources    []string
	OutputFile string

	DedupKey       dedupe.KeyMode
	MaxConcurrency int
	HTTPTimeout    time.Duration // Per-probe timeout.
	TLSMode        prober.TLSMode
	SampleSize     int
	UnknownPolicy  aggregator.UnknownPolicy
	KeepSkipped    bool
	RetryRounds    int
	PerHostLimit   int
	SkipPatterns   []string
	FetchTimeout   time.Duration
	SourceDelay    time.Duration
	UserAgent      string

	RunTimeout  time.Duration // Zero means no deadline.
	RunInterval time.Duration // Zero runs once and exits.

	DatabaseDriver string // "sqlite", "postgres" or "none".
	DatabaseURL    string
	HTTPPort       string // Empty disables the history API.
	ShutdownGrace  time.Duration
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	p := aggregator.DefaultPolicy()
	return &Config{
		Sources:        append([]string(nil), DefaultSources...),
		OutputFile:     "combined.m3u",
		DedupKey:       p.DedupKey,
		MaxConcurrency: p.Concurrency,
		HTTPTimeout:    p.PerRequestTimeout,
		TLSMode:        p.TLSMode,
		SampleSize:     p.SampleSize,
		UnknownPolicy:  p.UnknownPolicy,
		KeepSkipped:    p.KeepSkipped,
		RetryRounds:    p.RetryRounds,
		PerHostLimit:   p.PerHostLimit,
		SkipPatterns:   p.SkipPatterns,
		FetchTimeout:   p.FetchTimeout,
		SourceDelay:    p.SourceDelay,
		RunTimeout:     15 * time.Minute,
		DatabaseDriver: "sqlite",
		DatabaseURL:    "iptvmerge.db",
		ShutdownGrace:  10 * time.Second,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides fields from environment variables. Unset or
// unparsable variables keep the current value.
func (c *Config) applyEnv() {
	c.Sources = getEnvList("IPTV_SOURCES", c.Sources)
	c.OutputFile = getEnv("OUTPUT_FILE", c.OutputFile)
	c.DedupKey = dedupe.KeyMode(getEnv("DEDUP_KEY", string(c.DedupKey)))
	c.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", c.MaxConcurrency)
	c.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", c.HTTPTimeout)
	c.TLSMode = prober.TLSMode(getEnv("TLS_MODE", string(c.TLSMode)))
	c.SampleSize = getEnvInt("SAMPLE_SIZE", c.SampleSize)
	c.UnknownPolicy = aggregator.UnknownPolicy(getEnv("UNKNOWN_POLICY", string(c.UnknownPolicy)))
	c.KeepSkipped = getEnvBool("KEEP_SKIPPED", c.KeepSkipped)
	c.RetryRounds = getEnvInt("RETRY_ROUNDS", c.RetryRounds)
	c.PerHostLimit = getEnvInt("PER_HOST_LIMIT", c.PerHostLimit)
	c.SkipPatterns = getEnvList("SKIP_PATTERNS", c.SkipPatterns)
	c.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", c.FetchTimeout)
	c.SourceDelay = getEnvDuration("SOURCE_DELAY", c.SourceDelay)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)
	c.RunTimeout = getEnvDuration("RUN_TIMEOUT", c.RunTimeout)
	c.RunInterval = getEnvDuration("RUN_INTERVAL", c.RunInterval)
	c.DatabaseDriver = getEnv("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.ShutdownGrace = getEnvDuration("SHUTDOWN_GRACE", c.ShutdownGrace)
}

// Policy returns the aggregation policy described by c.
func (c *Config) Policy() aggregator.Policy {
	p := aggregator.DefaultPolicy()
	p.DedupKey = c.DedupKey
	p.Concurrency = c.MaxConcurrency
	p.PerRequestTimeout = c.HTTPTimeout
	p.TLSMode = c.TLSMode
	p.SampleSize = c.SampleSize
	p.UnknownPolicy = c.UnknownPolicy
	p.KeepSkipped = c.KeepSkipped
	p.RetryRounds = c.RetryRounds
	p.PerHostLimit = c.PerHostLimit
	p.SkipPatterns = c.SkipPatterns
	p.FetchTimeout = c.FetchTimeout
	p.SourceDelay = c.SourceDelay
	p.UserAgent = c.UserAgent
	return p
}

// Validate reports the first configuration problem found. It runs before
// any network activity so a bad setup never starts a pipeline.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, aggregator.ErrNoSources)
	}
	for _, s := range c.Sources {
		if _, err := urlutil.Canonicalize(s); err != nil {
			return fmt.Errorf("%w: source %q: %v", ErrInvalidConfig, s, err)
		}
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("%w: unknown database driver %q (use 'sqlite', 'postgres' or 'none')", ErrInvalidConfig, c.DatabaseDriver)
	}
	if c.FetchTimeout <= 0 || c.SourceDelay < 0 || c.RunTimeout < 0 || c.RunInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative and fetch timeout must be positive", ErrInvalidConfig)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("%w: output file must not be empty", ErrInvalidConfig)
	}
	return nil
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty items. A
// variable that is set but empty yields an empty list.
func getEnvList(key string, fallback []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return splitList(valueStr)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
