package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/prober"
)

var envKeys = []string{
	"IPTV_SOURCES", "OUTPUT_FILE", "DEDUP_KEY", "MAX_CONCURRENCY", "HTTP_TIMEOUT", "TLS_MODE",
	"SAMPLE_SIZE", "UNKNOWN_POLICY", "KEEP_SKIPPED", "RETRY_ROUNDS", "PER_HOST_LIMIT", "SKIP_PATTERNS",
	"FETCH_TIMEOUT", "SOURCE_DELAY", "USER_AGENT", "RUN_TIMEOUT", "RUN_INTERVAL", "DATABASE_DRIVER",
	"DATABASE_URL", "HTTP_PORT", "SHUTDOWN_GRACE", "CONFIG_FILE",
}

// clearEnv unsets every variable read by the config package for the
// duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func TestConfiguration(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if len(cfg.Sources) != len(DefaultSources) {
			t.Errorf("expected default sources, got %v", cfg.Sources)
		}
		if cfg.OutputFile != "combined.m3u" {
			t.Errorf("expected default OUTPUT_FILE combined.m3u, got %s", cfg.OutputFile)
		}
		if cfg.DedupKey != dedupe.KeyEndpoint {
			t.Errorf("expected default DEDUP_KEY endpoint, got %s", cfg.DedupKey)
		}
		if cfg.MaxConcurrency != 20 {
			t.Errorf("expected default MAX_CONCURRENCY 20, got %d", cfg.MaxConcurrency)
		}
		if cfg.HTTPTimeout != 5*time.Second {
			t.Errorf("expected default HTTP_TIMEOUT 5s, got %v", cfg.HTTPTimeout)
		}
		if cfg.TLSMode != prober.TLSStrict {
			t.Errorf("expected default TLS_MODE strict, got %s", cfg.TLSMode)
		}
		if cfg.UnknownPolicy != aggregator.UnknownDiscard {
			t.Errorf("expected default UNKNOWN_POLICY discard, got %s", cfg.UnknownPolicy)
		}
		if !cfg.KeepSkipped {
			t.Error("expected default KEEP_SKIPPED true")
		}
		if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseURL != "iptvmerge.db" {
			t.Errorf("expected default sqlite database iptvmerge.db, got %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
		}
		if cfg.ShutdownGrace != 10*time.Second {
			t.Errorf("expected default SHUTDOWN_GRACE 10s, got %v", cfg.ShutdownGrace)
		}
		if cfg.HTTPPort != "" || cfg.RunInterval != 0 {
			t.Errorf("expected a one-shot run by default, got port %q interval %v", cfg.HTTPPort, cfg.RunInterval)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("default config invalid: %v", err)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("IPTV_SOURCES", "http://a.example.com/a.m3u, http://b.example.com/b.m3u,")
		t.Setenv("OUTPUT_FILE", "/tmp/out.m3u")
		t.Setenv("DEDUP_KEY", "pair")
		t.Setenv("MAX_CONCURRENCY", "64")
		t.Setenv("HTTP_TIMEOUT", "3s")
		t.Setenv("TLS_MODE", "lenient")
		t.Setenv("SAMPLE_SIZE", "100")
		t.Setenv("KEEP_SKIPPED", "false")
		t.Setenv("RUN_INTERVAL", "1h")
		t.Setenv("DATABASE_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "postgres://localhost/iptv")
		t.Setenv("HTTP_PORT", "9090")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if len(cfg.Sources) != 2 || cfg.Sources[1] != "http://b.example.com/b.m3u" {
			t.Errorf("expected 2 trimmed sources, got %v", cfg.Sources)
		}
		if cfg.OutputFile != "/tmp/out.m3u" {
			t.Errorf("expected OUTPUT_FILE /tmp/out.m3u, got %s", cfg.OutputFile)
		}
		if cfg.DedupKey != dedupe.KeyPair {
			t.Errorf("expected DEDUP_KEY pair, got %s", cfg.DedupKey)
		}
		if cfg.MaxConcurrency != 64 {
			t.Errorf("expected MAX_CONCURRENCY 64, got %d", cfg.MaxConcurrency)
		}
		if cfg.HTTPTimeout != 3*time.Second {
			t.Errorf("expected HTTP_TIMEOUT 3s, got %v", cfg.HTTPTimeout)
		}
		if cfg.TLSMode != prober.TLSLenient {
			t.Errorf("expected TLS_MODE lenient, got %s", cfg.TLSMode)
		}
		if cfg.SampleSize != 100 {
			t.Errorf("expected SAMPLE_SIZE 100, got %d", cfg.SampleSize)
		}
		if cfg.KeepSkipped {
			t.Error("expected KEEP_SKIPPED false")
		}
		if cfg.RunInterval != time.Hour {
			t.Errorf("expected RUN_INTERVAL 1h, got %v", cfg.RunInterval)
		}
		if cfg.DatabaseDriver != "postgres" || cfg.HTTPPort != "9090" {
			t.Errorf("unexpected database driver %s or port %s", cfg.DatabaseDriver, cfg.HTTPPort)
		}

		p := cfg.Policy()
		if p.DedupKey != dedupe.KeyPair || p.Concurrency != 64 || p.SampleSize != 100 || p.KeepSkipped {
			t.Errorf("policy does not reflect config: %+v", p)
		}
	})

	t.Run("unparsable values keep defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAX_CONCURRENCY", "lots")
		t.Setenv("HTTP_TIMEOUT", "soon")
		t.Setenv("KEEP_SKIPPED", "perhaps")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConcurrency != 20 || cfg.HTTPTimeout != 5*time.Second || !cfg.KeepSkipped {
			t.Errorf("expected defaults, got %d %v %v", cfg.MaxConcurrency, cfg.HTTPTimeout, cfg.KeepSkipped)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"relative source", func(c *Config) { c.Sources = []string{"lists/fra.m3u"} }},
		{"bad tls mode", func(c *Config) { c.TLSMode = "yolo" }},
		{"bad driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"negative interval", func(c *Config) { c.RunInterval = -time.Second }},
		{"no output", func(c *Config) { c.OutputFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

const sampleYAML = `
sources:
  - https://example.com/one.m3u
  - https://example.com/two.m3u
output: merged.m3u
policy:
  dedup_key: pair
  concurrency: 8
  timeout: 2s
  tls: lenient
  unknown: keep
  keep_skipped: false
  retry_rounds: 1
  skip_patterns:
    - '\.flv$'
schedule:
  interval: 30m
database:
  driver: none
http:
  port: "8081"
  shutdown_grace: 3s
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iptvmerge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, sampleYAML)

	t.Run("file values", func(t *testing.T) {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(cfg.Sources) != 2 || cfg.OutputFile != "merged.m3u" {
			t.Errorf("unexpected sources %v or output %s", cfg.Sources, cfg.OutputFile)
		}
		if cfg.DedupKey != dedupe.KeyPair || cfg.MaxConcurrency != 8 || cfg.HTTPTimeout != 2*time.Second {
			t.Errorf("unexpected policy values %s %d %v", cfg.DedupKey, cfg.MaxConcurrency, cfg.HTTPTimeout)
		}
		if cfg.TLSMode != prober.TLSLenient || cfg.UnknownPolicy != aggregator.UnknownKeep || cfg.KeepSkipped {
			t.Errorf("unexpected classification values %s %s %v", cfg.TLSMode, cfg.UnknownPolicy, cfg.KeepSkipped)
		}
		if len(cfg.SkipPatterns) != 1 || cfg.SkipPatterns[0] != `\.flv$` {
			t.Errorf("unexpected skip patterns %v", cfg.SkipPatterns)
		}
		if cfg.RunInterval != 30*time.Minute || cfg.DatabaseDriver != "none" || cfg.HTTPPort != "8081" || cfg.ShutdownGrace != 3*time.Second {
			t.Errorf("unexpected runtime values %v %s %s %v", cfg.RunInterval, cfg.DatabaseDriver, cfg.HTTPPort, cfg.ShutdownGrace)
		}
		// Unset keys keep their defaults.
		if cfg.PerHostLimit != prober.DefaultPerHostLimit || cfg.RunTimeout != 15*time.Minute {
			t.Errorf("expected defaults for unset keys, got %d %v", cfg.PerHostLimit, cfg.RunTimeout)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("MAX_CONCURRENCY", "32")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxConcurrency != 32 {
			t.Errorf("expected env to win, got %d", cfg.MaxConcurrency)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := writeConfigFile(t, "policy: [unterminated")
		if _, err := Load(bad); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestParseFlags(t *testing.T) {
	t.Run("flags override file and env", func(t *testing.T) {
		clearEnv(t)
		path := writeConfigFile(t, sampleYAML)
		t.Setenv("HTTP_TIMEOUT", "4s")

		cfg, err := ParseFlags([]string{"-config", path, "-concurrency", "4", "-tls", "strict", "-o", "flags.m3u"}, io.Discard)
		if err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}
		if cfg.MaxConcurrency != 4 || cfg.TLSMode != prober.TLSStrict || cfg.OutputFile != "flags.m3u" {
			t.Errorf("flags not applied: %d %s %s", cfg.MaxConcurrency, cfg.TLSMode, cfg.OutputFile)
		}
		if cfg.HTTPTimeout != 4*time.Second {
			t.Errorf("expected env timeout 4s, got %v", cfg.HTTPTimeout)
		}
		if cfg.DedupKey != dedupe.KeyPair {
			t.Errorf("expected file dedup key to survive, got %s", cfg.DedupKey)
		}
		if cfg.KeepSkipped {
			t.Error("an unset bool flag must not override the file")
		}
	})

	t.Run("positional sources", func(t *testing.T) {
		clearEnv(t)
		cfg, err := ParseFlags([]string{"-db", "none", "http://x.example.com/1.m3u", "http://y.example.com/2.m3u"}, io.Discard)
		if err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}
		if len(cfg.Sources) != 2 || cfg.Sources[0] != "http://x.example.com/1.m3u" {
			t.Errorf("unexpected sources %v", cfg.Sources)
		}
		if cfg.DatabaseDriver != "none" {
			t.Errorf("expected driver none, got %s", cfg.DatabaseDriver)
		}
	})

	t.Run("repeated source flag", func(t *testing.T) {
		clearEnv(t)
		cfg, err := ParseFlags([]string{"-source", "http://x.example.com/1.m3u", "-source", "http://y.example.com/2.m3u"}, io.Discard)
		if err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}
		if len(cfg.Sources) != 2 {
			t.Errorf("expected 2 sources, got %v", cfg.Sources)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		clearEnv(t)
		if _, err := ParseFlags([]string{"-dedup", "title"}, io.Discard); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if _, err := ParseFlags([]string{"-no-such-flag"}, io.Discard); err == nil {
			t.Error("expected error for unknown flag")
		}
	})
}
