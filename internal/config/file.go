package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/prober"
)

// fileConfig mirrors the YAML layout. Pointer fields distinguish "unset"
// from a zero value.
type fileConfig struct {
	Sources []string `yaml:"sources"`
	Output  string   `yaml:"output"`

	Policy struct {
		DedupKey     string         `yaml:"dedup_key"`
		Concurrency  *int           `yaml:"concurrency"`
		Timeout      *time.Duration `yaml:"timeout"`
		TLS          string         `yaml:"tls"`
		SampleSize   *int           `yaml:"sample_size"`
		Unknown      string         `yaml:"unknown"`
		KeepSkipped  *bool          `yaml:"keep_skipped"`
		RetryRounds  *int           `yaml:"retry_rounds"`
		PerHostLimit *int           `yaml:"per_host_limit"`
		SkipPatterns []string       `yaml:"skip_patterns"`
		FetchTimeout *time.Duration `yaml:"fetch_timeout"`
		SourceDelay  *time.Duration `yaml:"source_delay"`
		UserAgent    string         `yaml:"user_agent"`
	} `yaml:"policy"`

	Schedule struct {
		Interval   *time.Duration `yaml:"interval"`
		RunTimeout *time.Duration `yaml:"run_timeout"`
	} `yaml:"schedule"`

	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`

	HTTP struct {
		Port          string         `yaml:"port"`
		ShutdownGrace *time.Duration `yaml:"shutdown_grace"`
	} `yaml:"http"`
}

// applyFile overlays the values set in the YAML file at path.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrInvalidConfig, path, err)
	}

	if fc.Sources != nil {
		c.Sources = fc.Sources
	}
	setString(&c.OutputFile, fc.Output)

	p := fc.Policy
	if p.DedupKey != "" {
		c.DedupKey = dedupe.KeyMode(p.DedupKey)
	}
	if p.TLS != "" {
		c.TLSMode = prober.TLSMode(p.TLS)
	}
	if p.Unknown != "" {
		c.UnknownPolicy = aggregator.UnknownPolicy(p.Unknown)
	}
	setInt(&c.MaxConcurrency, p.Concurrency)
	setDuration(&c.HTTPTimeout, p.Timeout)
	setInt(&c.SampleSize, p.SampleSize)
	if p.KeepSkipped != nil {
		c.KeepSkipped = *p.KeepSkipped
	}
	setInt(&c.RetryRounds, p.RetryRounds)
	setInt(&c.PerHostLimit, p.PerHostLimit)
	if p.SkipPatterns != nil {
		c.SkipPatterns = p.SkipPatterns
	}
	setDuration(&c.FetchTimeout, p.FetchTimeout)
	setDuration(&c.SourceDelay, p.SourceDelay)
	setString(&c.UserAgent, p.UserAgent)

	setDuration(&c.RunInterval, fc.Schedule.Interval)
	setDuration(&c.RunTimeout, fc.Schedule.RunTimeout)
	setString(&c.DatabaseDriver, fc.Database.Driver)
	setString(&c.DatabaseURL, fc.Database.URL)
	setString(&c.HTTPPort, fc.HTTP.Port)
	setDuration(&c.ShutdownGrace, fc.HTTP.ShutdownGrace)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
