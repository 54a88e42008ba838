package aggregator

import (
	"errors"
	"fmt"
	"time"

	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/fetcher"
	"iptvmerge/internal/models"
	"iptvmerge/internal/prober"
)

var (
	// ErrNoSources is returned when a run is started without sources.
	ErrNoSources = errors.New("no sources configured")
	// ErrInvalidPolicy is wrapped by every policy validation failure.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// UnknownPolicy decides whether inconclusive probes reach the output.
type UnknownPolicy string

const (
	UnknownKeep    UnknownPolicy = "keep"
	UnknownDiscard UnknownPolicy = "discard"
)

// ParseUnknownPolicy validates an unknown-policy name.
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch UnknownPolicy(s) {
	case UnknownKeep, UnknownDiscard:
		return UnknownPolicy(s), nil
	}
	return "", fmt.Errorf("invalid unknown policy %q (use 'keep' or 'discard')", s)
}

// Policy holds every knob of a run. It is fixed for the whole run.
type Policy struct {
	DedupKey          dedupe.KeyMode
	Concurrency       int
	PerRequestTimeout time.Duration
	TLSMode           prober.TLSMode
	SampleSize        int // Zero probes everything; k probes the first and last k endpoints.
	UnknownPolicy     UnknownPolicy
	KeepSkipped       bool
	RetryRounds       int // Extra passes over dead and unknown endpoints.
	RetryBackoff      time.Duration
	PerHostLimit      int
	SkipPatterns      []string

	FetchTimeout time.Duration
	SourceDelay  time.Duration
	UserAgent    string
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		DedupKey:          dedupe.KeyEndpoint,
		Concurrency:       prober.DefaultConcurrency,
		PerRequestTimeout: prober.DefaultTimeout,
		TLSMode:           prober.TLSStrict,
		UnknownPolicy:     UnknownDiscard,
		KeepSkipped:       true,
		RetryBackoff:      200 * time.Millisecond,
		PerHostLimit:      prober.DefaultPerHostLimit,
		SkipPatterns:      append([]string(nil), prober.DefaultSkipPatterns...),
		FetchTimeout:      fetcher.DefaultTimeout,
		SourceDelay:       fetcher.DefaultDelay,
	}
}

// Validate checks that every enumerated field holds a known value and that
// numeric limits are usable.
func (p Policy) Validate() error {
	if _, err := dedupe.ParseKeyMode(string(p.DedupKey)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if _, err := prober.ParseTLSMode(string(p.TLSMode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if _, err := ParseUnknownPolicy(string(p.UnknownPolicy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidPolicy)
	}
	if p.PerRequestTimeout <= 0 {
		return fmt.Errorf("%w: per-request timeout must be positive", ErrInvalidPolicy)
	}
	if p.SampleSize < 0 || p.RetryRounds < 0 || p.PerHostLimit < 0 {
		return fmt.Errorf("%w: sample size, retry rounds and per-host limit must not be negative", ErrInvalidPolicy)
	}
	if _, err := prober.NewSkipList(p.SkipPatterns); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}

// keeps reports whether records with outcome o belong in the output.
func (p Policy) keeps(o models.Outcome) bool {
	switch o {
	case models.OutcomeLive, models.OutcomeAssumedLive:
		return true
	case models.OutcomeSkipped:
		return p.KeepSkipped
	case models.OutcomeUnknown:
		return p.UnknownPolicy == UnknownKeep
	}
	return false
}
