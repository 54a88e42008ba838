// Package aggregator runs the fetch, parse, dedupe, probe and merge
// pipeline and produces a Report.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"iptvmerge/internal/dedupe"
	"iptvmerge/internal/fetcher"
	"iptvmerge/internal/httpx"
	"iptvmerge/internal/models"
	"iptvmerge/internal/playlist"
	"iptvmerge/internal/prober"
)

// Fetcher retrieves one source document.
type Fetcher interface {
	Fetch(ctx context.Context, src models.Source) (string, error)
}

// Prober classifies a set of endpoints.
type Prober interface {
	ProbeAll(ctx context.Context, endpoints []string) map[string]prober.Result
}

// Aggregator wires a Fetcher and a Prober under one Policy.
type Aggregator struct {
	fetcher Fetcher
	prober  Prober
	policy  Policy
	now     func() time.Time
}

// New creates a new Aggregator.
func New(f Fetcher, p Prober, policy Policy) *Aggregator {
	return &Aggregator{fetcher: f, prober: p, policy: policy, now: time.Now}
}

// Aggregate builds the network fetcher and prober described by policy and
// runs them over sources.
func Aggregate(ctx context.Context, sources []models.Source, policy Policy) (*models.Report, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	skip, err := prober.NewSkipList(policy.SkipPatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	client := httpx.NewClient(httpx.ClientOptions{
		UserAgent:       policy.UserAgent,
		MaxConnsPerHost: policy.Concurrency,
	})
	f := fetcher.New(fetcher.Options{
		Client:  client,
		Timeout: policy.FetchTimeout,
		Delay:   policy.SourceDelay,
	})
	p := prober.New(prober.Options{
		Client:       client,
		Concurrency:  policy.Concurrency,
		Timeout:      policy.PerRequestTimeout,
		TLSMode:      policy.TLSMode,
		Skip:         skip,
		PerHostLimit: policy.PerHostLimit,
	})
	return New(f, p, policy).Run(ctx, sources)
}

// Run executes one aggregation. Per-source failures are recorded in the
// report and never abort the run. If ctx ends early the report holds
// whatever was classified so far and Canceled is set. The only errors
// returned are configuration errors found before any network activity.
func (a *Aggregator) Run(ctx context.Context, sources []models.Source) (*models.Report, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if err := a.policy.Validate(); err != nil {
		return nil, err
	}

	start := a.now()
	report := &models.Report{
		RunSummary: models.RunSummary{
			ID:        newRunID(),
			StartedAt: start.UTC(),
			Sources:   len(sources),
		},
	}

	records := a.collect(ctx, sources, report)
	report.TotalFetched = len(records)

	unique := dedupe.Dedupe(records, a.policy.DedupKey)
	report.TotalUnique = len(unique)
	log.Printf("run %s: %d records fetched, %d unique (key=%s)", report.ID, len(records), len(unique), a.policy.DedupKey)

	endpoints := distinctEndpoints(unique)
	toProbe, assumed := prober.Sample(endpoints, a.policy.SampleSize)
	if len(assumed) > 0 {
		report.Degraded = true
		log.Printf("warning: sampled run, probing %d of %d endpoints", len(toProbe), len(endpoints))
	}

	outcomes := a.prober.ProbeAll(ctx, toProbe)
	a.retry(ctx, outcomes)

	assumedSet := make(map[string]struct{}, len(assumed))
	for _, e := range assumed {
		assumedSet[e] = struct{}{}
	}
	a.classify(report, unique, outcomes, assumedSet)
	if !report.Consistent() {
		log.Printf("warning: run %s: outcome counts do not add up to %d unique records", report.ID, report.TotalUnique)
	}

	report.Canceled = ctx.Err() != nil
	report.Elapsed = a.now().Sub(start)
	log.Printf("run %s: %d live, %d dead, %d skipped, %d unknown (%d assumed live), %d kept in %s",
		report.ID, report.LiveCount, report.DeadCount, report.SkippedCount, report.UnknownCount,
		report.AssumedLiveCount, report.KeptCount, report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// collect fetches sources one after another and parses each document.
func (a *Aggregator) collect(ctx context.Context, sources []models.Source, report *models.Report) []models.Record {
	var records []models.Record
	for i, src := range sources {
		if ctx.Err() != nil {
			for _, rest := range sources[i:] {
				report.FetchFailures = append(report.FetchFailures, models.FetchFailure{
					Source: rest.URL,
					Kind:   string(httpx.KindCanceled),
					Error:  ctx.Err().Error(),
				})
			}
			break
		}

		log.Printf("processing source: %s", src.URL)
		doc, err := a.fetcher.Fetch(ctx, src)
		if err != nil {
			log.Printf("warning: %v", err)
			report.FetchFailures = append(report.FetchFailures, fetchFailure(src, err))
			continue
		}

		parsed := playlist.ParseDocument(doc)
		for _, w := range parsed.Warnings {
			log.Printf("warning: source %s: %s", src.URL, w)
			report.ParseWarnings = append(report.ParseWarnings, models.ParseWarning{Source: src.URL, Kind: w})
		}
		log.Printf("source %s: %d records", src.URL, len(parsed.Records))
		records = append(records, parsed.Records...)
	}
	return records
}

// retry re-probes dead and unknown endpoints for the configured number of
// rounds. A later result replaces an earlier one unless it is unknown.
func (a *Aggregator) retry(ctx context.Context, outcomes map[string]prober.Result) {
	backoff := a.policy.RetryBackoff
	for round := 1; round <= a.policy.RetryRounds; round++ {
		var again []string
		for e, r := range outcomes {
			if r.Outcome == models.OutcomeDead || r.Outcome == models.OutcomeUnknown {
				again = append(again, e)
			}
		}
		if len(again) == 0 {
			return
		}
		sort.Strings(again)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2

		log.Printf("retry round %d: re-probing %d endpoints", round, len(again))
		for e, r := range a.prober.ProbeAll(ctx, again) {
			if r.Outcome != models.OutcomeUnknown {
				outcomes[e] = r
			}
		}
	}
}

// classify fills the per-record results, the counters and the sorted kept
// list. Counters are per unique record, so in pair mode two records sharing
// an endpoint are each counted with that endpoint's outcome.
func (a *Aggregator) classify(report *models.Report, unique []models.Record, outcomes map[string]prober.Result, assumed map[string]struct{}) {
	report.Results = make([]models.ProbeResult, 0, len(unique))
	for _, rec := range unique {
		pr := models.ProbeResult{Record: rec, Outcome: models.OutcomeUnknown}
		if _, ok := assumed[rec.Endpoint]; ok {
			pr.Outcome = models.OutcomeAssumedLive
		} else if r, ok := outcomes[rec.Endpoint]; ok {
			pr.Outcome = r.Outcome
			pr.LatencyMS = r.Latency.Milliseconds()
			if r.StatusCode != 0 {
				code := r.StatusCode
				pr.StatusCode = &code
			}
			if r.Err != nil {
				msg := r.Err.Error()
				pr.Error = &msg
			}
		}

		switch pr.Outcome {
		case models.OutcomeLive:
			report.LiveCount++
		case models.OutcomeDead:
			report.DeadCount++
		case models.OutcomeSkipped:
			report.SkippedCount++
		case models.OutcomeAssumedLive:
			report.AssumedLiveCount++
			report.UnknownCount++
		default:
			report.UnknownCount++
		}

		pr.Kept = a.policy.keeps(pr.Outcome)
		if pr.Kept {
			report.Kept = append(report.Kept, rec)
		}
		report.Results = append(report.Results, pr)
	}
	SortRecords(report.Kept)
	report.KeptCount = len(report.Kept)
}

// SortRecords orders records by case-folded display name, then by the full
// case-folded metadata line, then by endpoint. The sort is stable.
func SortRecords(records []models.Record) {
	fold := cases.Fold()
	sort.SliceStable(records, func(i, j int) bool {
		ki, kj := playlist.SortKey(records[i].Metadata), playlist.SortKey(records[j].Metadata)
		if ki != kj {
			return ki < kj
		}
		mi, mj := fold.String(records[i].Metadata), fold.String(records[j].Metadata)
		if mi != mj {
			return mi < mj
		}
		return records[i].Endpoint < records[j].Endpoint
	})
}

func distinctEndpoints(records []models.Record) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Endpoint]; ok {
			continue
		}
		seen[r.Endpoint] = struct{}{}
		out = append(out, r.Endpoint)
	}
	return out
}

func fetchFailure(src models.Source, err error) models.FetchFailure {
	ff := models.FetchFailure{Source: src.URL, Kind: string(httpx.KindOther), Error: err.Error()}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		ff.Kind = string(fe.Kind)
		ff.StatusCode = fe.StatusCode
	}
	return ff
}

// newRunID generates a time-ordered run ID.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("run_%d", time.Now().UnixNano())
	}
	return "run_" + id.String()
}
