package models

import "time"

// Record is one playlist entry: the #EXTINF metadata line and the stream
// endpoint that followed it. Records are never mutated after parsing.
type Record struct {
	Metadata string `json:"metadata"`
	Endpoint string `json:"endpoint"`
}

// Source identifies a remote playlist document.
type Source struct {
	URL string `json:"url"`
}

// Outcome is the liveness classification of a single endpoint.
type Outcome string

const (
	OutcomeLive    Outcome = "live"
	OutcomeDead    Outcome = "dead"
	OutcomeSkipped Outcome = "skipped" // Matched the skip list; never contacted.
	OutcomeUnknown Outcome = "unknown" // Probe was inconclusive or abandoned.
	// OutcomeAssumedLive marks endpoints left out of a sampled run. They are
	// counted as unknown and are never conflated with probed live results.
	OutcomeAssumedLive Outcome = "assumed_live"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeLive, OutcomeDead, OutcomeSkipped, OutcomeUnknown, OutcomeAssumedLive:
		return true
	}
	return false
}

// ProbeResult stores the outcome of probing one unique record.
type ProbeResult struct {
	Record     Record  `json:"record"`
	Outcome    Outcome `json:"outcome"`
	StatusCode *int    `json:"status_code"` // Pointer to allow for null on network errors
	LatencyMS  int64   `json:"latency_ms"`
	Error      *string `json:"error"` // Pointer to allow for null on success
	Kept       bool    `json:"kept"`
}

// FetchFailure records a source that contributed no records.
type FetchFailure struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// ParseWarning records a non-fatal oddity found while parsing a source.
type ParseWarning struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
}

// RunSummary holds the counters of a run without per-record detail.
type RunSummary struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Elapsed          time.Duration `json:"elapsed"`
	Sources          int           `json:"sources"`
	TotalFetched     int           `json:"total_fetched"`
	TotalUnique      int           `json:"total_unique"`
	LiveCount        int           `json:"live_count"`
	DeadCount        int           `json:"dead_count"`
	SkippedCount     int           `json:"skipped_count"`
	UnknownCount     int           `json:"unknown_count"`
	AssumedLiveCount int           `json:"assumed_live_count"`
	KeptCount        int           `json:"kept_count"`
	Degraded         bool          `json:"degraded"`
	Canceled         bool          `json:"canceled"`
}

// Report is the single artifact produced by one aggregation run.
// UnknownCount includes AssumedLiveCount, so
// TotalUnique == LiveCount + DeadCount + SkippedCount + UnknownCount.
type Report struct {
	RunSummary
	Kept          []Record       `json:"kept"`
	Results       []ProbeResult  `json:"results"`
	FetchFailures []FetchFailure `json:"fetch_failures"`
	ParseWarnings []ParseWarning `json:"parse_warnings"`
}

// Consistent reports whether the outcome counters add up to TotalUnique.
func (r *Report) Consistent() bool {
	return r.TotalUnique == r.LiveCount+r.DeadCount+r.SkippedCount+r.UnknownCount
}
