// Package prober classifies stream endpoints as live, dead, skipped or
// unknown using lightweight HTTP requests over a bounded worker pool.
package prober

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"iptvmerge/internal/httpx"
	"iptvmerge/internal/models"
	"iptvmerge/internal/urlutil"
)

const (
	DefaultConcurrency  = 20
	DefaultTimeout      = 5 * time.Second
	DefaultPerHostLimit = 4

	progressEvery = 100
)

// TLSMode decides how certificate and handshake failures are classified.
type TLSMode string

const (
	TLSStrict  TLSMode = "strict"  // TLS failures are dead.
	TLSLenient TLSMode = "lenient" // TLS failures are live; self-signed IPTV origins are common.
)

// ParseTLSMode validates a TLS mode name.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(s) {
	case TLSStrict, TLSLenient:
		return TLSMode(s), nil
	}
	return "", fmt.Errorf("invalid tls mode %q (use 'strict' or 'lenient')", s)
}

// Result is the classification of one endpoint.
type Result struct {
	Endpoint   string
	Outcome    models.Outcome
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Options configures a Prober.
type Options struct {
	Client       *http.Client
	Concurrency  int
	Timeout      time.Duration
	TLSMode      TLSMode
	Skip         *SkipList
	PerHostLimit int
}

// Prober probes endpoints. A single HTTP client, and with it the connection
// pool, is shared by every worker.
type Prober struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	tlsMode     TLSMode
	skip        *SkipList
	hosts       *HostLimiter
}

// New creates a new Prober.
func New(opts Options) *Prober {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TLSMode == "" {
		opts.TLSMode = TLSStrict
	}
	if opts.Client == nil {
		opts.Client = httpx.NewClient(httpx.ClientOptions{MaxConnsPerHost: opts.Concurrency})
	}
	return &Prober{
		client:      opts.Client,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		tlsMode:     opts.TLSMode,
		skip:        opts.Skip,
		hosts:       NewHostLimiter(opts.PerHostLimit),
	}
}

// ProbeAll probes every distinct endpoint and returns one Result per
// endpoint. Results arrive in completion order and are collected by this
// goroutine alone. When ctx is done, probes in flight are abandoned and
// every endpoint without a result is classified unknown.
func (p *Prober) ProbeAll(ctx context.Context, endpoints []string) map[string]Result {
	unique := make([]string, 0, len(endpoints))
	seen := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		unique = append(unique, e)
	}

	results := make(map[string]Result, len(unique))
	if len(unique) == 0 {
		return results
	}

	workers := p.concurrency
	if workers > len(unique) {
		workers = len(unique)
	}
	pool := NewWorkerPool(ctx, p.ProbeOne, workers)
	go func() {
		defer pool.Stop()
		for _, e := range unique {
			if !pool.Submit(ctx, e) {
				return
			}
		}
	}()

	completed := 0
	for r := range pool.Results() {
		results[r.Endpoint] = r
		completed++
		if completed%progressEvery == 0 {
			log.Printf("probed %d/%d endpoints", completed, len(unique))
		}
	}

	if abandoned := len(unique) - len(results); abandoned > 0 {
		log.Printf("warning: run ended with %d endpoints unprobed", abandoned)
		for _, e := range unique {
			if _, ok := results[e]; !ok {
				results[e] = Result{Endpoint: e, Outcome: models.OutcomeUnknown, Err: ctx.Err()}
			}
		}
	}
	return results
}

// ProbeOne classifies a single endpoint. Skip-listed endpoints return
// immediately without any network call. Otherwise a HEAD request is sent,
// falling back once to a single-byte ranged GET when the server rejects
// HEAD. No other retry happens here.
func (p *Prober) ProbeOne(ctx context.Context, endpoint string) Result {
	res := Result{Endpoint: endpoint}
	if p.skip.Match(endpoint) {
		res.Outcome = models.OutcomeSkipped
		return res
	}

	host := urlutil.Host(endpoint)
	if err := p.hosts.Acquire(ctx, host); err != nil {
		res.Outcome = models.OutcomeUnknown
		res.Err = err
		return res
	}
	defer p.hosts.Release(host)

	start := time.Now()
	status, err := p.request(ctx, http.MethodHead, endpoint)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.request(ctx, http.MethodGet, endpoint)
	}
	res.Latency = time.Since(start)
	res.StatusCode = status
	res.Err = err
	res.Outcome = p.classify(ctx, status, err)
	return res
}

// request performs one bounded request and returns the final status code.
// The body is never read.
func (p *Prober) request(ctx context.Context, method, endpoint string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// classify maps a probe's status or error to an outcome. An error seen
// after the run context ended is never held against the endpoint.
func (p *Prober) classify(ctx context.Context, status int, err error) models.Outcome {
	if err == nil {
		if LiveStatus(status) {
			return models.OutcomeLive
		}
		return models.OutcomeDead
	}
	if ctx.Err() != nil {
		return models.OutcomeUnknown
	}
	switch httpx.ClassifyError(err) {
	case httpx.KindTimeout, httpx.KindConnection:
		return models.OutcomeDead
	case httpx.KindTLS:
		if p.tlsMode == TLSLenient {
			return models.OutcomeLive
		}
		return models.OutcomeDead
	default:
		return models.OutcomeUnknown
	}
}

// LiveStatus reports whether a status code counts as reachable: any 2xx,
// or a redirect left unfollowed after the redirect cap.
func LiveStatus(code int) bool {
	switch {
	case code >= 200 && code <= 299:
		return true
	case code == http.StatusMovedPermanently,
		code == http.StatusFound,
		code == http.StatusSeeOther,
		code == http.StatusTemporaryRedirect,
		code == http.StatusPermanentRedirect:
		return true
	}
	return false
}
