// Package fetcher retrieves source playlist documents.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"iptvmerge/internal/httpx"
	"iptvmerge/internal/models"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultDelay    = 50 * time.Millisecond
	DefaultMaxBytes = 32 << 20
)

// FetchError describes why a source contributed no document.
type FetchError struct {
	Kind       httpx.ErrorKind
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == httpx.KindHTTPStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so callers can write
// errors.Is(err, fetcher.ErrTimeout).
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Source == "" && t.Kind == e.Kind
}

var (
	ErrTimeout    = &FetchError{Kind: httpx.KindTimeout}
	ErrConnection = &FetchError{Kind: httpx.KindConnection}
	ErrTLS        = &FetchError{Kind: httpx.KindTLS}
	ErrHTTPStatus = &FetchError{Kind: httpx.KindHTTPStatus}
	ErrCanceled   = &FetchError{Kind: httpx.KindCanceled}
)

// ErrBodyTooLarge is wrapped by the *FetchError returned when a source
// body exceeds the configured size cap.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// Options configures a Fetcher.
type Options struct {
	Client   *http.Client
	Timeout  time.Duration
	Delay    time.Duration // Minimum spacing between consecutive fetches.
	MaxBytes int64
}

// Fetcher downloads source documents one at a time, spacing requests by
// the configured delay so upstream hosts do not rate-limit the run.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	maxBytes int64
}

// New creates a new Fetcher.
func New(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = httpx.NewClient(httpx.ClientOptions{})
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Fetcher{
		client:   opts.Client,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
	}
}

// Fetch GETs the source and returns its body decoded to UTF-8. Every
// failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, src models.Source) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", &FetchError{Kind: httpx.KindCanceled, Source: src.URL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", &FetchError{Kind: httpx.KindOther, Source: src.URL, Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{Kind: httpx.ClassifyError(err), Source: src.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{Kind: httpx.KindHTTPStatus, Source: src.URL, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", &FetchError{Kind: httpx.ClassifyError(err), Source: src.URL, Err: err}
	}
	if int64(len(raw)) > f.maxBytes {
		return "", &FetchError{Kind: httpx.KindOther, Source: src.URL,
			Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBytes)}
	}
	data, err := decode(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &FetchError{Kind: httpx.KindOther, Source: src.URL, Err: err}
	}
	log.Printf("fetched %s (%d bytes in %s)", src.URL, len(data), time.Since(start).Round(time.Millisecond))
	return string(data), nil
}

// decode converts body to UTF-8. A declared charset or a BOM is honored.
// Otherwise valid UTF-8 is returned untouched, and only undecodable bodies
// fall back to the sniffed encoding.
func decode(body []byte, contentType string) ([]byte, error) {
	enc, _, certain := charset.DetermineEncoding(body, contentType)
	if !certain && utf8.Valid(body) {
		return body, nil
	}
	return enc.NewDecoder().Bytes(body)
}
