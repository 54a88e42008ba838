// Package httpx holds the HTTP client shared by source fetching and
// endpoint probing, and the classification of transport errors.
package httpx

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent is sent when no user agent is configured. Some IPTV
// origins reject requests without one.
const DefaultUserAgent = "iptvmerge/1.0"

const maxRedirects = 5

// ClientOptions configures NewClient.
type ClientOptions struct {
	UserAgent       string
	MaxConnsPerHost int
	DialTimeout     time.Duration
}

// NewClient builds a client with a pooled transport, a default User-Agent
// and a redirect cap. After maxRedirects hops the last redirect response is
// returned instead of an error. Timeouts are applied per request through
// the request context, not on the client.
func NewClient(opts ClientOptions) *http.Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: opts.DialTimeout,
	}
	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: opts.UserAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// userAgentTransport sets a default User-Agent on outgoing requests.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
