// Package httpkit builds the outbound HTTP clients used to reach LLM
// providers.
//
// Provider calls are not streamed, so response headers only arrive once
// the whole completion has been generated. The transport therefore bounds
// connection setup but not the wait for headers; the overall deadline is
// carried by the request context. There is no retry transport: a
// generation request is sent once and any failure goes back to the caller.
package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nugget/refine/internal/buildinfo"
)

// Connection limits for provider transports.
const (
	DialTimeout         = 10 * time.Second
	KeepAlive           = 30 * time.Second
	TLSHandshakeTimeout = 10 * time.Second
	IdleConnTimeout     = 90 * time.Second
	MaxIdleConnsPerHost = 4

	// drainLimit caps how much of an unread body is discarded so the
	// connection can go back to the pool.
	drainLimit = 64 << 10
)

// Option adjusts a client built by NewClient.
type Option func(*settings)

type settings struct {
	timeout   time.Duration
	userAgent string
	base      http.RoundTripper
}

// WithTimeout sets http.Client.Timeout. The default is zero, which
// leaves deadlines to the request context.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithUserAgent replaces the Refine User-Agent. An empty string sends
// whatever the underlying transport sends.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithTransport sends requests through rt instead of a fresh
// NewTransport. Tests use it to count or fail requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.base = rt }
}

// NewTransport returns a transport with bounded dial and TLS setup and a
// small idle pool. ResponseHeaderTimeout is left unset.
func NewTransport() *http.Transport {
	d := &net.Dialer{Timeout: DialTimeout, KeepAlive: KeepAlive}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         d.DialContext,
		TLSHandshakeTimeout: TLSHandshakeTimeout,
		IdleConnTimeout:     IdleConnTimeout,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}
}

// NewClient returns an *http.Client for provider calls.
func NewClient(opts ...Option) *http.Client {
	s := settings{userAgent: buildinfo.UserAgent()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.base == nil {
		s.base = NewTransport()
	}

	rt := s.base
	if s.userAgent != "" {
		rt = userAgent{next: s.base, value: s.userAgent}
	}
	return &http.Client{Timeout: s.timeout, Transport: rt}
}

// userAgent sets the User-Agent header on requests that do not carry one.
type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	// RoundTrip must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(r)
}

// ReadErrorBody returns at most limit bytes of an error response body and
// discards a bounded remainder so the connection can be reused. The
// caller still closes the body.
func ReadErrorBody(body io.Reader, limit int64) string {
	if body == nil {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(body, limit))
	_, _ = io.Copy(io.Discard, io.LimitReader(body, drainLimit))
	if err != nil {
		return fmt.Sprintf("(error body unreadable: %v)", err)
	}
	return string(b)
}
