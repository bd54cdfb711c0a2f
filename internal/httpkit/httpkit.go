// Package httpkit provides shared HTTP client construction and utilities
// for outbound HTTP calls in stead. It enforces consistent timeouts and
// connection management so a dead network link surfaces as a prompt error
// instead of a hung request.
//
// The primary consumer is the link reachability probe, which runs on a
// tick budget: every timeout here must be short enough that a probe
// against an unreachable gateway fails within its deadline.
package httpkit

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nugget/stead/internal/buildinfo"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	// DefaultDialTimeout is the maximum time to establish a TCP connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKeepAlive is the interval between TCP keep-alive probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultTLSHandshakeTimeout is the maximum time for the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultResponseHeader is the maximum time to wait for response headers
	// after a request is fully written.
	DefaultResponseHeader = 15 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultMaxIdleConns is the total number of idle connections across all hosts.
	DefaultMaxIdleConns = 20

	// DefaultMaxIdleConnsPerHost is the per-host idle connection limit.
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout               time.Duration
	userAgent             string
	skipUserAgent         bool
	transport             *http.Transport
	disableKeepAlives     bool
	tlsInsecureSkipVerify bool
}

// WithTimeout sets the overall request timeout (connect + headers + body).
// A zero value means no overall timeout, for streaming responses.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithoutUserAgent disables automatic User-Agent injection, for callers
// that manage their own headers.
func WithoutUserAgent() ClientOption {
	return func(c *clientConfig) {
		c.skipUserAgent = true
	}
}

// WithTransport supplies a custom transport, for callers that need
// special dial behavior. The user-agent wrapper still applies.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) {
		c.transport = t
	}
}

// WithDisableKeepAlives turns off HTTP keep-alive so every request dials
// a fresh connection. The reachability probe uses this: a pooled
// connection from before a link loss would let a probe succeed against
// a network that is no longer attached.
func WithDisableKeepAlives() ClientOption {
	return func(c *clientConfig) {
		c.disableKeepAlives = true
	}
}

// WithTLSInsecureSkipVerify disables TLS certificate verification, for
// probing LAN gateways that serve self-signed certificates.
func WithTLSInsecureSkipVerify() ClientOption {
	return func(c *clientConfig) {
		c.tlsInsecureSkipVerify = true
	}
}

// NewTransport returns an *http.Transport with explicit timeouts and
// sane connection pool limits.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns an *http.Client with the shared transport, a 30s
// default timeout, and automatic User-Agent injection.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewTransport()
	}
	if cfg.disableKeepAlives {
		transport = transport.Clone()
		transport.DisableKeepAlives = true
	}
	if cfg.tlsInsecureSkipVerify {
		transport = transport.Clone()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	var rt http.RoundTripper = transport
	if !cfg.skipUserAgent {
		ua := cfg.userAgent
		if ua == "" {
			ua = buildinfo.UserAgent()
		}
		rt = &userAgentTransport{base: rt, userAgent: ua}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.timeout,
	}
}

// userAgentTransport injects a User-Agent header when the request does
// not already carry one.
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

// DrainAndClose reads up to limit bytes from the body and closes it, so
// the underlying connection can be reused. Safe to call with nil.
func DrainAndClose(body io.ReadCloser, limit int64) {
	if body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(body, limit))
	body.Close()
}

// ReadErrorBody reads up to limit bytes of a response body for inclusion
// in an error message, then closes the body. Safe to call with nil.
func ReadErrorBody(body io.ReadCloser, limit int64) string {
	if body == nil {
		return ""
	}
	defer body.Close()
	b, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read response body: %v)", err)
	}
	return string(b)
}
