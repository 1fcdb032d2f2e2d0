package core

import (
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// NewHTTPClient builds the client shared by submission and polling.
// AllowSelfSignedCerts disables certificate verification, for test
// gateways only. A positive RequestsPerSecond throttles every request the
// client makes. Clients derived with WithTimeout share that throttle.
func NewHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.AllowSelfSignedCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via ALLOW_SELF_SIGNED_CERTS
	}

	var rt http.RoundTripper = transport
	if cfg.RequestsPerSecond > 0 {
		rt = NewRateLimitedTransport(rt, cfg.RequestsPerSecond)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

// WithTimeout returns a copy of client with a different timeout. The copy
// shares the transport, so connection pooling and any rate limit apply to
// both clients together.
func WithTimeout(client *http.Client, timeout time.Duration) *http.Client {
	c := *client
	c.Timeout = timeout
	return &c
}

// RateLimitedTransport delays requests so that at most the configured
// number start per second. Waiting honours the request's context.
type RateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport wraps next with a token bucket of burst 1.
func NewRateLimitedTransport(next http.RoundTripper, perSecond float64) *RateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RateLimitedTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
