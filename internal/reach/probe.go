// Package reach answers "is the lead server actually reachable right now",
// as opposed to link-level connectivity. It issues a cheap, tightly bounded
// GET against the server's health endpoint and reports what came back.
package reach

import (
	"context"
	"io"
	"net/http"
	"time"
)

// defaultTimeout bounds the probe. A health endpoint that takes longer than
// this is treated as unreachable for scheduling purposes.
const defaultTimeout = 2500 * time.Millisecond

// Result describes one probe outcome.
type Result struct {
	// Reachable is true when any HTTP response arrived, even an error
	// status. A server that is up but rejecting is still reachable — that
	// distinction keeps the policy from hammering a live server with
	// retries it will keep refusing.
	Reachable bool

	// OK is true when the response status was 2xx.
	OK bool

	// Status is the HTTP status code, zero when no response arrived.
	Status int

	// Latency is the observed round-trip time.
	Latency time.Duration

	// Err is the transport error when Reachable is false.
	Err error
}

// Probe issues bounded health checks against a fixed URL.
type Probe struct {
	url     string
	hc      *http.Client
	timeout time.Duration
}

// Option customises a Probe.
type Option func(*Probe)

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Probe) { p.hc = hc }
}

// WithTimeout overrides the per-probe timeout. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a Probe for the given health URL.
func New(healthURL string, opts ...Option) *Probe {
	p := &Probe{
		url:     healthURL,
		hc:      &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check performs one probe. It never returns an error — a timeout or refused
// connection is a Result with Reachable=false, which is an answer, not a
// fault.
func (p *Probe) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Result{Err: err}
	}

	resp, err := p.hc.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Latency: latency, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	// The body carries no signal; drain it so the connection is reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return Result{
		Reachable: true,
		OK:        resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:    resp.StatusCode,
		Latency:   latency,
	}
}
