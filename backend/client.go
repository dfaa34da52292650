// Package backend implements the outbound HTTP client holder, spec.md
// §4.7: an atomically-swappable *http.Client driven by a stream of
// builder factories, so that client-certificate rotation (for the
// mesh backend class) can replace the instance without tearing down
// in-flight requests.
package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// Jitter selects the randomization applied to the backoff policy's
// retry interval, per spec §3/§6.
type Jitter int

const (
	JitterNone Jitter = iota
	JitterFull
	JitterBounded
)

// BackoffPolicy is the exponential-backoff retry configuration, spec
// §3's "Outbound client instance" fields.
type BackoffPolicy struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxRetries  int
	Jitter      Jitter
}

// Config is the configuration surface spec §6 names for an outbound
// client instance.
type Config struct {
	UserAgent          string
	ConnectTimeout     time.Duration
	RequestTimeout     time.Duration
	ResponseTimeout    time.Duration
	KeepAliveTimeout   time.Duration
	AcceptInvalidCerts bool
	UseRootCerts       bool
	UseWebpkiCerts     bool
	Backoff            BackoffPolicy

	// ClientCertificate is consulted for the mesh client class; the
	// mesh TLSSource (below) is what actually supplies rotated
	// material, this is only used for the "no rotation stream" case
	// (tests, the plain client class).
	ClientCertificate *tls.Certificate
}

// TLSSource supplies the client-certificate material used for mutual
// TLS to the mesh, rotated out of band by the identity client (spec
// §3 "Outbound client instance", §4.7's "mesh holder... driven by a
// stream that re-issues every time mTLS material rotates").
type TLSSource func() (*tls.Certificate, error)

// Build constructs a fresh *http.Client from cfg. tlsSource may be nil
// (used for the Plain backend class, which needs no client cert).
func Build(cfg Config, tlsSource TLSSource) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.AcceptInvalidCerts} //nolint:gosec

	if cfg.UseRootCerts {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("backend: loading system cert pool: %w", err)
		}
		tlsConfig.RootCAs = pool
	}
	// UseWebpkiCerts: Go's crypto/x509 doesn't carry a distinct
	// webpki bundle the way the Rust original's rustls-webpki crate
	// does; when both flags are set, the system pool above already
	// covers "use both", so there is nothing additional to load.

	if tlsSource != nil {
		cert, err := tlsSource()
		if err != nil {
			return nil, fmt.Errorf("backend: loading client certificate: %w", err)
		}
		if cert != nil {
			tlsConfig.Certificates = []tls.Certificate{*cert}
		}
	} else if cfg.ClientCertificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.ClientCertificate}
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveTimeout,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	h2Transport, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("backend: configuring HTTP/2 transport: %w", err)
	}
	if cfg.KeepAliveTimeout > 0 {
		h2Transport.ReadIdleTimeout = cfg.KeepAliveTimeout
		h2Transport.PingTimeout = cfg.KeepAliveTimeout
	}

	var rt http.RoundTripper = transport
	rt = &userAgentTransport{next: rt, userAgent: cfg.UserAgent}
	if cfg.Backoff.MaxRetries > 0 {
		rt = &retryTransport{next: rt, policy: cfg.Backoff}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
	}, nil
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// Unwrap exposes the decorated transport so callers that need to
// reach the underlying *http.Transport (e.g. the WebSocket tunnel's
// dialer, which reuses its TLS configuration) can walk the chain.
func (t *userAgentTransport) Unwrap() http.RoundTripper { return t.next }

// retryTransport wraps a RoundTripper with an exponential-backoff
// retry policy via cenkalti/backoff/v5, grounded on
// original_source/http_client.rs's with_backoff() (there, a
// reqwest_middleware RetryTransientMiddleware around
// ExponentialBackoff). Only requests with no body, or whose body is
// safely re-readable, are retried: the plain-proxy path streams the
// inbound body directly, so bodies are not buffered here.
type retryTransport struct {
	next   http.RoundTripper
	policy BackoffPolicy
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil {
		return t.next.RoundTrip(req)
	}

	op := func() (*http.Response, error) {
		r := req
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		resp, err := t.next.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("backend: transient upstream status %d", resp.StatusCode)
		}
		return resp, nil
	}

	return backoff.Retry(req.Context(), op,
		backoff.WithBackOff(t.exponentialBackOff()),
		backoff.WithMaxTries(uint(t.policy.MaxRetries+1)),
	)
}

// Unwrap exposes the decorated transport, see userAgentTransport.Unwrap.
func (t *retryTransport) Unwrap() http.RoundTripper { return t.next }

func (t *retryTransport) exponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if t.policy.MinInterval > 0 {
		b.InitialInterval = t.policy.MinInterval
	}
	if t.policy.MaxInterval > 0 {
		b.MaxInterval = t.policy.MaxInterval
	}
	switch t.policy.Jitter {
	case JitterNone:
		b.RandomizationFactor = 0
	case JitterBounded:
		b.RandomizationFactor = 0.5
	default: // JitterFull
		b.RandomizationFactor = 1
	}
	return b
}

// Holder maintains the current outbound client instance behind an
// atomic pointer, spec §4.7.
type Holder struct {
	store atomic.Pointer[http.Client]
	log   logrus.FieldLogger
}

// NewHolder returns a Holder initialized with initial.
func NewHolder(initial *http.Client, log logrus.FieldLogger) *Holder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Holder{log: log}
	h.store.Store(initial)
	return h
}

// Current returns the instance in effect at the moment of the call.
// In-flight requests keep using whatever instance they captured; this
// method never blocks.
func (h *Holder) Current() *http.Client {
	return h.store.Load()
}

// Factory yields a builder for a fresh client instance on each call.
// A Factory stream that never ends drives continuous rebuilds (e.g.
// every mTLS rotation); a finite stream rebuilds a fixed number of
// times and then leaves the last instance in place.
type Factory func(cfg Config) (*http.Client, error)

// Run consumes factories from the channel until it closes or ctx is
// canceled, replacing the current instance on each successful build.
// A factory error is logged and the previous instance is retained,
// per spec §4.7.
func (h *Holder) Run(ctx context.Context, cfg Config, factories <-chan Factory) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-factories:
			if !ok {
				return
			}
			client, err := f(cfg)
			if err != nil {
				h.log.WithError(err).Warn("backend: rebuilding outbound client failed, keeping the previous instance")
				continue
			}
			h.store.Store(client)
		}
	}
}
