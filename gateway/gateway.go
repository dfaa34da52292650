// Package gateway implements the top-level request service, spec.md
// §4.9: the two-step match-then-apply dispatcher, composed behind the
// response-compression and CORS middleware (§6), with the always-
// present local handlers and optional metrics instrumentation.
package gateway

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/auth"
	"github.com/protojour/arx/backend"
	"github.com/protojour/arx/headers"
	"github.com/protojour/arx/httperr"
	"github.com/protojour/arx/logging"
	"github.com/protojour/arx/proxy"
	"github.com/protojour/arx/rewrite"
	"github.com/protojour/arx/route"
	"github.com/protojour/arx/routing"
)

// ClientHolders is the set of outbound client holders selectable by
// backend class, spec.md §3's "at least default and mesh".
type ClientHolders struct {
	Default *backend.Holder
	Mesh    *backend.Holder
}

func (h ClientHolders) forClass(class route.BackendClass) *backend.Holder {
	if class == route.MeshTLS {
		return h.Mesh
	}
	return h.Default
}

// State is the gateway's immutable-configuration, hot-swappable-table
// request service: spec.md §3's "Gateway state" made concrete.
type State struct {
	Registry *routing.Registry
	Clients  ClientHolders
	Identity auth.Client
	Proxy    *proxy.Engine
	Metrics  *Metrics
	Log      logrus.FieldLogger

	// AccessLog enables per-request access-log emission via the
	// logging package, spec.md §6's access_log option.
	AccessLog bool

	// RequestMaxSize rejects a request whose declared Content-Length
	// exceeds it, and caps any request body of unknown length at the
	// same limit, per spec.md §6's request_max_size. Zero disables the
	// check.
	RequestMaxSize int64
}

// New returns a State ready to serve, with a fresh proxy.Engine. A nil
// log falls back to the standard logrus logger, the same convention
// every other package in this repository follows.
func New(registry *routing.Registry, clients ClientHolders, identity auth.Client, log logrus.FieldLogger) *State {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &State{
		Registry: registry,
		Clients:  clients,
		Identity: identity,
		Proxy:    proxy.New(log),
		Log:      log,
	}
}

// matchKind discriminates the outcome of matchRoute, spec.md §4.9's
// ProxyMatch/RedirectMatch/LocalMatch.
type matchKind int

const (
	matchProxy matchKind = iota
	matchRedirect
	matchLocal
)

// matched is the synchronous route-match result, computed entirely
// under a single routing.Table snapshot with no suspension point, per
// spec.md §4.9 point 1 and §5's "route-match step has no suspension
// points by construction".
type matched struct {
	kind       matchKind
	request    *http.Request
	directive  route.AuthDirective
	client     *http.Client
	handler    route.Handler
	redirectTo string
}

// ServeHTTP implements spec.md §4.9's per-request pipeline: a
// synchronous match-route step, then the (possibly suspending)
// application of that match. Any error anywhere in the pipeline is
// converted into a response at this boundary; a panic from a local
// handler or the proxy engine is recovered here so a single bad
// request can never take the listener down (§4.9's "Panics within a
// handler must not crash the server").
func (s *State) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := logging.NewRequestID()
	r.Header.Set("X-Request-Id", requestID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	outcome := OutcomeProxy

	defer func() { s.finish(rec, r, start, requestID, outcome, recover()) }()

	if err := s.enforceMaxSize(rec, r); err != nil {
		outcome = outcomeForError(err)
		s.writeError(rec, r, err)
		return
	}

	m, err := s.matchRoute(r)
	if err != nil {
		outcome = outcomeForError(err)
		s.writeError(rec, r, err)
		return
	}
	outcome = outcomeForKind(m.kind)

	if err := s.apply(rec, r, m); err != nil {
		outcome = outcomeForError(err)
		s.writeError(rec, r, err)
	}
}

func (s *State) finish(rec *statusRecorder, r *http.Request, start time.Time, requestID string, outcome Outcome, panicked any) {
	if panicked != nil {
		s.Log.WithField("panic", panicked).WithField("path", r.URL.Path).Error("gateway: recovered panic")
		if !rec.wroteHeader {
			httperr.Internal("internal server error").WriteTo(rec)
		}
		outcome = OutcomeError
	}

	s.Metrics.observe(outcome, start)

	if s.AccessLog {
		logging.LogAccess(&logging.AccessEntry{
			Request:      r,
			StatusCode:   rec.status,
			ResponseSize: rec.size,
			RequestTime:  start,
			Duration:     time.Since(start),
			RequestID:    requestID,
		})
	}
}

// enforceMaxSize rejects a request whose declared length is already
// known to exceed the configured limit, and otherwise wraps the body
// so an unexpectedly large streamed body is cut off rather than
// forwarded in full.
func (s *State) enforceMaxSize(w http.ResponseWriter, r *http.Request) error {
	if s.RequestMaxSize <= 0 {
		return nil
	}
	if r.ContentLength > s.RequestMaxSize {
		return httperr.BadRequest("request body exceeds maximum size")
	}
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.RequestMaxSize)
	}
	return nil
}

func outcomeForKind(k matchKind) Outcome {
	switch k {
	case matchLocal:
		return OutcomeLocal
	case matchRedirect:
		return OutcomeRedirect
	default:
		return OutcomeProxy
	}
}

func outcomeForError(err error) Outcome {
	var he *httperr.Error
	if errors.As(err, &he) && he.Status == http.StatusNotFound {
		return OutcomeMiss
	}
	return OutcomeError
}

// matchRoute matches r's path against the current table snapshot,
// rewrites r's URI and forwarding headers in place, and decides the
// auth directive and outbound client for a Proxy match — all
// synchronously, per spec.md §4.9 point 1.
func (s *State) matchRoute(r *http.Request) (matched, error) {
	table, ok := s.Registry.Current()
	if !ok {
		return matched{}, httperr.NotFound("not found")
	}

	lookup, ok := table.Lookup(r.URL.Path)
	if !ok {
		return matched{}, httperr.NotFound("not found")
	}
	entry := lookup.Entry

	switch entry.Kind {
	case route.KindTemporaryRedirect:
		return matched{kind: matchRedirect, redirectTo: entry.RedirectTo}, nil

	case route.KindLocalHandler:
		if err := rewriteInPlace(r, rewrite.Backend{}, entry, lookup.CapturedPath); err != nil {
			return matched{}, err
		}
		return matched{kind: matchLocal, request: r, handler: entry.Local}, nil

	case route.KindProxy:
		be := rewrite.Backend{Scheme: entry.BackendScheme, Authority: entry.BackendAuthority}
		if err := rewriteInPlace(r, be, entry, lookup.CapturedPath); err != nil {
			return matched{}, err
		}

		directive := route.Mandatory
		if entry.Auth != nil {
			directive = entry.Auth(r)
		}

		var client *http.Client
		if holder := s.Clients.forClass(entry.BackendClass); holder != nil {
			client = holder.Current()
		}

		return matched{kind: matchProxy, request: r, directive: directive, client: client}, nil

	default:
		return matched{}, httperr.Internal("unrecognized route entry")
	}
}

// rewriteInPlace applies the URI rewriter (rewrite.URI) and the
// forward-header setter (headers.SetForwarded) to r, in the order
// spec.md §4.2 requires: the original URI must be captured before the
// rewrite replaces r.URL.
func rewriteInPlace(r *http.Request, be rewrite.Backend, entry route.Entry, capturedPath string) error {
	original := *r.URL

	rewritten, err := rewrite.URI(r.URL, be, entry.HasReplacePrefix, entry.ReplacePrefix, capturedPath)
	if err != nil {
		return httperr.Internal("invalid rewritten URI")
	}
	r.URL = rewritten

	if err := headers.SetForwarded(r, &original); err != nil {
		return httperr.BadRequest(err.Error())
	}
	return nil
}

// apply executes the matched route, per spec.md §4.9 point 2: this is
// where suspension (I/O) happens — the identity exchange and the
// proxy engine's outbound call — always after matchRoute has already
// dropped its table snapshot.
func (s *State) apply(w http.ResponseWriter, r *http.Request, m matched) error {
	switch m.kind {
	case matchRedirect:
		w.Header().Set("Location", m.redirectTo)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return nil

	case matchLocal:
		m.handler.Handle(w, m.request)
		return nil

	case matchProxy:
		if err := auth.Process(r.Context(), m.directive, m.request, s.Identity, s.Log); err != nil {
			return err
		}
		if m.client == nil {
			return httperr.Internal("no outbound client configured for this backend class")
		}
		return s.Proxy.Forward(w, m.request, m.client)

	default:
		return httperr.Internal("unrecognized route match")
	}
}

func (s *State) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var he *httperr.Error
	if errors.As(err, &he) {
		he.WriteTo(w)
		return
	}
	s.Log.WithError(err).WithField("path", r.URL.Path).Error("gateway: unhandled error")
	httperr.Internal("internal server error").WriteTo(w)
}

// Handler composes ServeHTTP behind the response-compression and CORS
// middleware, per spec.md §4.9's "held behind a response-compression
// layer and a CORS layer". Metrics and access logging are recorded
// inside ServeHTTP itself (see finish), since only the dispatcher
// knows which of the three match kinds a request actually took.
func (s *State) Handler(compression CompressionConfig, cors CORSConfig) http.Handler {
	var h http.Handler = http.HandlerFunc(s.ServeHTTP)
	h = CompressionMiddleware(compression)(h)
	h = CORSMiddleware(cors)(h)
	return h
}

// statusRecorder captures the status code and byte count written
// through it, for access logging and metrics, while still supporting
// Hijack for the WebSocket upgrade path (proxy.Engine hijacks via
// gorilla/websocket's Upgrader, which requires http.Hijacker).
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
