// Local handlers implementing the always-present routes from
// static_routes.rs/local/mod.rs: health, static file serving, and the
// docs/onto app bundles.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/protojour/arx/backend"
	"github.com/protojour/arx/route"
)

// ComponentReport is one entry in the Health handler's JSON array.
type ComponentReport struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// HealthChecker reports whether a gateway subsystem is up, so Health
// can assemble the {name, healthy} report array spec.md §6 calls for.
type HealthChecker interface {
	Name() string
	Healthy() bool
}

// registryChecker reports whether a routing.Registry currently holds a
// published table.
type registryChecker struct {
	name string
	has  func() bool
}

func (c registryChecker) Name() string    { return c.name }
func (c registryChecker) Healthy() bool   { return c.has() }

// RouteTableChecker builds a HealthChecker over a *routing.Registry's
// Current method, without importing routing here (avoiding an import
// cycle, since routing doesn't need to know about gateway).
func RouteTableChecker(name string, current func() (ok bool)) HealthChecker {
	return registryChecker{name: name, has: current}
}

// HolderChecker builds a HealthChecker over a backend.Holder: healthy
// iff it currently holds a client instance.
func HolderChecker(name string, h *backend.Holder) HealthChecker {
	return registryChecker{name: name, has: func() bool { return h.Current() != nil }}
}

// Health is the local handler for /health: it reports each configured
// subsystem's liveness as a JSON array, per spec.md §6 / SPEC_FULL.md
// §4.9A. GET only, mirroring local/mod.rs's match_get guard.
type Health struct {
	Checkers []HealthChecker
}

func (h *Health) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reports := make([]ComponentReport, 0, len(h.Checkers))
	for _, c := range h.Checkers {
		reports = append(reports, ComponentReport{Name: c.Name(), Healthy: c.Healthy()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(reports)
}

// Static serves files from a configured on-disk directory, grounded on
// local/mod.rs's Static service (tower_http's bare ServeDir, no
// fallback to an index page). The caller arranges for the matched
// "/static" prefix to already be stripped via route.Entry's
// WithReplacePrefix before this handler sees the request.
type Static struct {
	FileServer http.Handler
}

// NewStatic builds a Static handler serving dir.
func NewStatic(dir string) *Static {
	return &Static{FileServer: http.FileServer(http.Dir(dir))}
}

func (s *Static) Handle(w http.ResponseWriter, r *http.Request) {
	s.FileServer.ServeHTTP(w, r)
}

// appBundle serves an SPA-style directory, falling back to index.html
// for any path that doesn't resolve to a file on disk (ServeDir with a
// ServeFile fallback in the original), and sets the cross-origin
// isolation headers static_routes.rs wires for the onto/docs apps.
type appBundle struct {
	dir     string
	fs      http.Handler
	headers map[string]string
}

func newAppBundle(dir string, headers map[string]string) *appBundle {
	return &appBundle{dir: dir, fs: http.FileServer(http.Dir(dir)), headers: headers}
}

func (a *appBundle) Handle(w http.ResponseWriter, r *http.Request) {
	for k, v := range a.headers {
		w.Header().Set(k, v)
	}

	rc := &notFoundRecorder{ResponseWriter: w}
	a.fs.ServeHTTP(rc, r)
	if rc.notFound {
		http.ServeFile(w, r, strings.TrimSuffix(a.dir, "/")+"/index.html")
	}
}

// notFoundRecorder intercepts a 404 from http.FileServer so the caller
// can retry with an index.html fallback instead of surfacing it.
type notFoundRecorder struct {
	http.ResponseWriter
	notFound    bool
	wroteHeader bool
}

func (n *notFoundRecorder) WriteHeader(status int) {
	if status == http.StatusNotFound {
		n.notFound = true
		return
	}
	n.wroteHeader = true
	n.ResponseWriter.WriteHeader(status)
}

func (n *notFoundRecorder) Write(p []byte) (int, error) {
	if n.notFound {
		return len(p), nil
	}
	if !n.wroteHeader {
		n.wroteHeader = true
	}
	return n.ResponseWriter.Write(p)
}

// NewOnto builds the /onto app bundle handler, grounded on
// local/mod.rs's Onto service: cross-origin-embedder-policy
// "credentialless", cross-origin-opener-policy "same-origin",
// cross-origin-resource-policy "cross-origin".
func NewOnto(dir string) route.Handler {
	return newAppBundle(dir, map[string]string{
		"Cross-Origin-Embedder-Policy": "credentialless",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "cross-origin",
	})
}

// NewDocs builds the /docs app bundle handler. The original's Docs
// service sets no extra headers; this one sets Cross-Origin-Opener-Policy
// "same-origin" and Cross-Origin-Embedder-Policy "require-corp", as
// SPEC_FULL.md §4.9A lists for it.
func NewDocs(dir string) route.Handler {
	return newAppBundle(dir, map[string]string{
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Embedder-Policy": "require-corp",
	})
}
