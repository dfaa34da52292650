package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/protojour/arx/auth"
	"github.com/protojour/arx/backend"
	"github.com/protojour/arx/route"
	"github.com/protojour/arx/routing"
)

type stubAuthClient struct {
	token string
	err   error
}

func (c *stubAuthClient) ExchangeSession(_ context.Context, _ string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.token, nil
}

func newRegistry(t *testing.T, proxyBackend *httptest.Server) *routing.Registry {
	t.Helper()

	reg := routing.NewRegistry()
	b := routing.NewBuilder()

	backendURL := proxyBackend.URL
	scheme, authority := splitURL(t, backendURL)

	if _, err := b.Insert("/authly", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Mandatory)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert("/authly/{*path}", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Mandatory)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert("/authly/api/auth/{*path}", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Disabled)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}

	reg.Publish(b.Build())
	return reg
}

func splitURL(t *testing.T, raw string) (scheme, authority string) {
	t.Helper()
	const httpPrefix = "http://"
	if len(raw) < len(httpPrefix) {
		t.Fatalf("unexpected backend URL %q", raw)
	}
	return "http", raw[len(httpPrefix):]
}

func newState(reg *routing.Registry, client *http.Client, identity auth.Client) *State {
	holder := backend.NewHolder(client, nil)
	s := New(reg, ClientHolders{Default: holder, Mesh: holder}, identity, nil)
	return s
}

// TestDispatchMandatoryRequiresSessionCookie reproduces scenario S2:
// a Mandatory route rejects a request without a session cookie and
// forwards with a bearer token when one is present.
func TestDispatchMandatoryRequiresSessionCookie(t *testing.T) {
	var sawAuth string
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	reg := newRegistry(t, backendSrv)
	s := newState(reg, backendSrv.Client(), &stubAuthClient{token: "tok-123"})

	req := httptest.NewRequest(http.MethodGet, "/authly/ui", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/authly/ui", nil)
	req2.Header.Set("Cookie", "session-cookie=abc123")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("with cookie: status = %d, want 200", rec2.Code)
	}
	if sawAuth != "Bearer tok-123" {
		t.Fatalf("backend saw Authorization = %q, want Bearer tok-123", sawAuth)
	}
}

// TestDispatchDisabledAuthBypassesExchange reproduces scenario S2's
// whitelisted route: no token exchange happens even without a cookie.
func TestDispatchDisabledAuthBypassesExchange(t *testing.T) {
	var sawAuth string
	var sawPath string
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		sawPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	reg := newRegistry(t, backendSrv)
	s := newState(reg, backendSrv.Client(), &stubAuthClient{err: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/authly/api/auth/login", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sawAuth != "" {
		t.Fatalf("Authorization header = %q, want empty (auth disabled)", sawAuth)
	}
	if sawPath != "/login" {
		t.Fatalf("backend saw path %q, want /login", sawPath)
	}
}

// TestDispatchMissIs404 covers the no-match branch of spec.md §4.9.
func TestDispatchMissIs404(t *testing.T) {
	reg := routing.NewRegistry()
	reg.Publish(routing.NewBuilder().Build())
	s := newState(reg, http.DefaultClient, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// TestDispatchRedirectsTrailingSlash reproduces scenario S1's
// GET /authly -> 307 /authly/ leg.
func TestDispatchRedirectsTrailingSlash(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	reg := routing.NewRegistry()
	b := routing.NewBuilder()
	scheme, authority := splitURL(t, backendSrv.URL)
	if _, err := b.Insert("/authly", route.NewTemporaryRedirect("/authly/")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert("/authly/", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Disabled)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Insert("/authly/{*path}", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Disabled)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	reg.Publish(b.Build())

	s := newState(reg, backendSrv.Client(), nil)

	req := httptest.NewRequest(http.MethodGet, "/authly", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/authly/" {
		t.Fatalf("Location = %q, want /authly/", loc)
	}
}

// TestDispatchForwardingHeaders reproduces scenario S5: x-forwarded-*
// headers are populated and Host is stripped before reaching the
// backend.
func TestDispatchForwardingHeaders(t *testing.T) {
	var gotHost, gotPort, gotProto, gotPrefix, gotHostHeader string
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Header.Get("X-Forwarded-Host")
		gotPort = r.Header.Get("X-Forwarded-Port")
		gotProto = r.Header.Get("X-Forwarded-Proto")
		gotPrefix = r.Header.Get("X-Forwarded-Prefix")
		gotHostHeader = r.Header.Get("Host")
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	reg := routing.NewRegistry()
	b := routing.NewBuilder()
	scheme, authority := splitURL(t, backendSrv.URL)
	if _, err := b.Insert("/svc/{*path}", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Disabled)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	reg.Publish(b.Build())

	s := newState(reg, backendSrv.Client(), nil)

	req := httptest.NewRequest(http.MethodGet, "/svc/xyz", nil)
	req.Host = "example.com:8443"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotHost != "example.com" {
		t.Errorf("x-forwarded-host = %q, want example.com", gotHost)
	}
	if gotPort != "8443" {
		t.Errorf("x-forwarded-port = %q, want 8443", gotPort)
	}
	if gotProto != "http" {
		t.Errorf("x-forwarded-proto = %q, want http", gotProto)
	}
	if gotPrefix != "/svc" {
		t.Errorf("x-forwarded-prefix = %q, want /svc", gotPrefix)
	}
	if gotHostHeader != "" {
		t.Errorf("Host header leaked to backend: %q", gotHostHeader)
	}
}

// TestDispatchHotSwapDoesNotAffectInFlightTable reproduces spec.md §8
// property 5 / scenario S4 at the Registry level the dispatcher reads
// from: a table snapshot taken before a publish is unaffected by it.
func TestDispatchHotSwapDoesNotAffectInFlightTable(t *testing.T) {
	reg := routing.NewRegistry()
	b1 := routing.NewBuilder()
	if _, err := b1.Insert("/a", route.NewLocalHandler(route.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))); err != nil {
		t.Fatal(err)
	}
	reg.Publish(b1.Build())

	snapshot, ok := reg.Current()
	if !ok {
		t.Fatal("expected a published table")
	}

	b2 := routing.NewBuilder()
	reg.Publish(b2.Build())

	if _, ok := snapshot.Lookup("/a"); !ok {
		t.Fatal("snapshot taken before publish should still match /a")
	}

	fresh, ok := reg.Current()
	if !ok {
		t.Fatal("expected a published table")
	}
	if _, ok := fresh.Lookup("/a"); ok {
		t.Fatal("table published after removal should no longer match /a")
	}
}

// TestDispatchRejectsOversizedRequest covers spec.md §6's
// request_max_size rejection threshold.
func TestDispatchRejectsOversizedRequest(t *testing.T) {
	reg := routing.NewRegistry()
	reg.Publish(routing.NewBuilder().Build())
	s := newState(reg, http.DefaultClient, nil)
	s.RequestMaxSize = 10

	req := httptest.NewRequest(http.MethodPost, "/anything", nil)
	req.ContentLength = 1024
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestDispatchOpportunisticNoCookie reproduces spec.md §8 property 8:
// under Opportunistic with no session cookie, the request forwards
// unchanged and succeeds.
func TestDispatchOpportunisticNoCookie(t *testing.T) {
	var sawAuth string
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	reg := routing.NewRegistry()
	b := routing.NewBuilder()
	scheme, authority := splitURL(t, backendSrv.URL)
	if _, err := b.Insert("/svc/{*path}", route.NewProxy(scheme, authority, route.Plain, route.Always(route.Opportunistic)).WithReplacePrefix("")); err != nil {
		t.Fatal(err)
	}
	reg.Publish(b.Build())

	s := newState(reg, backendSrv.Client(), &stubAuthClient{token: "unused"})

	req := httptest.NewRequest(http.MethodGet, "/svc/x", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sawAuth != "" {
		t.Fatalf("Authorization = %q, want empty", sawAuth)
	}
}
