// Package proxy implements the proxy engine, spec.md §4.8: forwarding
// a route-matched, already-rewritten request to its backend, either
// as a plain streamed HTTP request/response or as a WebSocket tunnel.
package proxy

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/httperr"
)

// hopByHop lists the headers that must never be copied verbatim
// between the inbound and outbound requests/responses, per spec
// §4.8's "MUST NOT add Transfer-Encoding, Connection, or other
// hop-by-hop headers beyond the upgrade handshake headers".
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// Engine forwards matched requests to their backend using the client
// instance the dispatcher snapshot at match time.
type Engine struct {
	Log logrus.FieldLogger
}

// New returns an Engine; a nil log yields the standard logrus logger.
func New(log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{Log: log}
}

// Forward dispatches req (method/URI/headers/body already finalized
// by the caller) to client, writing the response to w. It implements
// spec §4.8's pre-dispatch Upgrade inspection and both the plain and
// WebSocket proxy paths.
func (e *Engine) Forward(w http.ResponseWriter, req *http.Request, client *http.Client) error {
	upgrade := req.Header.Get("Upgrade")
	switch {
	case upgrade == "":
		return e.forwardPlain(w, req, client)
	case strings.EqualFold(upgrade, "websocket"):
		return e.forwardWebSocket(w, req, client)
	default:
		return httperr.BadRequest("unrecognized Upgrade header")
	}
}

func (e *Engine) forwardPlain(w http.ResponseWriter, req *http.Request, client *http.Client) error {
	outboundHeader := cloneWithoutHopByHop(req.Header)

	outbound, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return httperr.Internal("failed to construct outbound request")
	}
	outbound.Header = outboundHeader
	outbound.ContentLength = req.ContentLength
	outbound.Host = req.Host

	resp, err := client.Do(outbound)
	if err != nil {
		return translateTransportError(err)
	}
	defer resp.Body.Close()

	for k, values := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return nil
}

// statusError is satisfied by transport errors that carry their own
// HTTP status, so Forward can propagate it instead of defaulting to
// 500 (spec §4.8 point 4, §7 "Upstream-forwarded status").
type statusError interface {
	error
	StatusCode() int
}

func translateTransportError(err error) error {
	var se statusError
	if errors.As(err, &se) {
		return httperr.New(se.StatusCode(), err.Error())
	}
	return httperr.Internal(err.Error())
}

func cloneWithoutHopByHop(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, values := range h {
		if isHopByHop(k) {
			continue
		}
		out[k] = append([]string(nil), values...)
	}
	return out
}

func isHopByHop(key string) bool {
	for _, h := range hopByHop {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}
