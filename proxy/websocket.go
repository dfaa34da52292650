package proxy

import (
	"crypto/sha1" //nolint:gosec // required by RFC 6455, not used for anything sensitive
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/httperr"
)

// websocketGUID is the fixed magic value RFC 6455 §1.3 mixes into the
// Sec-WebSocket-Accept computation.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for the given
// Sec-WebSocket-Key, per RFC 6455 and spec.md §8 property 6:
// base64(sha1(key || GUID)).
func AcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

var serverUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (e *Engine) forwardWebSocket(w http.ResponseWriter, req *http.Request, client *http.Client) error {
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return httperr.BadRequest("invalid WebSocket version")
	}
	clientKey := req.Header.Get("Sec-WebSocket-Key")
	if clientKey == "" {
		return httperr.BadRequest("missing Sec-WebSocket-Key")
	}
	subprotocol := req.Header.Get("Sec-WebSocket-Protocol")

	backendURL := *req.URL
	backendURL.Scheme = wsScheme(backendURL.Scheme)

	outboundHeader := cloneWithoutHopByHop(req.Header)
	outboundHeader.Del("Sec-WebSocket-Key")
	outboundHeader.Del("Sec-WebSocket-Version")
	outboundHeader.Del("Sec-WebSocket-Extensions")

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsConfigOf(client),
		HandshakeTimeout: 30 * time.Second,
	}

	backendConn, resp, err := dialer.DialContext(req.Context(), backendURL.String(), outboundHeader)
	if err != nil {
		return translateWebSocketDialError(err, resp)
	}
	defer backendConn.Close()

	responseHeader := http.Header{}
	if subprotocol != "" && resp != nil && resp.Header.Get("Sec-WebSocket-Protocol") != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", resp.Header.Get("Sec-WebSocket-Protocol"))
	}

	clientConn, err := serverUpgrader.Upgrade(w, req, responseHeader)
	if err != nil {
		return httperr.BadGateway("handshake failed")
	}
	defer clientConn.Close()

	tunnel(e.Log, clientConn, backendConn)
	return nil
}

func wsScheme(scheme string) string {
	if scheme == "https" {
		return "wss"
	}
	return "ws"
}

func translateWebSocketDialError(err error, resp *http.Response) error {
	if resp != nil {
		return httperr.New(resp.StatusCode, fmt.Sprintf("upstream refused WebSocket upgrade: %s", resp.Status))
	}
	if err == websocket.ErrBadHandshake {
		return httperr.BadGateway("handshake failed")
	}
	return httperr.BadGateway("protocol error")
}

// tunnel runs the bidirectional forwarding loop between client and
// backend, per spec §4.8 point 5: text/binary frames are mirrored
// each way; pings/pongs on the backward (backend→client) direction
// are swallowed; a close frame on either side is translated into a
// close on the other and ends the tunnel; any other read error is
// logged and does not itself end the tunnel.
func tunnel(log logrus.FieldLogger, client, backend *websocket.Conn) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	done := make(chan struct{})

	backend.SetPingHandler(func(string) error { return nil })
	backend.SetPongHandler(func(string) error { return nil })

	go pump(log, "backend->client", backend, client, done)
	pump(log, "client->backend", client, backend, done)
	<-done
}

// pump reads frames from src and writes them to dst until src ends,
// a close frame arrives, or the peer direction has already finished.
func pump(log logrus.FieldLogger, direction string, src, dst *websocket.Conn, done chan struct{}) {
	defer func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		msgType, data, err := src.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(ce.Code, ce.Text),
					time.Now().Add(5*time.Second))
				return
			}
			if err == io.EOF || websocket.IsUnexpectedCloseError(err) {
				return
			}
			log.WithError(err).WithField("direction", direction).Debug("proxy: websocket read error, continuing")
			continue
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			_ = dst.WriteMessage(msgType, data)
		case websocket.PingMessage, websocket.PongMessage:
			// Swallowed: gorilla's default ping/pong handlers already
			// answer pings on src; nothing to mirror to dst.
		}
	}
}

// tlsConfigOf recovers the *tls.Config configured on client's
// transport, if any, so the WebSocket tunnel's outbound dial reuses
// the same trust and client-certificate material as every other
// request on that client (plain *http.Transport, or one wrapped by
// this repository's backend.userAgentTransport/retryTransport
// decorators).
func tlsConfigOf(client *http.Client) *tls.Config {
	rt := client.Transport
	for {
		if ht, ok := rt.(*http.Transport); ok {
			return ht.TLSClientConfig
		}
		unwrapper, ok := rt.(interface{ Unwrap() http.RoundTripper })
		if !ok {
			return nil
		}
		rt = unwrapper.Unwrap()
	}
}
