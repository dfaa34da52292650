package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protojour/arx/httperr"
)

func TestForwardPlainStreamsResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Error("hop-by-hop Connection header should not reach the backend")
		}
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusTeapot)
		io.Copy(w, r.Body)
	}))
	defer backend.Close()

	req, err := http.NewRequest(http.MethodPost, backend.URL+"/x", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Connection", "keep-alive")

	rec := httptest.NewRecorder()
	e := New(nil)
	if err := e.Forward(rec, req, backend.Client()); err != nil {
		t.Fatal(err)
	}

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Header().Get("X-Custom") != "yes" {
		t.Fatal("expected X-Custom response header to be forwarded")
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q, want hello", rec.Body.String())
	}
}

func TestForwardUnrecognizedUpgradeIs400(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://gw/x", nil)
	req.Header.Set("Upgrade", "h2c")

	e := New(nil)
	err := e.Forward(httptest.NewRecorder(), req, http.DefaultClient)
	if err == nil {
		t.Fatal("expected an error for an unrecognized Upgrade header")
	}
	var httpErr *httperr.Error
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want a 400 *httperr.Error", err)
	}
}

// TestAcceptKeyMatchesRFCExample reproduces spec.md §8 property 6 and
// the literal example in scenario S3.
func TestAcceptKeyMatchesRFCExample(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptKey = %q, want %q", got, want)
	}
}

// TestForwardWebSocketTunnel reproduces spec.md §8 scenario S3: a
// text frame sent by the client is mirrored to the backend, and a
// binary frame sent by the backend is mirrored back to the client.
func TestForwardWebSocketTunnel(t *testing.T) {
	backendUpgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	received := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := backendUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("backend upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("backend read failed: %v", err)
			return
		}
		received <- string(msg)

		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("pong-bytes")); err != nil {
			t.Errorf("backend write failed: %v", err)
		}
	}))
	defer backend.Close()

	e := New(nil)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendURL, _ := url.Parse(backend.URL)
		r.URL.Scheme = backendURL.Scheme
		r.URL.Host = backendURL.Host
		if err := e.Forward(w, r, backend.Client()); err != nil {
			t.Errorf("Forward failed: %v", err)
		}
	}))
	defer gateway.Close()

	wsURL := "ws" + strings.TrimPrefix(gateway.URL, "http")
	clientConn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	if err := clientConn.WriteMessage(websocket.TextMessage, []byte("ping-text")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got != "ping-text" {
			t.Fatalf("backend received %q, want ping-text", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the backend to receive the client's message")
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if msgType != websocket.BinaryMessage || string(data) != "pong-bytes" {
		t.Fatalf("client received (%d, %q), want (%d, pong-bytes)", msgType, data, websocket.BinaryMessage)
	}
}
