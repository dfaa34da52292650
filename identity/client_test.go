package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExchangeSessionReturnsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/access-token" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var in exchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatal(err)
		}
		if in.SessionCookie != "abc123" {
			t.Errorf("session cookie = %q, want abc123", in.SessionCookie)
		}
		json.NewEncoder(w).Encode(exchangeResponse{Token: "tok-xyz"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	token, err := c.ExchangeSession(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if token != "tok-xyz" {
		t.Fatalf("token = %q, want tok-xyz", token)
	}
}

func TestExchangeSessionNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	if _, err := c.ExchangeSession(context.Background(), "abc123"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestExchangeSessionEmptyTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(exchangeResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	if _, err := c.ExchangeSession(context.Background(), "abc123"); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}
