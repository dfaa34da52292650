// Package identity implements the concrete HTTP-backed auth.Client this
// gateway runs with, grounded on original_source/authentication.rs's
// authly_client.get_access_token(session_cookie) call: the exchange
// protocol itself is an external collaborator (spec.md §1 non-goal b),
// so this client only needs to know the one request/response shape the
// identity service exposes at -authly-url, not reimplement the service.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Client exchanges a session cookie for a bearer access token against
// an Authly-compatible identity service, implementing auth.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client targeting baseURL (e.g. "https://authly.internal").
// A nil httpClient falls back to http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

type exchangeRequest struct {
	SessionCookie string `json:"session_cookie"`
}

type exchangeResponse struct {
	Token string `json:"token"`
}

// ExchangeSession implements auth.Client.
func (c *Client) ExchangeSession(ctx context.Context, sessionCookie string) (string, error) {
	body, err := json.Marshal(exchangeRequest{SessionCookie: sessionCookie})
	if err != nil {
		return "", fmt.Errorf("identity: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/access-token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("identity: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: access token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: access token request returned status %d", resp.StatusCode)
	}

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("identity: decoding response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("identity: empty access token in response")
	}
	return out.Token, nil
}
