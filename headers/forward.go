// Package headers implements the forward-header setter (spec.md §4.2)
// and the cookie-jar parser (§4.3).
package headers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	xForwardedProto  = "X-Forwarded-Proto"
	xForwardedHost   = "X-Forwarded-Host"
	xForwardedPort   = "X-Forwarded-Port"
	xForwardedPrefix = "X-Forwarded-Prefix"
)

// SetForwarded populates the x-forwarded-* headers on req (whose URL
// has already been rewritten) based on the pre-rewrite original URI,
// per spec §4.2. It removes the inbound Host header.
//
// An error is returned when a computed header value is not a valid
// HTTP header field value (non-ASCII or control bytes); the dispatcher
// translates that into a 400 Bad Request.
func SetForwarded(req *http.Request, original *url.URL) error {
	strippedPrefix, hasStrippedPrefix := stripSuffix(original.Path, req.URL.Path)

	if req.Header.Get(xForwardedProto) == "" {
		scheme := original.Scheme
		if scheme == "" {
			scheme = "http"
		}
		if err := setValid(req.Header, xForwardedProto, scheme); err != nil {
			return err
		}
	}

	host := req.Header.Get("Host")
	if host == "" {
		host = req.Host
	}
	hostPart, portPart := splitHostPort(host)

	if req.Header.Get(xForwardedHost) == "" && hostPart != "" {
		if err := setValid(req.Header, xForwardedHost, hostPart); err != nil {
			return err
		}
	}
	if req.Header.Get(xForwardedPort) == "" && portPart != "" {
		if err := setValid(req.Header, xForwardedPort, portPart); err != nil {
			return err
		}
	}

	req.Header.Del("Host")
	req.Host = ""

	if hasStrippedPrefix && strippedPrefix != "" {
		prefix := strippedPrefix
		if existing := req.Header.Get(xForwardedPrefix); existing != "" {
			prefix = existing + strippedPrefix
		}
		if err := setValid(req.Header, xForwardedPrefix, prefix); err != nil {
			return err
		}
	}

	return nil
}

// stripSuffix reports the prefix of original that precedes rewritten
// when rewritten is a suffix of original, e.g.
// stripSuffix("/svc/xyz", "/xyz") == ("/svc", true).
func stripSuffix(original, rewritten string) (string, bool) {
	if rewritten == "" {
		return original, original != ""
	}
	if !strings.HasSuffix(original, rewritten) {
		return "", false
	}
	prefix := strings.TrimSuffix(original, rewritten)
	return prefix, prefix != ""
}

func splitHostPort(hostport string) (host, port string) {
	if hostport == "" {
		return "", ""
	}
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 && !strings.Contains(hostport[i+1:], "]") {
		return hostport[:i], hostport[i+1:]
	}
	return hostport, ""
}

func setValid(h http.Header, key, value string) error {
	if !isValidHeaderValue(value) {
		return fmt.Errorf("headers: invalid value for %s: %q", key, value)
	}
	h.Set(key, value)
	return nil
}

func isValidHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 && c != '\t' {
			return false
		}
		if c == 0x7f {
			return false
		}
		if c >= 0x80 {
			return false
		}
	}
	return true
}
