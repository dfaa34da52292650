// Package rewrite implements the pure URI-rewriting rule the
// dispatcher applies to every matched request, per spec.md §4.1.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
)

// Backend names the scheme and authority to swap onto a rewritten
// URI; the zero value means "no backend", i.e. keep the original
// scheme and authority (used for LocalHandler matches).
type Backend struct {
	Scheme    string
	Authority string
}

// HasBackend reports whether b carries a non-empty backend.
func (b Backend) HasBackend() bool { return b.Authority != "" }

// URI rewrites original according to the rules in spec §4.1:
//  1. if backend is given, its scheme/authority replace the original's;
//  2. if no replacePrefix is given, the path is left untouched;
//  3. if replacePrefix is given, the outbound path is
//     replacePrefix + capturedPath (capturedPath may be empty), joined
//     with a single "/" where the prefix ends and the capture begins
//     with one, and the original query string is forwarded verbatim.
//
// A parse failure of the assembled path+query is reported as an
// error; the caller (the dispatcher) surfaces that as a 500.
func URI(original *url.URL, backend Backend, hasReplacePrefix bool, replacePrefix, capturedPath string) (*url.URL, error) {
	out := *original

	if backend.HasBackend() {
		out.Scheme = backend.Scheme
		out.Host = backend.Authority
	}

	if !hasReplacePrefix {
		return &out, nil
	}

	rawPath := replacePrefix + capturedPath
	if strings.HasSuffix(replacePrefix, "/") && strings.HasPrefix(capturedPath, "/") {
		rawPath = replacePrefix + capturedPath[1:]
	}
	query := out.RawQuery

	ref := rawPath
	if query != "" {
		ref = rawPath + "?" + query
	}

	rewritten, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("rewrite: invalid rewritten path %q: %w", ref, err)
	}

	out.Path = rewritten.Path
	out.RawPath = rewritten.RawPath
	out.RawQuery = query

	return &out, nil
}
