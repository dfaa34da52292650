// Package pathtree implements the path-pattern trie used by the route
// table: a segment tree supporting exact-path entries and a single
// trailing catch-all segment per branch, of the form "prefix/{*path}".
//
// This is a narrower cousin of skipper's pathmux tree: pathmux also
// matches interior ":name" segments, which nothing in this gateway's
// route language produces (see routing.Compiler), so only the static
// and trailing-catch-all cases are implemented here.
package pathtree

import (
	"fmt"
	"strings"
)

// node is one path segment in the trie.
type node struct {
	segment  string
	children map[string]*node

	hasExact   bool
	exactValue any

	hasCatchAll   bool
	catchAllValue any
}

func newNode(segment string) *node {
	return &node{segment: segment, children: make(map[string]*node)}
}

// Tree is a path-pattern trie. The zero value is ready to use. A Tree
// is built up with Insert calls and, once published by routing.Table,
// is never mutated again — concurrent Lookups are always safe.
type Tree struct {
	root *node
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{root: newNode("")}
}

// splitPath trims only the leading slash every pattern and lookup path
// carries, never the trailing one: a trailing slash is a meaningful,
// distinct final segment ("" ), so that an unterminated prefix like
// "/authly" and its terminated form "/authly/" land on different trie
// nodes instead of colliding.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Insert adds pattern -> value. Pattern is either a plain path such as
// "/health" or "/authly/api" (an exact match), or a path ending in
// "/{*path}" such as "/static/{*path}" (matches the prefix and
// captures everything after it, including nested slashes).
//
// Insert returns false without modifying the tree if pattern already
// has an entry; the caller decides whether that is an error.
func (t *Tree) Insert(pattern string, value any) (bool, error) {
	if t.root == nil {
		t.root = newNode("")
	}

	catchAll := false
	p := pattern
	if strings.HasSuffix(p, "/{*path}") {
		catchAll = true
		p = strings.TrimSuffix(p, "/{*path}")
	} else if p == "{*path}" {
		catchAll = true
		p = ""
	} else if strings.Contains(p, "{*path}") {
		return false, fmt.Errorf("pathtree: %q is not a valid pattern: {*path} must be the final segment", pattern)
	}

	segments := splitPath(p)
	n := t.root
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			child = newNode(seg)
			n.children[seg] = child
		}
		n = child
	}

	if catchAll {
		if n.hasCatchAll {
			return false, nil
		}
		n.hasCatchAll = true
		n.catchAllValue = value
		return true, nil
	}

	if n.hasExact {
		return false, nil
	}
	n.hasExact = true
	n.exactValue = value
	return true, nil
}

// Lookup finds the entry for path. It returns the matched value, the
// captured "path" parameter when the match came from a catch-all
// pattern (capture is non-empty and begins with "/"), and whether any
// match was found at all.
//
// Exactness beats any catch-all, and among catch-alls the longest
// matched prefix wins, satisfying property 1 in spec.md §8.
func (t *Tree) Lookup(path string) (value any, capture string, hasCapture bool, ok bool) {
	if t.root == nil {
		return nil, "", false, false
	}

	segments := splitPath(path)

	n := t.root
	var (
		fallbackValue    any
		fallbackSegments int
		haveFallback     bool
	)

	if n.hasCatchAll {
		fallbackValue = n.catchAllValue
		fallbackSegments = 0
		haveFallback = true
	}

	matchedAll := true
	for i, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			matchedAll = false
			break
		}
		n = child
		if n.hasCatchAll {
			fallbackValue = n.catchAllValue
			fallbackSegments = i + 1
			haveFallback = true
		}
	}

	if matchedAll && n.hasExact {
		return n.exactValue, "", false, true
	}

	if haveFallback {
		captured := "/" + strings.Join(segments[fallbackSegments:], "/")
		return fallbackValue, captured, true, true
	}

	return nil, "", false, false
}
