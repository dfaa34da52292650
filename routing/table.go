// Package routing holds the route table, its declarative input types,
// and the compiler that turns one into the other.
package routing

import (
	"sync/atomic"

	"github.com/protojour/arx/pathtree"
	"github.com/protojour/arx/route"
)

// Table is an immutable path-pattern-to-route mapping. Build one with
// a Builder, then publish it to a Registry; a Table is never mutated
// after it is handed to a Registry.
type Table struct {
	tree *pathtree.Tree
}

// Builder accumulates route entries before producing an immutable
// Table. It is not safe for concurrent use; build on a single
// goroutine (the route compiler) and then discard it.
type Builder struct {
	tree *pathtree.Tree
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{tree: pathtree.New()}
}

// Insert adds pattern -> entry. It reports whether the entry was
// actually inserted; per the compiler's conflict policy (§4.5), a
// pattern already present keeps its first value and this returns
// false so the caller can log the drop.
func (b *Builder) Insert(pattern string, entry route.Entry) (bool, error) {
	return b.tree.Insert(pattern, entry)
}

// Build freezes the builder into an immutable Table. The builder must
// not be used afterward.
func (b *Builder) Build() *Table {
	return &Table{tree: b.tree}
}

// Match is the result of a successful Table lookup.
type Match struct {
	Entry        route.Entry
	CapturedPath string
	HasCapture   bool
}

// Lookup finds the route for path, implementing the exactness-beats-
// longest-prefix-catch-all rule of spec property 1.
func (t *Table) Lookup(path string) (Match, bool) {
	value, capture, hasCapture, ok := t.tree.Lookup(path)
	if !ok {
		return Match{}, false
	}
	entry, isEntry := value.(route.Entry)
	if !isEntry {
		return Match{}, false
	}
	return Match{Entry: entry, CapturedPath: capture, HasCapture: hasCapture}, true
}

// Registry holds the single current Table behind an atomic pointer:
// single-writer (the compiler), many-reader (dispatcher goroutines).
// A reader that calls Current never blocks and never observes a
// partially published table.
type Registry struct {
	current atomic.Pointer[Table]
}

// NewRegistry returns a Registry with no table published yet; Current
// returns (nil, false) until the first Publish.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish atomically replaces the current table. Requests already
// holding a snapshot from Current keep using it; Publish does not
// affect them.
func (reg *Registry) Publish(t *Table) {
	reg.current.Store(t)
}

// Current returns the table snapshot in effect at the moment of the
// call. Callers must not hold the returned value across a suspension
// point per spec §4.6 / §5 — take it, match, and let it go.
func (reg *Registry) Current() (*Table, bool) {
	t := reg.current.Load()
	if t == nil {
		return nil, false
	}
	return t, true
}
