package pathtree

import "testing"

func TestExactBeatsCatchAll(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "/docs/{*path}", "catchall")
	mustInsert(t, tr, "/docs/special", "exact")

	value, capture, hasCapture, ok := tr.Lookup("/docs/special")
	if !ok {
		t.Fatal("expected match")
	}
	if hasCapture {
		t.Fatal("exact match should not report a capture")
	}
	if value != "exact" {
		t.Fatalf("value = %v, want %q", value, "exact")
	}
	_ = capture
}

func TestCatchAllCapturesRemainder(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "/static/{*path}", "static")

	value, capture, hasCapture, ok := tr.Lookup("/static/js/app.js")
	if !ok || value != "static" {
		t.Fatalf("Lookup = (%v, ok=%v), want static match", value, ok)
	}
	if !hasCapture || capture != "/js/app.js" {
		t.Fatalf("capture = %q (hasCapture=%v), want %q", capture, hasCapture, "/js/app.js")
	}
}

func TestLongestPrefixWins(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "/{*path}", "root")
	mustInsert(t, tr, "/onto/{*path}", "onto")

	value, capture, _, ok := tr.Lookup("/onto/guide/intro")
	if !ok || value != "onto" {
		t.Fatalf("Lookup = (%v, ok=%v), want onto match", value, ok)
	}
	if capture != "/guide/intro" {
		t.Fatalf("capture = %q, want %q", capture, "/guide/intro")
	}

	value, _, _, ok = tr.Lookup("/favicon.ico")
	if !ok || value != "root" {
		t.Fatalf("Lookup(/favicon.ico) = (%v, ok=%v), want root match", value, ok)
	}
}

func TestNoMatch(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "/health", "health")

	_, _, _, ok := tr.Lookup("/nope")
	if ok {
		t.Fatal("expected no match")
	}
}

func TestInsertConflictReportsFalse(t *testing.T) {
	tr := New()
	inserted, err := tr.Insert("/health", "first")
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = tr.Insert("/health", "second")
	if err != nil {
		t.Fatalf("second insert returned error: %v", err)
	}
	if inserted {
		t.Fatal("second insert of the same pattern should report false")
	}

	value, _, _, ok := tr.Lookup("/health")
	if !ok || value != "first" {
		t.Fatalf("Lookup after conflicting insert = (%v, ok=%v), want the first value preserved", value, ok)
	}
}

func TestInteriorCatchAllIsRejected(t *testing.T) {
	tr := New()
	if _, err := tr.Insert("/a/{*path}/b", "bad"); err == nil {
		t.Fatal("expected an error for a catch-all that isn't the final segment")
	}
}

func TestRootOnlyCatchAll(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "{*path}", "root")

	value, capture, hasCapture, ok := tr.Lookup("/anything/at/all")
	if !ok || value != "root" {
		t.Fatalf("Lookup = (%v, ok=%v), want root match", value, ok)
	}
	if !hasCapture || capture != "/anything/at/all" {
		t.Fatalf("capture = %q (hasCapture=%v)", capture, hasCapture)
	}
}

func TestTerminatedAndUnterminatedPrefixAreDistinctKeys(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "/authly", "unterminated")
	mustInsert(t, tr, "/authly/", "terminated")

	value, _, hasCapture, ok := tr.Lookup("/authly")
	if !ok || hasCapture || value != "unterminated" {
		t.Fatalf("Lookup(/authly) = (%v, hasCapture=%v, ok=%v), want unterminated match", value, hasCapture, ok)
	}

	value, _, hasCapture, ok = tr.Lookup("/authly/")
	if !ok || hasCapture || value != "terminated" {
		t.Fatalf("Lookup(/authly/) = (%v, hasCapture=%v, ok=%v), want terminated match", value, hasCapture, ok)
	}
}

func mustInsert(t *testing.T, tr *Tree, pattern string, value any) {
	t.Helper()
	inserted, err := tr.Insert(pattern, value)
	if err != nil {
		t.Fatalf("Insert(%q): %v", pattern, err)
	}
	if !inserted {
		t.Fatalf("Insert(%q): not inserted", pattern)
	}
}
