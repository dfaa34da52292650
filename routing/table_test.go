package routing

import (
	"sync"
	"testing"

	"github.com/protojour/arx/route"
)

func TestBuilderInsertAndLookup(t *testing.T) {
	b := NewBuilder()
	e := route.NewProxy("http", "svc:80", route.Plain, nil)
	inserted, err := b.Insert("/svc/{*path}", e)
	if err != nil || !inserted {
		t.Fatalf("Insert: inserted=%v err=%v", inserted, err)
	}

	table := b.Build()
	m, ok := table.Lookup("/svc/a/b")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Entry.Kind != route.KindProxy {
		t.Fatalf("Kind = %v, want KindProxy", m.Entry.Kind)
	}
	if !m.HasCapture || m.CapturedPath != "/a/b" {
		t.Fatalf("capture = %q (hasCapture=%v)", m.CapturedPath, m.HasCapture)
	}
}

func TestRegistryPublishAndCurrent(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Current(); ok {
		t.Fatal("a fresh registry should report no current table")
	}

	b := NewBuilder()
	b.Insert("/x", route.NewTemporaryRedirect("/y"))
	t1 := b.Build()
	reg.Publish(t1)

	got, ok := reg.Current()
	if !ok || got != t1 {
		t.Fatalf("Current() = %v, ok=%v, want the published table", got, ok)
	}
}

// TestHotSwapLeavesInFlightSnapshotIntact exercises spec property 5:
// a reader that already holds a snapshot never sees the effects of a
// later Publish.
func TestHotSwapLeavesInFlightSnapshotIntact(t *testing.T) {
	reg := NewRegistry()

	b1 := NewBuilder()
	b1.Insert("/a", route.NewTemporaryRedirect("/a/"))
	reg.Publish(b1.Build())

	snapshot, ok := reg.Current()
	if !ok {
		t.Fatal("expected a table")
	}

	b2 := NewBuilder()
	reg.Publish(b2.Build())

	if _, ok := snapshot.Lookup("/a"); !ok {
		t.Fatal("a held snapshot must still see the route present at the time it was taken")
	}

	current, _ := reg.Current()
	if _, ok := current.Lookup("/a"); ok {
		t.Fatal("a fresh Current() after publish must not see the superseded route")
	}
}

func TestRegistryConcurrentPublishAndRead(t *testing.T) {
	reg := NewRegistry()
	b := NewBuilder()
	b.Insert("/x", route.NewTemporaryRedirect("/y"))
	reg.Publish(b.Build())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			nb := NewBuilder()
			nb.Insert("/x", route.NewTemporaryRedirect("/y"))
			reg.Publish(nb.Build())
		}()
		go func() {
			defer wg.Done()
			if tbl, ok := reg.Current(); ok {
				tbl.Lookup("/x")
			}
		}()
	}
	wg.Wait()
}
