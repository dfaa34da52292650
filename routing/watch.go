package routing

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind discriminates a Watch Event.
type EventKind int

const (
	EventAdd EventKind = iota
	EventUpdate
	EventDelete
)

// Event is one add/update/delete notification from the declarative
// route source. Its transport is an external collaborator (spec §1,
// non-goal a) — Watcher only needs something that can deliver these.
type Event struct {
	Kind  EventKind
	Name  string
	Route HTTPRoute // zero value for EventDelete
}

// Watcher maintains the declarative route map and republishes a
// recompiled Table to a Registry on every event. The map itself is
// guarded by a mutex held only while ingesting one event and while
// copying the map for a rebuild; compiling and publishing the table
// run outside it, and it is never held across a suspension point.
type Watcher struct {
	compiler *Compiler
	registry *Registry
	log      logrus.FieldLogger

	mu     sync.Mutex
	routes map[string]HTTPRoute
}

// NewWatcher returns a Watcher that compiles into registry using
// compiler. Call Run with the event channel once constructed.
func NewWatcher(compiler *Compiler, registry *Registry, log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		compiler: compiler,
		registry: registry,
		log:      log,
		routes:   make(map[string]HTTPRoute),
	}
}

// Run consumes events until the channel closes or ctx is canceled,
// recompiling and republishing the table after every event. It
// publishes an initial table (the static routes alone) before
// consuming any events, so Registry.Current never reports "no table"
// once Run has started.
func (w *Watcher) Run(ctx context.Context, events <-chan Event) {
	w.publish()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.apply(ev)
			w.publish()
		}
	}
}

func (w *Watcher) apply(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch ev.Kind {
	case EventAdd, EventUpdate:
		w.routes[ev.Name] = ev.Route
	case EventDelete:
		delete(w.routes, ev.Name)
	default:
		w.log.WithField("kind", ev.Kind).Warn("routing: unrecognized event kind, ignoring")
	}
}

func (w *Watcher) publish() {
	w.mu.Lock()
	snapshot := make(map[string]HTTPRoute, len(w.routes))
	for k, v := range w.routes {
		snapshot[k] = v
	}
	w.mu.Unlock()

	w.registry.Publish(w.compiler.Compile(snapshot))
}
