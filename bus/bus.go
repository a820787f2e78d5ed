// Package bus is an in-process, multi-listener signal dispatcher.
//
// It is the event bus that connects the HTTP client adapter, the user
// runtime, the local runner and the master/worker runners without
// those packages importing each other directly: request_success,
// request_failure, hatch_complete, slave_report, report_to_master,
// quitting and locust_error all flow through here.
package bus // import "github.com/hatchrun/hatch/bus"

import (
	"sync"

	"fortio.org/log"
)

// Listener is invoked synchronously, in registration order, when its
// signal fires. Fire releases its locks before calling listeners, so a
// listener may itself fire signals without deadlocking.
type Listener func(args ...any)

// Signal is an ordered list of listeners sharing one name.
type Signal struct {
	mu        sync.Mutex
	name      string
	listeners []Listener
}

// Bus owns a set of named signals, each created on first use.
type Bus struct {
	mu      sync.RWMutex
	signals map[string]*Signal
}

// New creates an empty Bus. Signals are created lazily on first use so
// callers never need to pre-declare them, matching the dynamic nature
// of the original signal names (request_success, request_failure, ...).
func New() *Bus {
	return &Bus{signals: make(map[string]*Signal)}
}

func (b *Bus) signal(name string) *Signal {
	b.mu.RLock()
	s, ok := b.signals[name]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.signals[name]; ok {
		return s
	}
	s = &Signal{name: name}
	b.signals[name] = s
	return s
}

// On registers a listener on the named signal. Listeners fire in the
// order they were registered.
func (b *Bus) On(name string, l Listener) {
	s := b.signal(name)
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Fire invokes every listener of name synchronously, in registration
// order. A listener that panics is recovered and logged so that one
// bad listener can never poison the bus for the others (spec §4.1).
func (b *Bus) Fire(name string, args ...any) {
	s := b.signal(name)
	s.mu.Lock()
	// Copy under lock so a listener registering another listener for
	// the same signal mid-fire doesn't race the slice being iterated.
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		callListener(name, l, args)
	}
}

func callListener(name string, l Listener, args []any) {
	defer func() {
		if r := recover(); r != nil {
			log.Errf("bus: listener for %q panicked: %v", name, r)
		}
	}()
	l(args...)
}

// Well known signal names used by the core (spec §4.1). Components are
// free to fire/listen on other names too; this bus has no fixed schema.
const (
	RequestSuccess  = "request_success"  // (name string, responseTimeMs float64, length int)
	RequestFailure  = "request_failure"  // (name string, responseTimeMs float64, err error)
	HatchComplete   = "hatch_complete"   // (count int)
	SlaveReport     = "slave_report"     // (nodeID string, data map[string]any)
	ReportToMaster  = "report_to_master" // (nodeID string, data map[string]any)
	Quitting        = "quitting"         // ()
	LocustError     = "locust_error"     // (user any, err error)
)
