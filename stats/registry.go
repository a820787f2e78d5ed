package stats

import (
	"sync"
	"time"
)

// StatsError is one de-duplicated error bucket in the registry's
// global errors map, keyed by "<type>: <message>" when logged through
// LogError (spec §4.3's log_error / §3's `errors` field) and by
// "method:error" when merged in from another registry. Example carries one representative
// occurrence, mirroring original_source/locust/stats.py's StatsError
// which stores a single instance rather than every traceback.
type StatsError struct {
	Name    string
	Method  string
	Error   string
	Count   int64
	Example string
}

// Registry is the process-global (or, in Go, runner-scoped) mapping of
// endpoint name to StatsEntry plus the error map and fleet-wide
// counters (spec §3's StatsRegistry). Per spec §9's design note, this
// is encapsulated as a value with a lifetime tied to the owning
// runner (local, master or worker) and passed explicitly, instead of
// package-level globals.
type Registry struct {
	mu sync.RWMutex

	entries map[string]*StatsEntry
	errors  map[string]*StatsError

	totalNumRequests         int64
	globalMaxRequests        int64 // 0 means unlimited
	globalStartTime          time.Time
	globalLastRequestTimestamp int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:         make(map[string]*StatsEntry),
		errors:          make(map[string]*StatsError),
		globalStartTime: time.Now(),
	}
}

// Get returns the entry for name, creating it lazily on first access
// (spec §3). method defaults to "GET" only on creation; subsequent
// calls with a different method do not rename an existing entry.
func (r *Registry) Get(name, method string) *StatsEntry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[name]; ok {
		return e
	}
	e = NewStatsEntry(name, method)
	r.entries[name] = e
	return e
}

// Log records a successful request against name and bumps the global
// counters (spec §4.3 step 1: "Increment global and per-entry request
// counters").
func (r *Registry) Log(name, method string, responseTimeMs float64) {
	e := r.Get(name, method)
	e.Log(responseTimeMs)
	t := time.Now().Unix()
	r.mu.Lock()
	r.totalNumRequests++
	r.globalLastRequestTimestamp = t
	r.mu.Unlock()
}

// LogError records a failed request against name and bumps the
// de-duplicated global error map (spec §4.3's log_error).
func (r *Registry) LogError(name, method string, err error) {
	e := r.Get(name, method)
	e.LogError()
	key := "Error"
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		key = errTypeName(err) + ": " + msg
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	se, ok := r.errors[key]
	if !ok {
		se = &StatsError{Name: name, Method: method, Error: msg, Example: msg}
		r.errors[key] = se
	}
	se.Count++
}

// errTypeName gives a short, stable label for an error's dynamic type
// without needing reflect in callers; callers that want exact parity
// with a specific error taxonomy can wrap their errors accordingly.
func errTypeName(err error) string {
	type named interface{ Name() string }
	if n, ok := err.(named); ok {
		return n.Name()
	}
	return "Error"
}

// TotalNumRequests is the fleet-wide (for a single process: process)
// request counter used by the global ceiling check.
func (r *Registry) TotalNumRequests() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalNumRequests
}

// SetGlobalMaxRequests sets the soft ceiling checked by
// ExceedsGlobalMaxRequests (spec §4.3's global ceiling, §5's
// backpressure). 0 disables the ceiling.
func (r *Registry) SetGlobalMaxRequests(n int64) {
	r.mu.Lock()
	r.globalMaxRequests = n
	r.mu.Unlock()
}

// ExceedsGlobalMaxRequests reports whether the ceiling is set and has
// been reached; the instrumented HTTP client path uses this to decide
// whether to raise InterruptUser (spec §4.3, §5).
func (r *Registry) ExceedsGlobalMaxRequests() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globalMaxRequests > 0 && r.totalNumRequests >= r.globalMaxRequests
}

// GlobalStartTime/GlobalLastRequestTimestamp back TotalRps.
func (r *Registry) GlobalStartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globalStartTime
}

func (r *Registry) SetGlobalStartTime(t time.Time) {
	r.mu.Lock()
	r.globalStartTime = t
	r.mu.Unlock()
}

// TotalRps is num_reqs / max(global_last - global_start, 1) (spec
// §4.3).
func (r *Registry) TotalRps() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	elapsed := r.globalLastRequestTimestamp - r.globalStartTime.Unix()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(r.totalNumRequests) / float64(elapsed)
}

// ClearAll clears (not deallocates) all entries and error counts and
// resets the global counters, without discarding the registry itself
// (spec §3's lifecycle note: "cleared (not deallocated) on global
// reset events").
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*StatsEntry)
	r.errors = make(map[string]*StatsError)
	r.totalNumRequests = 0
	r.globalLastRequestTimestamp = 0
	r.globalStartTime = time.Now()
}

// Entries returns a snapshot slice of all known entries, sorted by
// name for stable reporting.
func (r *Registry) Entries() []*StatsEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StatsEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntriesByName(out)
	return out
}

// Errors returns a snapshot slice of all known error buckets.
func (r *Registry) Errors() []*StatsError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StatsError, 0, len(r.errors))
	for _, e := range r.errors {
		out = append(out, e)
	}
	return out
}

func sortEntriesByName(es []*StatsEntry) {
	for i := 1; i < len(es); i++ {
		v := es[i]
		j := i - 1
		for j >= 0 && es[j].Name > v.Name {
			es[j+1] = es[j]
			j--
		}
		es[j+1] = v
	}
}

// MergeFrom folds another registry's entries and errors into this one
// (used by the master to aggregate per-worker reports, spec §4.5's
// slave_report handling). It does not touch global counters — callers
// decide how to fold those (commonly: sum TotalNumRequests across
// workers, take the earliest StartTime).
func (r *Registry) MergeFrom(other *Registry) {
	for _, oe := range other.Entries() {
		r.mu.Lock()
		existing, ok := r.entries[oe.Name]
		r.mu.Unlock()
		var merged *StatsEntry
		if ok {
			merged = Merge(existing, oe)
		} else {
			merged = cloneEntry(oe)
		}
		r.mu.Lock()
		r.entries[oe.Name] = merged
		r.mu.Unlock()
	}
	for _, oerr := range other.Errors() {
		key := oerr.Method + ":" + oerr.Error
		r.mu.Lock()
		se, ok := r.errors[key]
		if !ok {
			se = &StatsError{Name: oerr.Name, Method: oerr.Method, Error: oerr.Error, Example: oerr.Example}
			r.errors[key] = se
		}
		se.Count += oerr.Count
		r.mu.Unlock()
	}
}
