package stats

// WireEntry is the JSON-serializable form of a StatsEntry, carried in
// the worker -> master `stats` RPC message's `data.stats[name]` field
// (spec §6). It exposes every field Merge needs so the master can fold
// a worker's report into its own registry without losing precision,
// rather than round-tripping through the lossier EntrySnapshot used
// for the HTTP reporting surface.
type WireEntry struct {
	Name                 string           `json:"name"`
	Method               string           `json:"method"`
	NumReqs              int64            `json:"num_reqs"`
	NumFailures          int64            `json:"num_failures"`
	TotalResponseTime    float64          `json:"total_response_time"`
	HasMin               bool             `json:"has_min"`
	MinResponseTime      float64          `json:"min_response_time"`
	MaxResponseTime      float64          `json:"max_response_time"`
	ResponseTimes        map[int64]int64  `json:"response_times"`
	NumReqsPerSec        map[int64]int64  `json:"num_reqs_per_sec"`
	LastRequestTimestamp int64            `json:"last_request_timestamp"`
	StartTime            int64            `json:"start_time"`
}

// WireError is the JSON-serializable form of a StatsError, carried in
// the `stats` message's `data.errors` field.
type WireError struct {
	Name    string `json:"name"`
	Method  string `json:"method"`
	Error   string `json:"error"`
	Count   int64  `json:"count"`
	Example string `json:"example"`
}

// ToWire exports one entry, copying its maps so the caller can't
// mutate live state through the returned value.
func (e *StatsEntry) ToWire() WireEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WireEntry{
		Name:                 e.Name,
		Method:               e.Method,
		NumReqs:              e.NumReqs,
		NumFailures:          e.NumFailures,
		TotalResponseTime:    e.TotalResponseTime,
		HasMin:               e.hasMin,
		MinResponseTime:      e.MinResponseTime,
		MaxResponseTime:      e.MaxResponseTime,
		ResponseTimes:        mergeInt64Map(e.ResponseTimes, nil),
		NumReqsPerSec:        mergeInt64Map(e.NumReqsPerSec, nil),
		LastRequestTimestamp: e.LastRequestTimestamp,
		StartTime:            e.StartTime,
	}
}

// entryFromWire reconstructs a StatsEntry from its wire form.
func entryFromWire(w WireEntry) *StatsEntry {
	return &StatsEntry{
		Name:                 w.Name,
		Method:               w.Method,
		NumReqs:              w.NumReqs,
		NumFailures:          w.NumFailures,
		TotalResponseTime:    w.TotalResponseTime,
		hasMin:               w.HasMin,
		MinResponseTime:      w.MinResponseTime,
		MaxResponseTime:      w.MaxResponseTime,
		ResponseTimes:        mergeInt64Map(w.ResponseTimes, nil),
		NumReqsPerSec:        mergeInt64Map(w.NumReqsPerSec, nil),
		LastRequestTimestamp: w.LastRequestTimestamp,
		StartTime:            w.StartTime,
	}
}

// ExportWire returns every entry in wire form, for a worker's
// stats_reporter to attach to its periodic `stats` message.
func (r *Registry) ExportWire() []WireEntry {
	entries := r.Entries()
	out := make([]WireEntry, len(entries))
	for i, e := range entries {
		out[i] = e.ToWire()
	}
	return out
}

// ExportWireErrors returns every error bucket in wire form.
func (r *Registry) ExportWireErrors() []WireError {
	errs := r.Errors()
	out := make([]WireError, len(errs))
	for i, e := range errs {
		out[i] = WireError{Name: e.Name, Method: e.Method, Error: e.Error, Count: e.Count, Example: e.Example}
	}
	return out
}

// MergeWire folds a worker's reported entries into this registry
// (the master's half of spec §4.5's `stats(node_id, data)` handling).
func (r *Registry) MergeWire(entries []WireEntry) {
	for _, w := range entries {
		incoming := entryFromWire(w)
		r.mu.Lock()
		existing, ok := r.entries[w.Name]
		r.mu.Unlock()
		var merged *StatsEntry
		if ok {
			merged = Merge(existing, incoming)
		} else {
			merged = incoming
		}
		r.mu.Lock()
		r.entries[w.Name] = merged
		r.mu.Unlock()
	}
}

// MergeWireErrors folds a worker's reported error buckets into this
// registry, de-duplicating by the same "method:error" key MergeFrom
// uses. LogError keys locally logged errors by "<type>: <message>"
// instead, so a merged bucket never combines with a locally logged one.
func (r *Registry) MergeWireErrors(errs []WireError) {
	for _, w := range errs {
		key := w.Method + ":" + w.Error
		r.mu.Lock()
		se, ok := r.errors[key]
		if !ok {
			se = &StatsError{Name: w.Name, Method: w.Method, Error: w.Error, Example: w.Example}
			r.errors[key] = se
		}
		se.Count += w.Count
		r.mu.Unlock()
	}
}
