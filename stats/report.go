package stats

import (
	"fmt"
	"io"
)

// EntrySnapshot is the per-endpoint JSON shape spec §6 names for
// GET /stats/requests: {name, num_reqs, num_failures, avg, min, max,
// current_req_per_sec}.
type EntrySnapshot struct {
	Name             string  `json:"name"`
	Method           string  `json:"method"`
	NumRequests      int64   `json:"num_reqs"`
	NumFailures      int64   `json:"num_failures"`
	Avg              float64 `json:"avg"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	CurrentReqPerSec float64 `json:"current_req_per_sec"`
}

// Snapshot builds the JSON-ready view of one entry.
func (e *StatsEntry) Snapshot() EntrySnapshot {
	e.mu.Lock()
	min := 0.0
	if e.hasMin {
		min = e.MinResponseTime
	}
	max := e.MaxResponseTime
	numReqs := e.NumReqs
	numFailures := e.NumFailures
	name := e.Name
	method := e.Method
	e.mu.Unlock()
	return EntrySnapshot{
		Name:             name,
		Method:           method,
		NumRequests:      numReqs,
		NumFailures:      numFailures,
		Avg:              e.AvgResponseTime(),
		Min:              min,
		Max:              max,
		CurrentReqPerSec: e.CurrentRps(),
	}
}

// Snapshot returns the JSON-ready view of every known entry, used by
// the control surface's GET /stats/requests (spec §6).
func (r *Registry) Snapshot() []EntrySnapshot {
	entries := r.Entries()
	out := make([]EntrySnapshot, len(entries))
	for i, e := range entries {
		out[i] = e.Snapshot()
	}
	return out
}

// PrintReport writes the plain-text table of every entry, in the
// spirit of original_source/locust/stats.py's print_stats and
// fortio's stats.Histogram.Print table formatting: one row per
// endpoint plus a fleet-wide total row.
func (r *Registry) PrintReport(out io.Writer) {
	fmt.Fprintf(out, "%-7s %-32s %8s %10s %8s %8s %8s %8s\n",
		"Method", "Name", "# reqs", "# fails", "Avg", "Min", "Max", "Cur RPS")
	var totalReqs, totalFails int64
	for _, e := range r.Entries() {
		s := e.Snapshot()
		totalReqs += s.NumRequests
		totalFails += s.NumFailures
		fmt.Fprintf(out, "%-7s %-32s %8d %10d %8.1f %8.1f %8.1f %8.2f\n",
			s.Method, s.Name, s.NumRequests, s.NumFailures, s.Avg, s.Min, s.Max, s.CurrentReqPerSec)
	}
	fmt.Fprintf(out, "%-7s %-32s %8d %10d %8s %8s %8s %8.2f\n",
		"", "Total", totalReqs, totalFails, "", "", "", r.TotalRps())
}

// PrintPercentiles writes one line per endpoint for each requested
// percentile, mirroring print_percentile_stats.
func (r *Registry) PrintPercentiles(out io.Writer, percentiles []float64) {
	fmt.Fprintf(out, "%-7s %-32s", "Method", "Name")
	for _, p := range percentiles {
		fmt.Fprintf(out, " %7s", fmt.Sprintf("%g%%", p))
	}
	fmt.Fprintln(out)
	for _, e := range r.Entries() {
		fmt.Fprintf(out, "%-7s %-32s", e.Method, e.Name)
		for _, p := range percentiles {
			fmt.Fprintf(out, " %7.1f", e.Percentile(p))
		}
		fmt.Fprintln(out)
	}
}
