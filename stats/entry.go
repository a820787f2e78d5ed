// Package stats is the statistics engine: per-endpoint counters and a
// rounded-latency histogram cheap enough to merge across a fleet of
// workers, plus the process-global registry spec.md §3 calls
// StatsRegistry. The histogram algorithm (rounding rule, per-second
// request map, weighted-median-by-walk, percentile-by-inflated-list)
// is ported from original_source/locust/stats.py; the struct shape and
// Merge/Transfer/Print/Log naming follows fortio's stats.Counter and
// stats.Histogram.
package stats // import "github.com/hatchrun/hatch/stats"

import (
	"math"
	"sync"
	"time"
)

// recentSamplesCap is the size of the bounded deque of most-recent raw
// latencies kept per entry (spec §3).
const recentSamplesCap = 1000

// StatsEntry is the rolling statistics bucket for one endpoint name
// (spec §3's StatsEntry). All mutating methods are safe for concurrent
// use: many simulated users log requests against the same entry at
// once.
type StatsEntry struct {
	mu sync.Mutex

	Name   string
	Method string // informational label, default "GET" (SPEC_FULL §5)

	NumReqs           int64
	NumFailures       int64
	TotalResponseTime float64 // sum of all response times in ms

	hasMin           bool
	MinResponseTime  float64
	MaxResponseTime  float64

	// ResponseTimes maps a rounded response time (ms) to how many
	// requests landed on it (spec §4.3 step 4).
	ResponseTimes map[int64]int64

	// NumReqsPerSec maps an epoch second to the request count logged
	// during that second (spec §4.3 step 3).
	NumReqsPerSec map[int64]int64

	LastRequestTimestamp int64
	StartTime            int64

	// recent is a bounded deque of the most recent raw samples, most
	// recent first, capped at recentSamplesCap (spec §3).
	recent []float64
}

// NewStatsEntry creates an entry for name/method. Entries are normally
// created lazily by Registry.Get, matching spec §3's "created lazily
// on first request to a name".
func NewStatsEntry(name, method string) *StatsEntry {
	if method == "" {
		method = "GET"
	}
	return &StatsEntry{
		Name:          name,
		Method:        method,
		ResponseTimes: make(map[int64]int64),
		NumReqsPerSec: make(map[int64]int64),
		StartTime:     time.Now().Unix(),
	}
}

// RoundResponseTime buckets a raw millisecond latency per spec §4.3
// step 4: under 100ms kept as-is (rounded to the nearest integer so it
// can key a map), under 1000ms rounded to the nearest 10, under
// 10000ms rounded to the nearest 100, otherwise rounded to the nearest
// 1000.
func RoundResponseTime(ms float64) int64 {
	switch {
	case ms < 100:
		return int64(math.Round(ms))
	case ms < 1000:
		return int64(math.Round(ms/10) * 10)
	case ms < 10000:
		return int64(math.Round(ms/100) * 100)
	default:
		return int64(math.Round(ms/1000) * 1000)
	}
}

// Log records one successful request's response time in milliseconds
// (spec §4.3's `log`).
func (e *StatsEntry) Log(responseTimeMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLocked(responseTimeMs)
}

func (e *StatsEntry) logLocked(responseTimeMs float64) {
	e.NumReqs++
	e.TotalResponseTime += responseTimeMs
	if !e.hasMin {
		e.hasMin = true
		e.MinResponseTime = responseTimeMs
		e.MaxResponseTime = responseTimeMs
	} else {
		if responseTimeMs < e.MinResponseTime {
			e.MinResponseTime = responseTimeMs
		}
		if responseTimeMs > e.MaxResponseTime {
			e.MaxResponseTime = responseTimeMs
		}
	}
	t := time.Now().Unix()
	e.NumReqsPerSec[t]++
	e.LastRequestTimestamp = t

	rounded := RoundResponseTime(responseTimeMs)
	e.ResponseTimes[rounded]++

	e.recent = append([]float64{responseTimeMs}, e.recent...)
	if len(e.recent) > recentSamplesCap {
		e.recent = e.recent[:recentSamplesCap]
	}
}

// LogError increments the per-entry failure counter (spec §4.3's
// `log_error`, minus the global error map which lives on the Registry).
func (e *StatsEntry) LogError() {
	e.mu.Lock()
	e.NumFailures++
	e.mu.Unlock()
}

// HasMin reports whether at least one successful request has been
// logged (MinResponseTime/MaxResponseTime are otherwise meaningless).
func (e *StatsEntry) HasMin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMin
}

// AvgResponseTime is total_response_time / num_reqs, or 0 with no
// requests (spec §4.3).
func (e *StatsEntry) AvgResponseTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NumReqs == 0 {
		return 0
	}
	return e.TotalResponseTime / float64(e.NumReqs)
}

// MedianResponseTime is the weighted median over the rounded-latency
// histogram (spec §4.3): with pos = (num_reqs-1)/2, walk the sorted
// keys subtracting counts until pos falls inside the current bucket.
func (e *StatsEntry) MedianResponseTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NumReqs == 0 {
		return 0
	}
	keys := sortedKeys(e.ResponseTimes)
	pos := (e.NumReqs - 1) / 2
	for _, k := range keys {
		count := e.ResponseTimes[k]
		if pos < count {
			return float64(k)
		}
		pos -= count
	}
	if len(keys) == 0 {
		return 0
	}
	return float64(keys[len(keys)-1])
}

// CurrentRps is the mean requests/sec over the trailing window
// [max(last-10, start_time), last), missing seconds counting as 0
// (spec §4.3).
func (e *StatsEntry) CurrentRps() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.LastRequestTimestamp == 0 {
		return 0
	}
	last := e.LastRequestTimestamp
	from := last - 10
	if e.StartTime > from {
		from = e.StartTime
	}
	span := last - from
	if span <= 0 {
		return 0
	}
	var sum int64
	for t := from; t < last; t++ {
		sum += e.NumReqsPerSec[t]
	}
	return float64(sum) / float64(span)
}

// Percentile estimates the value at percentile p (0..100) by building
// the inflated sorted sample list implied by the histogram and
// linearly interpolating between the two bracketing indices (spec
// §4.3's `percentile`).
func (e *StatsEntry) Percentile(p float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return percentileOfHistogram(e.ResponseTimes, e.NumReqs, p)
}

func percentileOfHistogram(histogram map[int64]int64, numReqs int64, p float64) float64 {
	if numReqs == 0 {
		return 0
	}
	keys := sortedKeys(histogram)
	if p <= 0 {
		return float64(keys[0])
	}
	if p >= 100 {
		return float64(keys[len(keys)-1])
	}
	idxF := (float64(numReqs) - 1) * (p / 100.0)
	lo := int64(math.Floor(idxF))
	frac := idxF - float64(lo)
	valAt := func(idx int64) float64 {
		var total int64
		for _, k := range keys {
			total += histogram[k]
			if idx < total {
				return float64(k)
			}
		}
		return float64(keys[len(keys)-1])
	}
	loVal := valAt(lo)
	if frac == 0 {
		return loVal
	}
	hiVal := valAt(lo + 1)
	return loVal + frac*(hiVal-loVal)
}

func sortedKeys(m map[int64]int64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort is fine: histograms have few distinct keys
	for i := 1; i < len(keys); i++ {
		v := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > v {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = v
	}
	return keys
}

// RecentSamples returns a copy of the bounded deque of recent raw
// samples, most recent first.
func (e *StatsEntry) RecentSamples() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.recent))
	copy(out, e.recent)
	return out
}
