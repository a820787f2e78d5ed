package stats

// Merge combines two entries component-wise per spec §4.3 ("Merge
// (a + b)"): counts/sums add, max takes the max, min takes the min
// (treating "no samples yet" as "no contribution"), last_request
// takes the max, start_time takes the min, and the two per-second /
// histogram maps add key-wise. Merge is associative and has a nil
// entry as its identity (Merge(nil, x) is a copy of x; spec §8
// invariant 4), and never mutates its receivers.
func Merge(a, b *StatsEntry) *StatsEntry {
	if a == nil {
		return cloneEntry(b)
	}
	if b == nil {
		return cloneEntry(a)
	}
	a.mu.Lock()
	b.mu.Lock()
	defer a.mu.Unlock()
	defer b.mu.Unlock()

	out := &StatsEntry{
		Name:              a.Name,
		Method:            a.Method,
		NumReqs:           a.NumReqs + b.NumReqs,
		NumFailures:       a.NumFailures + b.NumFailures,
		TotalResponseTime: a.TotalResponseTime + b.TotalResponseTime,
		ResponseTimes:     mergeInt64Map(a.ResponseTimes, b.ResponseTimes),
		NumReqsPerSec:     mergeInt64Map(a.NumReqsPerSec, b.NumReqsPerSec),
	}

	switch {
	case a.hasMin && b.hasMin:
		out.hasMin = true
		out.MinResponseTime = minF(a.MinResponseTime, b.MinResponseTime)
		out.MaxResponseTime = maxF(a.MaxResponseTime, b.MaxResponseTime)
	case a.hasMin:
		out.hasMin = true
		out.MinResponseTime = a.MinResponseTime
		out.MaxResponseTime = a.MaxResponseTime
	case b.hasMin:
		out.hasMin = true
		out.MinResponseTime = b.MinResponseTime
		out.MaxResponseTime = b.MaxResponseTime
	}

	out.LastRequestTimestamp = maxI(a.LastRequestTimestamp, b.LastRequestTimestamp)
	out.StartTime = minNonZero(a.StartTime, b.StartTime)

	out.recent = append(append([]float64{}, a.recent...), b.recent...)
	if len(out.recent) > recentSamplesCap {
		out.recent = out.recent[:recentSamplesCap]
	}
	return out
}

// cloneEntry returns a deep-enough copy so Merge(nil, x) == x without
// aliasing the maps.
func cloneEntry(e *StatsEntry) *StatsEntry {
	if e == nil {
		return NewStatsEntry("", "")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := &StatsEntry{
		Name:                 e.Name,
		Method:               e.Method,
		NumReqs:              e.NumReqs,
		NumFailures:          e.NumFailures,
		TotalResponseTime:    e.TotalResponseTime,
		hasMin:               e.hasMin,
		MinResponseTime:      e.MinResponseTime,
		MaxResponseTime:      e.MaxResponseTime,
		ResponseTimes:        mergeInt64Map(e.ResponseTimes, nil),
		NumReqsPerSec:        mergeInt64Map(e.NumReqsPerSec, nil),
		LastRequestTimestamp: e.LastRequestTimestamp,
		StartTime:            e.StartTime,
		recent:               append([]float64{}, e.recent...),
	}
	return out
}

func mergeInt64Map(a, b map[int64]int64) map[int64]int64 {
	out := make(map[int64]int64, len(a)+len(b))
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxI(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// minNonZero picks the smaller of two epoch timestamps, ignoring a
// zero value (meaning "never set") unless both are zero.
func minNonZero(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
