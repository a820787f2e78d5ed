package stats

import "testing"

func TestLogBasicInvariants(t *testing.T) {
	e := NewStatsEntry("/ultra_fast", "GET")
	for i := 0; i < 10; i++ {
		e.Log(float64(i))
	}
	if e.NumReqs != 10 {
		t.Fatalf("NumReqs = %d, want 10", e.NumReqs)
	}
	var sum int64
	for _, c := range e.ResponseTimes {
		sum += c
	}
	if sum != e.NumReqs {
		t.Fatalf("histogram sum %d != num_reqs %d", sum, e.NumReqs)
	}
	avg := e.AvgResponseTime()
	if !(e.MinResponseTime <= avg && avg <= e.MaxResponseTime) {
		t.Fatalf("min/avg/max invariant broken: %v %v %v", e.MinResponseTime, avg, e.MaxResponseTime)
	}
}

func TestRoundResponseTime(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{5, 5},
		{99, 99},
		{104, 100},
		{149, 150},
		{1040, 1000},
		{1490, 1500},
		{12000, 12000},
		{12499, 12000},
		{12500, 13000},
	}
	for _, c := range cases {
		got := RoundResponseTime(c.in)
		if got != c.want {
			t.Errorf("RoundResponseTime(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNameOverride(t *testing.T) {
	reg := NewRegistry()
	reg.Log("alias", "GET", 12.0)
	if reg.Get("alias", "GET").NumReqs != 1 {
		t.Fatal("alias entry should have 1 request")
	}
	if _, ok := peek(reg, "/ultra_fast"); ok {
		t.Fatal("un-logged name should not exist")
	}
}

func peek(r *Registry, name string) (*StatsEntry, bool) {
	for _, e := range r.Entries() {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

func TestGlobalCeiling(t *testing.T) {
	reg := NewRegistry()
	reg.SetGlobalMaxRequests(3)
	logged := 0
	for i := 0; i < 5; i++ {
		if reg.ExceedsGlobalMaxRequests() {
			continue
		}
		reg.Log("/x", "GET", 1.0)
		logged++
	}
	if logged != 3 {
		t.Fatalf("logged = %d, want 3", logged)
	}
}

func TestMedianOfUniformSamples(t *testing.T) {
	e := NewStatsEntry("x", "GET")
	for i := 1; i <= 5; i++ {
		e.Log(float64(i * 10))
	}
	med := e.MedianResponseTime()
	if med != 30 {
		t.Fatalf("median = %v, want 30", med)
	}
}
