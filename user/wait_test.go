package user

import (
	"testing"
	"time"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/userclass"
)

func TestWaitUniformWithinBounds(t *testing.T) {
	c, err := userclass.New("T").Host("http://x").
		Wait(10*time.Millisecond, 50*time.Millisecond).Build()
	if err != nil {
		t.Fatal(err)
	}
	inst := NewInstance(c, stats.NewRegistry(), bus.New(), 42)
	for i := 0; i < 100; i++ {
		d := inst.wait()
		if d < 10*time.Millisecond || d > 50*time.Millisecond {
			t.Fatalf("wait() = %v, want within [10ms,50ms]", d)
		}
	}
}

func TestWaitAvgSeekingStaysWithinOuterBounds(t *testing.T) {
	c, err := userclass.New("T").Host("http://x").
		Wait(10*time.Millisecond, 100*time.Millisecond).
		AvgWait(40 * time.Millisecond).Build()
	if err != nil {
		t.Fatal(err)
	}
	inst := NewInstance(c, stats.NewRegistry(), bus.New(), 7)
	for i := 0; i < 200; i++ {
		d := inst.wait()
		if d < 10*time.Millisecond || d > 100*time.Millisecond {
			t.Fatalf("wait() = %v, want within [10ms,100ms]", d)
		}
	}
}

func TestWaitAvgSeekingConvergesTowardAvg(t *testing.T) {
	c, err := userclass.New("T").Host("http://x").
		Wait(0, 100*time.Millisecond).
		AvgWait(50 * time.Millisecond).Build()
	if err != nil {
		t.Fatal(err)
	}
	inst := NewInstance(c, stats.NewRegistry(), bus.New(), 99)
	var total time.Duration
	const n = 5000
	for i := 0; i < n; i++ {
		total += inst.wait()
	}
	mean := total / n
	// The running mean is steered back toward avg_wait every call, so
	// over many samples the overall mean should land close to it.
	low, high := 35*time.Millisecond, 65*time.Millisecond
	if mean < low || mean > high {
		t.Fatalf("mean wait = %v, want within [%v,%v]", mean, low, high)
	}
}
