package user

import (
	"math/rand"
	"time"
)

// wait implements spec §4.2's think-time policy. Durations stand in for
// the spec's millisecond samples throughout.
func (u *Instance) wait() time.Duration {
	minWait, maxWait, avgWait := u.Class.MinWait, u.Class.MaxWait, u.Class.AvgWait

	if avgWait == 0 {
		return uniformDuration(u.rng, minWait, maxWait)
	}

	if u.waitN == 0 {
		r := minDuration(avgWait-minWait, maxWait-avgWait)
		millis := uniformDuration(u.rng, avgWait-r, avgWait+r)
		u.waitMean = float64(millis)
		u.waitN = 1
		return millis
	}

	var millis time.Duration
	if u.waitMean >= float64(avgWait) {
		millis = uniformDuration(u.rng, minWait, avgWait)
	} else {
		millis = uniformDuration(u.rng, avgWait, maxWait)
	}
	u.waitMean = (u.waitMean*float64(u.waitN) + float64(millis)) / float64(u.waitN+1)
	u.waitN++
	return millis
}

// uniformDuration samples uniformly from [lo, hi], tolerating hi < lo
// (returns lo) and hi == lo (returns lo).
func uniformDuration(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	return lo + time.Duration(rng.Int63n(span+1))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
