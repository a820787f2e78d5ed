// Package localrunner is the Local Runner (spec §4.4): the
// single-process fleet controller that hatches, rebalances and kills
// simulated users against one or more UserClasses on a schedule
// governed by hatch_rate.
//
// original_source/locust/runners.py's LocustRunner/LocalLocustRunner
// supplies the weight_locusts/spawn_locusts/kill_locusts/start_hatching
// algorithm and the init/hatching/running/stopped state machine; the
// concurrent spawn loop itself (one goroutine per user, a WaitGroup to
// join them, a shared stop channel) follows periodic.go's per-thread
// goroutine-spawn idiom instead of gevent greenlets.
package localrunner // import "github.com/hatchrun/hatch/localrunner"

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"fortio.org/log"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/httpclient"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/user"
	"github.com/hatchrun/hatch/userclass"
)

// State is the runner's lifecycle stage (spec §4.4/§6).
type State string

const (
	StateInit     State = "ready"
	StateHatching State = "hatching"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// runningUser pairs a live Instance with the cancel func that stops it
// and the class it was hatched from, so kill_locusts can pick targets
// by class the way weight_locusts picks counts by class.
type runningUser struct {
	class    *userclass.UserClass
	instance *user.Instance
	cancel   context.CancelFunc
}

// Runner is the Local Runner (spec §4.4's LocustRunner/LocalLocustRunner).
type Runner struct {
	Classes    []*userclass.UserClass
	HatchRate  float64 // users/sec
	NumClients int
	Host       string // overrides every class's Host when non-empty

	Stats *stats.Registry
	Bus   *bus.Bus

	mu      sync.Mutex
	state   State
	users   []*runningUser
	wg      sync.WaitGroup
	rng     *rand.Rand
	seedSeq int64
}

// New creates a Runner over classes, reporting into reg and bus.
func New(classes []*userclass.UserClass, hatchRate float64, numClients int, reg *stats.Registry, b *bus.Bus) *Runner {
	r := &Runner{
		Classes:    classes,
		HatchRate:  hatchRate,
		NumClients: numClients,
		Stats:      reg,
		Bus:        b,
		state:      StateInit,
		rng:        rand.New(rand.NewSource(1)), //nolint:gosec // load-shape only
	}
	b.On(bus.HatchComplete, func(args ...any) {
		r.mu.Lock()
		if r.state == StateHatching {
			r.state = StateRunning
		}
		r.mu.Unlock()
		log.Infof("localrunner: resetting stats")
		reg.ClearAll()
	})
	return r
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// weightLocusts distributes amount instances across r.Classes in
// proportion to each class's Weight (spec §4.4's weight_locusts),
// applying the runner's Host override.
func (r *Runner) weightLocusts(amount int, stopTimeout time.Duration) []*userclass.UserClass {
	weightSum := 0
	for _, c := range r.Classes {
		if len(c.Tasks) == 0 {
			continue
		}
		weightSum += c.Weight
	}
	if weightSum == 0 {
		return nil
	}
	var bucket []*userclass.UserClass
	for _, c := range r.Classes {
		if len(c.Tasks) == 0 {
			log.Warnf("localrunner: user class %q has no tasks, skipping", c.Name)
			continue
		}
		cc := c
		if r.Host != "" {
			cc = cc.WithHost(r.Host)
		}
		if stopTimeout > 0 {
			cc = cc.WithStopTimeout(stopTimeout)
		}
		percent := float64(c.Weight) / float64(weightSum)
		numLocusts := int(float64(amount)*percent + 0.5)
		for i := 0; i < numLocusts; i++ {
			bucket = append(bucket, cc)
		}
	}
	return bucket
}

// SpawnLocusts hatches spawnCount additional users at HatchRate
// users/sec (spec §4.4's spawn_locusts). If wait is true, it blocks
// until every hatched user has exited.
func (r *Runner) SpawnLocusts(ctx context.Context, spawnCount int, stopTimeout time.Duration, wait bool) {
	bucket := r.weightLocusts(spawnCount, stopTimeout)
	spawnCount = len(bucket)

	r.mu.Lock()
	switch r.state {
	case StateInit, StateStopped:
		r.state = StateHatching
		r.NumClients = spawnCount
	default:
		r.state = StateHatching
		r.NumClients += spawnCount
	}
	r.mu.Unlock()

	log.Infof("localrunner: hatching and swarming %d clients at rate %g clients/s", spawnCount, r.HatchRate)

	occurrence := make(map[string]int, len(r.Classes))
	sleepTime := time.Duration(float64(time.Second) / max1(r.HatchRate))

	for len(bucket) > 0 {
		if ctx.Err() != nil {
			return
		}
		idx := r.rng.Intn(len(bucket))
		class := bucket[idx]
		bucket = append(bucket[:idx], bucket[idx+1:]...)
		occurrence[class.Name]++

		r.spawnOne(class)

		if r.UserCount()%10 == 0 {
			log.LogVf("localrunner: %d locusts hatched", r.UserCount())
		}
		time.Sleep(sleepTime)
	}

	log.Infof("localrunner: all locusts hatched: %v", occurrence)
	count := r.UserCount()
	if r.Bus != nil {
		r.Bus.Fire(bus.HatchComplete, count)
	}

	if wait {
		r.wg.Wait()
		log.Infof("localrunner: all locusts dead")
	}
}

func (r *Runner) spawnOne(class *userclass.UserClass) {
	r.mu.Lock()
	r.seedSeq++
	seed := r.seedSeq
	r.mu.Unlock()

	inst := user.NewInstance(class, r.Stats, r.Bus, seed)
	ctx, cancel := context.WithCancel(context.Background())

	ru := &runningUser{class: class, instance: inst, cancel: cancel}
	r.mu.Lock()
	r.users = append(r.users, ru)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.removeUser(ru)
		if err := inst.Run(ctx); err != nil {
			log.Errf("localrunner: user for class %q exited with error: %v", class.Name, err)
		}
	}()
}

func (r *Runner) removeUser(target *runningUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ru := range r.users {
		if ru == target {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return
		}
	}
}

// KillLocusts stops killCount weighted users (spec §4.4's kill_locusts).
func (r *Runner) KillLocusts(killCount int) {
	bucket := r.weightLocusts(killCount, 0)
	killCount = len(bucket)

	r.mu.Lock()
	r.NumClients -= killCount
	log.Infof("localrunner: killing %d locusts", killCount)

	remaining := make(map[string]int)
	for _, c := range bucket {
		remaining[c.Name]++
	}
	var dying []*runningUser
	var keep []*runningUser
	for _, ru := range r.users {
		if remaining[ru.class.Name] > 0 {
			dying = append(dying, ru)
			remaining[ru.class.Name]--
		} else {
			keep = append(keep, ru)
		}
	}
	r.users = keep
	r.mu.Unlock()

	for _, ru := range dying {
		ru.cancel()
	}
	if r.Bus != nil {
		r.Bus.Fire(bus.HatchComplete, r.UserCount())
	}
}

// WarmUp primes client's connection pool with a small concurrent burst
// against path before the first hatch, so the slow, deliberately
// ramped hatch_rate doesn't show its first few users eating a cold
// dial/handshake that every later user skips. A failed warmup is
// logged but does not prevent hatching from proceeding.
func (r *Runner) WarmUp(ctx context.Context, client *httpclient.Client, path string, concurrency int) {
	if err := client.WarmUp(ctx, path, concurrency); err != nil {
		log.Warnf("localrunner: warmup against %q failed: %v", path, err)
	}
}

// StartHatching grows or shrinks the running fleet to locustCount at
// hatchRate (0 keeps the current rate), matching spec §4.4's
// start_hatching. A zero locustCount with the runner still in its
// initial state hatches NumClients.
func (r *Runner) StartHatching(ctx context.Context, locustCount int, hatchRate float64, wait bool) {
	r.mu.Lock()
	state := r.state
	current := len(r.users)
	r.mu.Unlock()

	if state != StateRunning && state != StateHatching {
		r.Stats.ClearAll()
		r.Stats.SetGlobalStartTime(time.Now())
	}

	if state != StateInit && state != StateStopped {
		r.mu.Lock()
		r.state = StateHatching
		r.mu.Unlock()
		switch {
		case current > locustCount:
			r.KillLocusts(current - locustCount)
		case current < locustCount:
			if hatchRate > 0 {
				r.mu.Lock()
				r.HatchRate = hatchRate
				r.mu.Unlock()
			}
			r.SpawnLocusts(ctx, locustCount-current, 0, false)
		}
		return
	}

	if hatchRate > 0 {
		r.mu.Lock()
		r.HatchRate = hatchRate
		r.mu.Unlock()
	}
	if locustCount > 0 {
		r.SpawnLocusts(ctx, locustCount, 0, wait)
	} else {
		r.SpawnLocusts(ctx, r.NumClients, 0, wait)
	}
}

// Stop cancels every running user and marks the runner stopped (spec
// §4.4's stop).
func (r *Runner) Stop() {
	r.mu.Lock()
	users := make([]*runningUser, len(r.users))
	copy(users, r.users)
	r.mu.Unlock()
	for _, ru := range users {
		ru.cancel()
	}
	r.wg.Wait()
	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
}

func max1(f float64) float64 {
	if f <= 0 {
		return 1
	}
	return f
}
