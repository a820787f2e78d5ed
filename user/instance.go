// Package user is the per-user task-execution engine (spec §4.2): the
// cooperative loop that repeatedly selects, invokes and waits between
// tasks of a single simulated client, bounded by an optional
// stop_timeout and interruptible via InterruptUser.
//
// original_source/locust/core.py's Locust.run is a single method mixing
// task selection, queue management and exception handling; here that is
// split across Run (the loop), the task queue helpers below, wait.go
// (the think-time policy) and requireonce.go (the require_once
// decorator), following periodic.go's separation of the run loop from
// its supporting Aborter state.
package user // import "github.com/hatchrun/hatch/user"

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"fortio.org/log"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/userclass"
)

// queueEntry is one pending task invocation. Python's runtime stores a
// (callable, args, kwargs) tuple; in Go the idiomatic equivalent is a
// closure that has already captured whatever arguments it needs, so the
// queue only ever holds a userclass.Task.
type queueEntry struct {
	task userclass.Task
}

// Instance is one running simulated client bound to a UserClass (spec
// §4.2's "user" argument to run(user)).
type Instance struct {
	Class *userclass.UserClass
	Stats *stats.Registry
	Bus   *bus.Bus

	// GetNextTask selects the next task when the queue runs dry.
	// Defaults to uniform random over Class.Tasks, matching spec §4.2
	// step 3's "default: uniform random over tasks".
	GetNextTask func() userclass.Task

	rng *rand.Rand

	mu        sync.Mutex
	queue     []queueEntry
	timeStart time.Time

	// waitN/waitMean back the avg_wait-seeking policy (wait.go).
	waitN    int
	waitMean float64

	// ranOnce is the per-user "already ran" set require_once.go keys by
	// prereq identity (spec §4.2's require_once).
	ranOnce map[string]bool
}

// NewInstance creates an Instance ready to Run. seed lets callers give
// each simulated user an independent random stream; pass time-derived
// seeds per user rather than sharing one rand.Rand across goroutines.
func NewInstance(class *userclass.UserClass, reg *stats.Registry, b *bus.Bus, seed int64) *Instance {
	return &Instance{
		Class:   class,
		Stats:   reg,
		Bus:     b,
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // load-shape sampling, not crypto
		ranOnce: make(map[string]bool),
	}
}

func (u *Instance) defaultGetNextTask() userclass.Task {
	tasks := u.Class.Tasks
	if len(tasks) == 0 {
		return nil
	}
	return tasks[u.rng.Intn(len(tasks))]
}

func (u *Instance) nextTask() userclass.Task {
	if u.GetNextTask != nil {
		return u.GetNextTask()
	}
	return u.defaultGetNextTask()
}

// ScheduleTask appends (default) or, when first is true, prepends an
// entry to the task queue (spec §4.2's schedule_task).
func (u *Instance) ScheduleTask(t userclass.Task, first bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if first {
		u.queue = append([]queueEntry{{task: t}}, u.queue...)
		return
	}
	u.queue = append(u.queue, queueEntry{task: t})
}

func (u *Instance) popTask() (userclass.Task, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.queue) == 0 {
		return nil, false
	}
	e := u.queue[0]
	u.queue = u.queue[1:]
	return e.task, true
}

func (u *Instance) queueEmpty() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue) == 0
}

// Run drives the user until termination: ctx cancellation, stop_timeout
// elapsing, or a non-rescheduling InterruptUser (spec §4.2 steps 1-7).
func (u *Instance) Run(ctx context.Context) error {
	u.timeStart = time.Now()
	if u.Class.OnStart != nil {
		if err := u.Class.OnStart(u); err != nil {
			if _, ok := AsInterrupt(err); !ok {
				u.reportError(err)
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if u.Class.StopTimeout > 0 && time.Since(u.timeStart) > u.Class.StopTimeout {
			return nil
		}

		if u.queueEmpty() {
			t := u.nextTask()
			if t == nil {
				return nil
			}
			u.ScheduleTask(t, false)
		}

		task, ok := u.popTask()
		if !ok {
			continue
		}

		err := u.invoke(task)

		switch {
		case err == nil:
			if !u.sleep(ctx, u.wait()) {
				return nil
			}
		default:
			if iu, ok := AsInterrupt(err); ok {
				if iu.Reschedule {
					continue // RescheduleTaskImmediately: skip wait, loop now
				}
				return nil
			}
			u.reportError(err)
			// spec §4.2 step 7: a bad task must not kill the user, and
			// does not wait before retrying.
		}
	}
}

func (u *Instance) invoke(t userclass.Task) error {
	return t(u)
}

func (u *Instance) reportError(err error) {
	fmt.Fprintf(os.Stderr, "locust_error: %v\n", err)
	log.Errf("user: task error: %v", err)
	if u.Bus != nil {
		u.Bus.Fire(bus.LocustError, u, err)
	}
}

// sleep waits for d or until ctx is cancelled, reporting whether the
// user should continue running.
func (u *Instance) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
