// Package userclass is the declarative user-class model: the
// programmatic description of a simulated client's behavior (spec
// §3's UserClass, §4.1/§9's metaclass-free task assembly).
//
// original_source/locust/core.py assembles the final task list at
// class-creation time via a metaclass (`LocustMeta.__new__`) that
// rewrites the class dict. Go has no such hook, so spec §9 calls for
// an explicit builder instead: Builder.Build() performs the same
// three-source assembly (inherited tasks, declarative list/map,
// weighted registration) up front and returns an immutable UserClass.
package userclass // import "github.com/hatchrun/hatch/userclass"

import (
	"fmt"
	"strings"
	"time"
)

// Task is one unit of simulated work, a callable bound to a running
// UserInstance (spec §3's "ordered tasks list where each entry is a
// callable"). The *user.Instance type lives in package user; userclass
// only needs an opaque reference type to avoid an import cycle, so
// Task is generic over any runtime handle the caller supplies.
type Task func(u any) error

// UserClass is the immutable, fully assembled definition of one kind
// of simulated client (spec §3).
type UserClass struct {
	Name        string
	Host        string
	Weight      int
	MinWait     time.Duration
	MaxWait     time.Duration
	AvgWait     time.Duration // zero means "unset" (spec §4.2's wait policy)
	StopTimeout time.Duration // zero means "unset"

	// Tasks is the flat, already-weighted sequence: a task appears as
	// many times as its relative selection probability requires (spec
	// §3's "multiplicity encodes... selection probability").
	Tasks []Task

	// OnStart, if set, runs once before the task loop begins (spec
	// §4.2 step 1).
	OnStart Task
}

// DefaultWeight matches spec §3's "weight (positive integer, default 10)".
const DefaultWeight = 10

// Builder assembles a UserClass from the three sources spec §3 names:
// (i) inherited tasks, (ii) an explicit list/mapping, (iii) weighted
// task registrations — inherited tasks first, then (ii) and (iii) in
// the order their Add calls are made, matching
// original_source/locust/core.py's LocustMeta (base class tasks first,
// then the class's own `tasks` attribute, then `@task(weight)`
// methods).
type Builder struct {
	name        string
	host        string
	weight      int
	minWait     time.Duration
	maxWait     time.Duration
	avgWait     time.Duration
	stopTimeout time.Duration
	tasks       []Task
	err         error
}

// New starts building a user class named name.
func New(name string) *Builder {
	return &Builder{name: name, weight: DefaultWeight}
}

// Host sets the base URL user instances of this class target.
func (b *Builder) Host(host string) *Builder {
	b.host = host
	return b
}

// Weight sets the class's relative selection weight among sibling
// classes (spec §3, used by the local/master runner's weighted hatch).
func (b *Builder) Weight(w int) *Builder {
	if w <= 0 {
		b.err = fmt.Errorf("userclass %q: weight must be positive, got %d", b.name, w)
		return b
	}
	b.weight = w
	return b
}

// Wait sets min/max think-time between tasks, in the spec's
// milliseconds (accepted here as time.Duration for type safety).
func (b *Builder) Wait(minWait, maxWait time.Duration) *Builder {
	b.minWait = minWait
	b.maxWait = maxWait
	return b
}

// AvgWait switches the wait policy to the average-seeking variant
// (spec §4.2's "if avg_wait is set").
func (b *Builder) AvgWait(avg time.Duration) *Builder {
	b.avgWait = avg
	return b
}

// StopTimeout sets the optional per-user lifetime ceiling (spec §3/§4.2).
func (b *Builder) StopTimeout(d time.Duration) *Builder {
	b.stopTimeout = d
	return b
}

// Inherit prepends base's already-assembled tasks, matching
// LocustMeta's "new_tasks += base.tasks" step: base tasks come before
// any already added through AddTasks/AddTaskList/AddTaskWeighted,
// matching the original's base-first assembly.
func (b *Builder) Inherit(base *UserClass) *Builder {
	if base == nil {
		return b
	}
	b.tasks = append(append([]Task{}, base.Tasks...), b.tasks...)
	return b
}

// AddTaskList expands a plain ordered list, each task contributing one
// entry — spec §3 (ii)'s "explicit list" form.
func (b *Builder) AddTaskList(fns ...Task) *Builder {
	b.tasks = append(b.tasks, fns...)
	return b
}

// AddTasks expands a {task: count} mapping by repeating each task
// count times — spec §3 (ii)'s "mapping {task: count}" form. Go maps
// have no stable iteration order, so for deterministic task-ratio
// fidelity callers that care about exact ordering (not just ratio)
// should use AddTaskWeighted per task instead.
func (b *Builder) AddTasks(m map[*Task]int) *Builder {
	for t, count := range m {
		for i := 0; i < count; i++ {
			b.tasks = append(b.tasks, *t)
		}
	}
	return b
}

// AddTaskWeighted registers one task repeated weight times, the Go
// equivalent of a method annotated `@task(weight)` (spec §3 (iii)).
func (b *Builder) AddTaskWeighted(fn Task, weight int) *Builder {
	if weight <= 0 {
		weight = 1
	}
	for i := 0; i < weight; i++ {
		b.tasks = append(b.tasks, fn)
	}
	return b
}

// Build validates and returns the assembled UserClass. Per spec §7,
// "configuration errors (e.g. user class with no host) fail fast at
// instantiation with a descriptive message".
func (b *Builder) Build() (*UserClass, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, fmt.Errorf("userclass: name is required")
	}
	if b.host == "" {
		return nil, fmt.Errorf("userclass %q: host is required", b.name)
	}
	if b.maxWait < b.minWait {
		return nil, fmt.Errorf("userclass %q: max_wait (%v) < min_wait (%v)", b.name, b.maxWait, b.minWait)
	}
	if b.avgWait != 0 && (b.avgWait < b.minWait || b.avgWait > b.maxWait) {
		return nil, fmt.Errorf("userclass %q: avg_wait (%v) must be within [min_wait, max_wait]", b.name, b.avgWait)
	}
	tasks := make([]Task, len(b.tasks))
	copy(tasks, b.tasks)
	return &UserClass{
		Name:        b.name,
		Host:        b.host,
		Weight:      b.weight,
		MinWait:     b.minWait,
		MaxWait:     b.maxWait,
		AvgWait:     b.avgWait,
		StopTimeout: b.stopTimeout,
		Tasks:       tasks,
	}, nil
}

// Validate checks a registered set of user classes — e.g. the fleet a
// CLI-loaded plugin exposes — and fails fast listing every class with
// an empty Tasks or empty Host, rather than Build()'s one-class-at-a-
// time check. Spec §7's "configuration errors fail fast" requirement
// is about the whole registered set being rejected in one pass, not
// just the class under construction.
func Validate(classes []*UserClass) error {
	var problems []string
	for _, c := range classes {
		if c.Host == "" {
			problems = append(problems, fmt.Sprintf("userclass %q: host is required", c.Name))
		}
		if len(c.Tasks) == 0 {
			problems = append(problems, fmt.Sprintf("userclass %q: no tasks registered", c.Name))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("userclass: %d invalid class(es): %s", len(problems), strings.Join(problems, "; "))
}

// WithHost returns a copy of c with Host overridden — used by the
// local/master runner's weight_locusts step (spec §4.4: "apply host
// and stop_timeout overrides").
func (c *UserClass) WithHost(host string) *UserClass {
	if host == "" {
		return c
	}
	cp := *c
	cp.Host = host
	return &cp
}

// WithStopTimeout returns a copy of c with StopTimeout overridden.
func (c *UserClass) WithStopTimeout(d time.Duration) *UserClass {
	if d == 0 {
		return c
	}
	cp := *c
	cp.StopTimeout = d
	return &cp
}

// Compose builds a new task drawing from a nested class's task list,
// each invocation picking uniformly among nested.Tasks — the Go
// equivalent of original_source/locust/core.py's nested TaskSet idea
// that spec.md's distillation folded into plain inheritance (SPEC_FULL
// §6's explicit, opt-in supplement; never invoked implicitly).
func Compose(nested *UserClass, pick func(n int) int) Task {
	return func(u any) error {
		if len(nested.Tasks) == 0 {
			return nil
		}
		idx := pick(len(nested.Tasks))
		return nested.Tasks[idx](u)
	}
}
