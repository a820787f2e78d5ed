package user

import "github.com/hatchrun/hatch/userclass"

// RequireOnce wraps task so that, the first time it is selected for a
// given user, prereq runs before it instead of after it already ran
// once silently (spec §4.2's require_once, Open Question decision:
// variant B).
//
// Go has no stable identity for an arbitrary func value, so unlike
// original_source/locust/core.py (which keys its "already ran" set by
// the prereq function object itself) this takes an explicit id string
// the caller chooses to name the prerequisite — typically the prereq's
// own task name, e.g. "login".
func RequireOnce(id string, prereq, task userclass.Task) userclass.Task {
	return func(u any) error {
		inst, ok := u.(*Instance)
		if !ok {
			return task(u)
		}
		inst.mu.Lock()
		done := inst.ranOnce[id]
		if !done {
			inst.ranOnce[id] = true
		}
		inst.mu.Unlock()

		if done {
			return task(u)
		}

		// Variant B: enqueue both at the head, prereq in front, so the
		// configured wait() still happens between them.
		inst.ScheduleTask(task, true)
		inst.ScheduleTask(prereq, true)
		return nil
	}
}
