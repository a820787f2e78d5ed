package user

import "errors"

// InterruptUser is the cooperative control-flow signal spec §4.2/§9
// describes: not an error in the ordinary sense, but a narrowly scoped
// signal caught exactly at the user-runtime loop boundary (never let
// it escape into a task's own error handling).
type InterruptUser struct {
	// Reschedule, when true, means "skip the wait and re-enter the
	// loop immediately" (spec §4.2 step 5 -> RescheduleTaskImmediately).
	Reschedule bool
}

func (e *InterruptUser) Error() string {
	if e.Reschedule {
		return "user interrupted (reschedule immediately)"
	}
	return "user interrupted"
}

// NewInterrupt returns a non-rescheduling interrupt: the user loop
// exits cleanly on the next check (spec §4.2 step 5's "otherwise
// return").
func NewInterrupt() error { return &InterruptUser{} }

// NewRescheduleInterrupt returns an interrupt that unwinds the current
// task and re-enters the loop without waiting (spec §4.2 step 5/§5's
// "InterruptUser(reschedule=true) is not a termination").
func NewRescheduleInterrupt() error { return &InterruptUser{Reschedule: true} }

// AsInterrupt reports whether err is (or wraps) an *InterruptUser and
// returns it.
func AsInterrupt(err error) (*InterruptUser, bool) {
	var iu *InterruptUser
	if errors.As(err, &iu) {
		return iu, true
	}
	return nil, false
}
