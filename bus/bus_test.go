package bus

import (
	"testing"
)

func TestFireOrderAndArgs(t *testing.T) {
	b := New()
	var order []int
	b.On("x", func(args ...any) { order = append(order, 1) })
	b.On("x", func(args ...any) { order = append(order, 2) })
	b.On("x", func(args ...any) { order = append(order, 3) })
	b.Fire("x")
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("listeners did not fire in registration order: %v", order)
	}
}

func TestFirePassesArgs(t *testing.T) {
	b := New()
	var got string
	var gotN int
	b.On(RequestSuccess, func(args ...any) {
		got = args[0].(string)
		gotN = args[1].(int)
	})
	b.Fire(RequestSuccess, "/foo", 42)
	if got != "/foo" || gotN != 42 {
		t.Fatalf("got %q %d", got, gotN)
	}
}

func TestPanicListenerSwallowed(t *testing.T) {
	b := New()
	ran := false
	b.On("y", func(args ...any) { panic("boom") })
	b.On("y", func(args ...any) { ran = true })
	b.Fire("y") // must not panic out of Fire
	if !ran {
		t.Fatal("second listener should still run after first panicked")
	}
}

func TestUnknownSignalNoop(t *testing.T) {
	b := New()
	b.Fire("never-registered") // must not panic
}
