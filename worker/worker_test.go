package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/localrunner"
	"github.com/hatchrun/hatch/rpc"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/userclass"
)

type fakeConn struct {
	sent    chan rpc.Message
	inbound chan rpc.Message
	closed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:    make(chan rpc.Message, 16),
		inbound: make(chan rpc.Message, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(m rpc.Message) error {
	select {
	case c.sent <- m:
	default:
	}
	return nil
}

func (c *fakeConn) Recv() (rpc.Message, error) {
	select {
	case m := <-c.inbound:
		return m, nil
	case <-c.closed:
		return rpc.Message{}, errClosed{}
	}
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

type errClosed struct{}

func (errClosed) Error() string { return "closed" }

func sleepyClass(t *testing.T, name string, weight int) *userclass.UserClass {
	t.Helper()
	task := userclass.Task(func(u any) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	c, err := userclass.New(name).Host("http://example.com").
		Weight(weight).Wait(time.Millisecond, 2*time.Millisecond).
		AddTaskWeighted(task, 1).Build()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func drain(t *testing.T, ch chan rpc.Message, want rpc.MessageType) rpc.Message {
	t.Helper()
	select {
	case m := <-ch:
		if m.Type != want {
			t.Fatalf("got message type %q, want %q", m.Type, want)
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q", want)
		return rpc.Message{}
	}
}

func TestRunSendsClientReadyImmediately(t *testing.T) {
	conn := newFakeConn()
	c := sleepyClass(t, "A", 10)
	runner := localrunner.New([]*userclass.UserClass{c}, 1000, 0, stats.NewRegistry(), bus.New())
	w := New(conn, runner, stats.NewRegistry(), bus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	msg := drain(t, conn.sent, rpc.ClientReady)
	var payload clientReadyPayload
	if err := msg.Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Version == "" {
		t.Fatal("client_ready payload missing version")
	}
	cancel()
	conn.Close()
	<-done
}

func TestHatchRepliesHatchingAndGrowsRunner(t *testing.T) {
	conn := newFakeConn()
	c := sleepyClass(t, "A", 10)
	runner := localrunner.New([]*userclass.UserClass{c}, 1000, 0, stats.NewRegistry(), bus.New())
	w := New(conn, runner, stats.NewRegistry(), bus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	drain(t, conn.sent, rpc.ClientReady)

	job := hatchJob{HatchRate: 1000, NumClients: 5}
	msg, err := rpc.NewMessage(rpc.Hatch, "", job)
	if err != nil {
		t.Fatal(err)
	}
	conn.inbound <- msg

	drain(t, conn.sent, rpc.Hatching)

	deadline := time.Now().Add(time.Second)
	for runner.UserCount() != 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runner.UserCount(); got != 5 {
		t.Fatalf("UserCount() = %d, want 5", got)
	}
	cancel()
	runner.Stop()
}

func TestStopSendsClientStoppedThenClientReady(t *testing.T) {
	conn := newFakeConn()
	c := sleepyClass(t, "A", 10)
	runner := localrunner.New([]*userclass.UserClass{c}, 1000, 0, stats.NewRegistry(), bus.New())
	w := New(conn, runner, stats.NewRegistry(), bus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	drain(t, conn.sent, rpc.ClientReady)
	runner.SpawnLocusts(ctx, 3, 0, false)

	stopMsg, err := rpc.NewMessage(rpc.Stop, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.inbound <- stopMsg

	drain(t, conn.sent, rpc.ClientStopped)
	drain(t, conn.sent, rpc.ClientReady)
	if runner.UserCount() != 0 {
		t.Fatalf("UserCount() after stop = %d, want 0", runner.UserCount())
	}
}

func TestHatchCompleteListenerReportsToMaster(t *testing.T) {
	conn := newFakeConn()
	c := sleepyClass(t, "A", 10)
	b := bus.New()
	runner := localrunner.New([]*userclass.UserClass{c}, 1000, 0, stats.NewRegistry(), b)
	w := New(conn, runner, stats.NewRegistry(), b)
	_ = w

	b.Fire(bus.HatchComplete, 9)

	msg := drain(t, conn.sent, rpc.HatchComplete)
	var data hatchCompletePayload
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Count != 9 {
		t.Fatalf("count = %d, want 9", data.Count)
	}
}

func TestStatsReporterSendsPeriodically(t *testing.T) {
	conn := newFakeConn()
	c := sleepyClass(t, "A", 10)
	reg := stats.NewRegistry()
	reg.Log("/x", "GET", 5)
	b := bus.New()
	runner := localrunner.New([]*userclass.UserClass{c}, 1000, 0, stats.NewRegistry(), b)
	w := New(conn, runner, reg, b)

	ctx, cancel := context.WithTimeout(context.Background(), SlaveReportInterval+500*time.Millisecond)
	defer cancel()
	go w.statsReporter(ctx)

	var msg rpc.Message
	select {
	case msg = <-conn.sent:
		if msg.Type != rpc.StatsMsg {
			t.Fatalf("got message type %q, want %q", msg.Type, rpc.StatsMsg)
		}
	case <-time.After(SlaveReportInterval + time.Second):
		t.Fatal("timed out waiting for stats report")
	}
	var payload statsPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Stats) != 1 || payload.Stats[0].Name != "/x" {
		t.Fatalf("unexpected stats payload: %+v", payload)
	}
}
