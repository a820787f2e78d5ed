package master

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/rpc"
	"github.com/hatchrun/hatch/stats"
)

// fakeConn is an in-memory rpc.Conn for tests: Send appends to a
// channel the test can drain, Recv reads from an inbound queue the
// test feeds.
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
		return nil
	default:
		return nil
	}
}

func (c *fakeConn) Recv() (rpc.Message, error) {
	select {
	case m := <-c.inbound:
		return m, nil
	case <-c.closed:
		return rpc.Message{}, errClosed
	}
}

func (c *fakeConn) Close() error {
	close(c.closed)
	return nil
}

type closedErr struct{}

func (closedErr) Error() string { return "closed" }

var errClosed = closedErr{}

func newTestMaster() (*Master, *bus.Bus) {
	b := bus.New()
	m := &Master{
		Stats:   stats.NewRegistry(),
		Bus:     b,
		clients: make(map[string]*SlaveNode),
		conns:   make(map[string]rpc.Conn),
		state:   StateInit,
	}
	return m, b
}

func feed(t *testing.T, m *Master, conn rpc.Conn, msg rpc.Message) {
	t.Helper()
	c := conn.(*fakeConn)
	c.inbound <- msg
	go m.clientListener(conn)
	time.Sleep(20 * time.Millisecond)
	close(c.closed)
}

func TestClientReadyRegistersNode(t *testing.T) {
	m, _ := newTestMaster()
	conn := newFakeConn()
	feed(t, m, conn, rpc.Message{Type: rpc.ClientReady, NodeID: "w1"})

	if m.SlaveCount() != 1 {
		t.Fatalf("SlaveCount() = %d, want 1", m.SlaveCount())
	}
	m.mu.Lock()
	st := m.clients["w1"].State
	m.mu.Unlock()
	if st != StateInit {
		t.Fatalf("node state = %v, want %v", st, StateInit)
	}
}

func TestClientReadyRecordsWorkerVersion(t *testing.T) {
	m, _ := newTestMaster()
	conn := newFakeConn()
	data, err := json.Marshal(clientReadyPayload{Version: "1.2.3"})
	if err != nil {
		t.Fatal(err)
	}
	feed(t, m, conn, rpc.Message{Type: rpc.ClientReady, NodeID: "w1", Data: data})

	m.mu.Lock()
	got := m.clients["w1"].Version
	m.mu.Unlock()
	if got != "1.2.3" {
		t.Fatalf("Version = %q, want %q", got, "1.2.3")
	}
}

func TestHatchCompleteFiresOnceAllHatched(t *testing.T) {
	m, b := newTestMaster()
	m.clients["w1"] = &SlaveNode{ID: "w1", State: StateHatching}
	m.clients["w2"] = &SlaveNode{ID: "w2", State: StateHatching}

	fired := make(chan int, 1)
	b.On(bus.HatchComplete, func(args ...any) { fired <- args[0].(int) })

	data1, _ := json.Marshal(hatchCompletePayload{Count: 3})
	m.onHatchComplete(rpc.Message{Type: rpc.HatchComplete, NodeID: "w1", Data: data1})
	select {
	case <-fired:
		t.Fatal("hatch_complete fired too early, one worker still hatching")
	case <-time.After(20 * time.Millisecond):
	}

	data2, _ := json.Marshal(hatchCompletePayload{Count: 4})
	m.onHatchComplete(rpc.Message{Type: rpc.HatchComplete, NodeID: "w2", Data: data2})
	select {
	case total := <-fired:
		if total != 7 {
			t.Fatalf("total = %d, want 7", total)
		}
	case <-time.After(time.Second):
		t.Fatal("hatch_complete never fired")
	}
}

func TestClientStoppedRemovesNode(t *testing.T) {
	m, _ := newTestMaster()
	m.clients["w1"] = &SlaveNode{ID: "w1", State: StateRunning}
	m.conns["w1"] = newFakeConn()

	m.onClientStopped("w1")

	if m.SlaveCount() != 0 {
		t.Fatalf("SlaveCount() = %d, want 0", m.SlaveCount())
	}
	if m.State() != StateStopped {
		t.Fatalf("State() = %v, want %v", m.State(), StateStopped)
	}
}

func TestStartHatchingDividesByReadyAndRunningCount(t *testing.T) {
	m, _ := newTestMaster()
	c1, c2 := newFakeConn(), newFakeConn()
	m.clients["w1"] = &SlaveNode{ID: "w1", State: StateInit}
	m.clients["w2"] = &SlaveNode{ID: "w2", State: StateRunning}
	m.conns["w1"] = c1
	m.conns["w2"] = c2

	m.StartHatching(100, 10, 0, 0)

	for _, c := range []*fakeConn{c1, c2} {
		select {
		case msg := <-c.sent:
			if msg.Type != rpc.Hatch {
				t.Fatalf("got type %v, want hatch", msg.Type)
			}
			var job hatchJob
			if err := msg.Decode(&job); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if job.NumClients != 50 {
				t.Errorf("NumClients = %d, want 50", job.NumClients)
			}
			if job.HatchRate != 5 {
				t.Errorf("HatchRate = %v, want 5", job.HatchRate)
			}
		default:
			t.Fatal("expected a hatch message to be sent")
		}
	}
	if m.State() != StateHatching {
		t.Fatalf("State() = %v, want %v", m.State(), StateHatching)
	}
}

func TestStartHatchingWithNoWorkersWarnsAndNoop(t *testing.T) {
	m, _ := newTestMaster()
	m.StartHatching(100, 10, 0, 0)
	if m.State() != StateInit {
		t.Fatalf("State() = %v, want unchanged %v", m.State(), StateInit)
	}
}

func TestOnStatsMergesIntoRegistry(t *testing.T) {
	m, b := newTestMaster()
	m.clients["w1"] = &SlaveNode{ID: "w1", State: StateRunning}

	reported := make(chan string, 1)
	b.On(bus.SlaveReport, func(args ...any) { reported <- args[0].(string) })

	worker := stats.NewRegistry()
	worker.Log("/ping", "GET", 12)
	payload := statsPayload{Stats: worker.ExportWire(), UserCount: 7, CPUPercent: 42.5}
	data, _ := json.Marshal(payload)

	m.onStats(rpc.Message{Type: rpc.StatsMsg, NodeID: "w1", Data: data})

	e := m.Stats.Get("/ping", "GET")
	if e.NumReqs != 1 {
		t.Fatalf("NumReqs = %d, want 1", e.NumReqs)
	}
	m.mu.Lock()
	uc := m.clients["w1"].UserCount
	cpu := m.clients["w1"].CPUPercent
	m.mu.Unlock()
	if uc != 7 {
		t.Fatalf("UserCount = %d, want 7", uc)
	}
	if cpu != 42.5 {
		t.Fatalf("CPUPercent = %v, want 42.5", cpu)
	}
	if workers := m.Workers(); len(workers) != 1 || workers[0].CPUPercent != 42.5 {
		t.Fatalf("Workers() = %+v, want one entry with CPUPercent 42.5", workers)
	}
	select {
	case id := <-reported:
		if id != "w1" {
			t.Errorf("slave_report node id = %q, want w1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("slave_report never fired")
	}
}
