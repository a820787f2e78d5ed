// Package master is the Master Runner (spec §4.5): the control-plane
// node that tracks connected workers, partitions a hatch request
// across them, and aggregates their stats reports.
//
// original_source/locust/runners.py's MasterLocustRunner supplies the
// client_listener state machine and the corrected per-worker division
// (spec §9's Open Question: slave_num_clients/slave_hatch_rate divide
// by the *local* ready+running count, not the original's conflated
// in-place divide); rapi/restHandler.go supplies the mutex-guarded
// shared-state idiom the control surface reads this type through.
package master // import "github.com/hatchrun/hatch/master"

import (
	"sync"
	"time"

	"fortio.org/log"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/rpc"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/version"
)

// State is the master's fleet-wide lifecycle stage (spec §4.4's state
// machine, shared in spirit with the local runner).
type State string

const (
	StateInit     State = "ready"
	StateHatching State = "hatching"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// SlaveNode is the master's view of one connected worker (spec §4.5).
type SlaveNode struct {
	ID         string
	State      State
	UserCount  int
	CPUPercent float64
	Version    string // worker's build version, from its client_ready handshake
}

// clientReadyPayload is the W -> M `client_ready` payload.
type clientReadyPayload struct {
	Version string `json:"version"`
}

// hatchJob is the payload of an M -> W `hatch` message (spec §6's
// table row).
type hatchJob struct {
	HatchRate   float64       `json:"hatch_rate"`
	NumClients  int           `json:"num_clients"`
	NumRequests int64         `json:"num_requests"`
	Host        string        `json:"host"`
	StopTimeout time.Duration `json:"stop_timeout"`
}

// hatchCompletePayload is the W -> M `hatch_complete` payload.
type hatchCompletePayload struct {
	Count int `json:"count"`
}

// statsPayload is the W -> M `stats` payload (spec §6).
type statsPayload struct {
	Stats      []stats.WireEntry `json:"stats"`
	Errors     []stats.WireError `json:"errors"`
	UserCount  int               `json:"user_count"`
	CPUPercent float64           `json:"cpu_percent"`
}

// Master is the Master Runner.
type Master struct {
	Host string

	Stats *stats.Registry
	Bus   *bus.Bus

	server rpc.Server

	mu      sync.Mutex
	clients map[string]*SlaveNode
	conns   map[string]rpc.Conn
	state   State
	numReqs int64
}

// New creates a Master listening on server and starts its
// client_listener activity. reg/b are the shared stats registry and
// event bus the control surface also reads.
func New(server rpc.Server, reg *stats.Registry, b *bus.Bus, host string) *Master {
	m := &Master{
		Host:    host,
		Stats:   reg,
		Bus:     b,
		server:  server,
		clients: make(map[string]*SlaveNode),
		conns:   make(map[string]rpc.Conn),
		state:   StateInit,
	}
	go m.acceptLoop()
	return m
}

// State reports the master's current lifecycle stage.
func (m *Master) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserCount is the fleet-wide user count, summed over every known
// worker's last reported user_count.
func (m *Master) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.clients {
		total += c.UserCount
	}
	return total
}

// SlaveCount is the number of workers in any known state (spec §4.5's
// slave_count).
func (m *Master) SlaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Workers returns a snapshot of every known worker, for the control
// surface and metrics exporter to read without reaching into the
// mutex-guarded map directly.
func (m *Master) Workers() []SlaveNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SlaveNode, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, *c)
	}
	return out
}

func (m *Master) acceptLoop() {
	for {
		conn, err := m.server.Accept()
		if err != nil {
			log.Errf("master: accept failed, listener stopping: %v", err)
			return
		}
		go m.clientListener(conn)
	}
}

// clientListener is the per-connection read loop implementing spec
// §4.5's client_listener message-type switch. Unlike the original's
// single shared recv() over all clients, one goroutine per connection
// is the idiomatic Go shape; the switch itself is unchanged.
func (m *Master) clientListener(conn rpc.Conn) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			log.LogVf("master: connection closed: %v", err)
			return
		}
		switch msg.Type {
		case rpc.ClientReady:
			m.onClientReady(msg, conn)
		case rpc.ClientStopped:
			m.onClientStopped(msg.NodeID)
		case rpc.StatsMsg:
			m.onStats(msg)
		case rpc.Hatching:
			m.onHatching(msg.NodeID)
		case rpc.HatchComplete:
			m.onHatchComplete(msg)
		case rpc.Quit:
			m.onQuit(msg.NodeID)
		default:
			log.Warnf("master: unknown message type %q from %s", msg.Type, msg.NodeID)
		}
	}
}

func (m *Master) onClientReady(msg rpc.Message, conn rpc.Conn) {
	var data clientReadyPayload
	if err := msg.Decode(&data); err != nil {
		log.Warnf("master: bad client_ready payload from %s: %v", msg.NodeID, err)
	}
	if data.Version != "" && data.Version != version.Short() {
		log.Warnf("master: worker %s reports version %s, master is %s", msg.NodeID, data.Version, version.Short())
	}

	m.mu.Lock()
	m.clients[msg.NodeID] = &SlaveNode{ID: msg.NodeID, State: StateInit, Version: data.Version}
	m.conns[msg.NodeID] = conn
	n := m.readyCountLocked()
	m.mu.Unlock()
	log.Infof("master: client %q reported as ready (version %s), %d ready to swarm", msg.NodeID, data.Version, n)
}

func (m *Master) onClientStopped(id string) {
	m.mu.Lock()
	delete(m.clients, id)
	delete(m.conns, id)
	if m.activeCountLocked() == 0 {
		m.state = StateStopped
	}
	m.mu.Unlock()
	log.Infof("master: removing %s from running clients", id)
}

func (m *Master) onHatching(id string) {
	m.mu.Lock()
	if c, ok := m.clients[id]; ok {
		c.State = StateHatching
	}
	m.mu.Unlock()
}

func (m *Master) onHatchComplete(msg rpc.Message) {
	var data hatchCompletePayload
	if err := msg.Decode(&data); err != nil {
		log.Errf("master: bad hatch_complete payload from %s: %v", msg.NodeID, err)
		return
	}
	m.mu.Lock()
	if c, ok := m.clients[msg.NodeID]; ok {
		c.State = StateRunning
		c.UserCount = data.Count
	}
	hatchingLeft := len(m.byStateLocked(StateHatching))
	var total int
	if hatchingLeft == 0 {
		for _, c := range m.clients {
			total += c.UserCount
		}
	}
	m.mu.Unlock()
	if hatchingLeft == 0 && m.Bus != nil {
		m.Bus.Fire(bus.HatchComplete, total)
	}
}

func (m *Master) onStats(msg rpc.Message) {
	var data statsPayload
	if err := msg.Decode(&data); err != nil {
		log.Errf("master: bad stats payload from %s: %v", msg.NodeID, err)
		return
	}
	m.mu.Lock()
	if c, ok := m.clients[msg.NodeID]; ok {
		c.UserCount = data.UserCount
		c.CPUPercent = data.CPUPercent
	}
	m.mu.Unlock()
	if m.Stats != nil {
		m.Stats.MergeWire(data.Stats)
		m.Stats.MergeWireErrors(data.Errors)
	}
	if m.Bus != nil {
		m.Bus.Fire(bus.SlaveReport, msg.NodeID, data)
	}
}

func (m *Master) onQuit(id string) {
	m.mu.Lock()
	_, existed := m.clients[id]
	delete(m.clients, id)
	delete(m.conns, id)
	n := m.readyCountLocked()
	m.mu.Unlock()
	if existed {
		log.Infof("master: client %q quit, %d clients connected", id, n)
	}
}

func (m *Master) readyCountLocked() int {
	return len(m.byStateLocked(StateInit))
}

func (m *Master) activeCountLocked() int {
	return len(m.byStateLocked(StateHatching)) + len(m.byStateLocked(StateRunning))
}

func (m *Master) byStateLocked(state State) []*SlaveNode {
	var out []*SlaveNode
	for _, c := range m.clients {
		if c.State == state {
			out = append(out, c)
		}
	}
	return out
}

// StartHatching partitions locustCount/hatchRate across every ready or
// running worker and sends each its `hatch` job (spec §4.5's
// start_hatching). The division is per spec §9's corrected form:
// slave_num_clients/slave_hatch_rate are computed from the current
// ready+running count and never mutate m's own fields in place.
func (m *Master) StartHatching(locustCount int, hatchRate float64, numRequests int64, stopTimeout time.Duration) {
	m.mu.Lock()
	n := len(m.byStateLocked(StateInit)) + len(m.byStateLocked(StateRunning))
	if n == 0 {
		m.mu.Unlock()
		log.Warnf("master: no workers connected, ignoring swarm request")
		return
	}
	if m.state != StateRunning && m.state != StateHatching {
		m.Stats.ClearAll()
	}
	m.Stats.SetGlobalStartTime(time.Now())
	m.state = StateHatching
	conns := make(map[string]rpc.Conn, len(m.conns))
	for id, c := range m.conns {
		conns[id] = c
	}
	host := m.Host
	m.mu.Unlock()

	slaveNum := locustCount / n
	slaveRate := hatchRate / float64(n)

	log.Infof("master: sending hatch jobs to %d ready/running clients", n)
	job := hatchJob{HatchRate: slaveRate, NumClients: slaveNum, NumRequests: numRequests, Host: host, StopTimeout: stopTimeout}
	msg, err := rpc.NewMessage(rpc.Hatch, "", job)
	if err != nil {
		log.Errf("master: encoding hatch job: %v", err)
		return
	}
	for id, conn := range conns {
		if err := conn.Send(msg); err != nil {
			log.Errf("master: sending hatch to %s: %v", id, err)
		}
	}
}

// Stop sends `stop` to every hatching or running worker (spec §4.5).
func (m *Master) Stop() {
	m.mu.Lock()
	var targets []rpc.Conn
	for id, c := range m.clients {
		if c.State == StateHatching || c.State == StateRunning {
			if conn, ok := m.conns[id]; ok {
				targets = append(targets, conn)
			}
		}
	}
	m.mu.Unlock()
	msg, err := rpc.NewMessage(rpc.Stop, "", nil)
	if err != nil {
		log.Errf("master: encoding stop: %v", err)
		return
	}
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			log.Errf("master: sending stop: %v", err)
		}
	}
}
