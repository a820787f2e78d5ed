// Package worker is the Worker Runner (spec §4.6): the data-plane
// node that registers with a master, runs a localrunner.Runner on
// command, and periodically reports stats back.
//
// original_source/locust/runners.py's SlaveLocustRunner supplies the
// client_id generation, the worker/stats_reporter activity split and
// the exact 3-second SLAVE_REPORT_INTERVAL; the local hatch/stop work
// itself is delegated to package localrunner, not reimplemented here.
package worker // import "github.com/hatchrun/hatch/worker"

import (
	"context"
	"crypto/md5" //nolint:gosec // used as a node-id mixing function, not for security
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/localrunner"
	"github.com/hatchrun/hatch/rpc"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/version"
)

// SlaveReportInterval is spec §4.6's SLAVE_REPORT_INTERVAL.
const SlaveReportInterval = 3 * time.Second

// hatchJob mirrors master's wire shape for the M -> W `hatch` message
// (spec §6's table row); kept as an independent type since the two
// packages must not import each other to exchange it.
type hatchJob struct {
	HatchRate   float64       `json:"hatch_rate"`
	NumClients  int           `json:"num_clients"`
	NumRequests int64         `json:"num_requests"`
	Host        string        `json:"host"`
	StopTimeout time.Duration `json:"stop_timeout"`
}

type hatchCompletePayload struct {
	Count int `json:"count"`
}

// clientReadyPayload stamps the worker's build version onto client_ready,
// so the master can surface which binary each connected worker is
// running without a separate handshake round trip.
type clientReadyPayload struct {
	Version string `json:"version"`
}

type statsPayload struct {
	Stats      []stats.WireEntry `json:"stats"`
	Errors     []stats.WireError `json:"errors"`
	UserCount  int               `json:"user_count"`
	CPUPercent float64           `json:"cpu_percent"`
}

// Worker is the Worker Runner.
type Worker struct {
	ClientID string
	Runner   *localrunner.Runner

	Stats *stats.Registry
	Bus   *bus.Bus

	conn rpc.Conn

	mu          sync.Mutex
	cancelHatch context.CancelFunc // cancels an in-flight hatch activity
}

// NewClientID builds the worker's node id: hostname + "_" + hex(md5(now+random)),
// per spec §4.6 verbatim, plus a short uuid suffix so two workers
// started in the same container/pod within the same nanosecond (fast
// autoscaling restarts) still can't collide.
func NewClientID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	//nolint:gosec // load-shape id mixing, not a security boundary
	n := time.Now().UnixNano() + int64(rand.Intn(10000))
	sum := md5.Sum([]byte(fmt.Sprintf("%d", n)))
	return fmt.Sprintf("%s_%x_%s", host, sum, uuid.NewString()[:8])
}

// New wires a Worker around an already-connected conn and the
// localrunner it drives. It registers the bus listeners spec §4.6
// calls for (hatch_complete -> report to master, quitting -> send
// quit) and returns without blocking, sending nothing; call Run to
// send client_ready and start the worker/stats_reporter loops.
func New(conn rpc.Conn, runner *localrunner.Runner, reg *stats.Registry, b *bus.Bus) *Worker {
	w := &Worker{
		ClientID: NewClientID(),
		Runner:   runner,
		Stats:    reg,
		Bus:      b,
		conn:     conn,
	}
	b.On(bus.HatchComplete, func(args ...any) {
		count, _ := args[0].(int)
		w.sendHatchComplete(count)
	})
	b.On(bus.Quitting, func(args ...any) {
		_ = w.send(rpc.Quit, nil)
	})
	return w
}

func (w *Worker) send(t rpc.MessageType, payload any) error {
	msg, err := rpc.NewMessage(t, w.ClientID, payload)
	if err != nil {
		return err
	}
	return w.conn.Send(msg)
}

func (w *Worker) sendHatchComplete(count int) {
	if err := w.send(rpc.HatchComplete, hatchCompletePayload{Count: count}); err != nil {
		log.Errf("worker %s: sending hatch_complete: %v", w.ClientID, err)
	}
}

// Run announces readiness and blocks running the worker loop and
// stats_reporter concurrently until ctx is cancelled or the
// connection fails.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.send(rpc.ClientReady, clientReadyPayload{Version: version.Short()}); err != nil {
		return fmt.Errorf("worker %s: sending client_ready: %v", w.ClientID, err)
	}
	// Closing the connection on cancellation unblocks workerLoop's Recv.
	stopOnCancel := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stopOnCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var loopErr error
	go func() {
		defer wg.Done()
		loopErr = w.workerLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.statsReporter(ctx)
	}()
	wg.Wait()
	return loopErr
}

// workerLoop is spec §4.6's `worker` activity: consume RPC messages
// from the master and react to `hatch`/`stop`.
func (w *Worker) workerLoop(ctx context.Context) error {
	for {
		msg, err := w.conn.Recv()
		if err != nil {
			return fmt.Errorf("worker %s: connection lost: %w", w.ClientID, err)
		}
		switch msg.Type {
		case rpc.Hatch:
			w.onHatch(ctx, msg)
		case rpc.Stop:
			w.onStop()
		default:
			log.Warnf("worker %s: unknown message type %q", w.ClientID, msg.Type)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Worker) onHatch(ctx context.Context, msg rpc.Message) {
	if err := w.send(rpc.Hatching, nil); err != nil {
		log.Errf("worker %s: sending hatching: %v", w.ClientID, err)
		return
	}
	var job hatchJob
	if err := msg.Decode(&job); err != nil {
		log.Errf("worker %s: bad hatch payload: %v", w.ClientID, err)
		return
	}
	hatchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.cancelHatch != nil {
		w.cancelHatch()
	}
	w.cancelHatch = cancel
	w.mu.Unlock()

	// Spawned as its own activity, per spec §4.6: "spawn a background
	// activity that calls the local runner's start_hatching".
	go func() {
		w.Runner.Host = job.Host
		w.Runner.StartHatching(hatchCtx, job.NumClients, job.HatchRate, false)
	}()
}

func (w *Worker) onStop() {
	w.mu.Lock()
	if w.cancelHatch != nil {
		w.cancelHatch()
		w.cancelHatch = nil
	}
	w.mu.Unlock()

	w.Runner.Stop()
	if err := w.send(rpc.ClientStopped, nil); err != nil {
		log.Errf("worker %s: sending client_stopped: %v", w.ClientID, err)
	}
	if err := w.send(rpc.ClientReady, clientReadyPayload{Version: version.Short()}); err != nil {
		log.Errf("worker %s: sending client_ready: %v", w.ClientID, err)
	}
}

// statsReporter is spec §4.6's `stats_reporter` activity: every
// SlaveReportInterval, fire report_to_master with a fresh data map,
// then send the registry's wire export, the runner's user count and
// the host CPU percentage as a `stats` message. What listeners put
// into the data map is not included in that message.
func (w *Worker) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(SlaveReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data := map[string]any{}
			if w.Bus != nil {
				w.Bus.Fire(bus.ReportToMaster, w.ClientID, data)
			}
			payload := statsPayload{UserCount: w.Runner.UserCount()}
			if w.Stats != nil {
				payload.Stats = w.Stats.ExportWire()
				payload.Errors = w.Stats.ExportWireErrors()
			}
			if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
				payload.CPUPercent = pct[0]
			}
			if err := w.send(rpc.StatsMsg, payload); err != nil {
				log.Errf("worker %s: connection lost to master, aborting stats reporter: %v", w.ClientID, err)
				return
			}
		}
	}
}
