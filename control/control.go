// Package control is the master's REST control surface (spec §6's
// "CLI/web surface" collaborator): POST /swarm starts or rebalances a
// hatch, POST /stop halts it, GET /stats/requests returns the JSON
// snapshot spec §6 names, and GET /stats/report adds a human-readable
// text table in the same vein as locust's own web UI.
//
// rapi/restHandler.go supplies the ServerReply/jrpc-based JSON error
// contract; request parameters are read from a JSON body only (form
// values are not consulted). Routing itself uses gorilla/mux (as rapi's sibling dashboard server
// in the example pack does) instead of fortio's own bespoke
// ServeMux-based dispatch, since mux's path variables read more
// naturally for this handful of fixed routes.
package control // import "github.com/hatchrun/hatch/control"

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fortio.org/log"

	"github.com/hatchrun/hatch/jrpc"
	"github.com/hatchrun/hatch/master"
	"github.com/hatchrun/hatch/stats"
)

// swarmRequest is POST /swarm's JSON body (spec §6).
type swarmRequest struct {
	LocustCount int     `json:"locust_count"`
	HatchRate   float64 `json:"hatch_rate"`
}

// swarmReply acknowledges a swarm request with the fleet state it put
// the master into.
type swarmReply struct {
	jrpc.ServerReply
	State string `json:"state"`
}

// Server wires the fixed REST surface onto a master and its stats
// registry.
type Server struct {
	master *master.Master
	stats  *stats.Registry
	log    zerolog.Logger
	router *mux.Router
}

// New builds a Server. m and reg are the shared master and registry
// the RPC machinery also writes to.
func New(m *master.Master, reg *stats.Registry) *Server {
	s := &Server{
		master: m,
		stats:  reg,
		log:    zerolog.New(os.Stdout).With().Timestamp().Logger(),
	}
	r := mux.NewRouter()
	r.HandleFunc("/swarm", s.accessLog(s.handleSwarm)).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.accessLog(s.handleStop)).Methods(http.MethodPost)
	r.HandleFunc("/stats/requests", s.accessLog(s.handleStatsRequests)).Methods(http.MethodGet)
	r.HandleFunc("/stats/report", s.accessLog(s.handleStatsReport)).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the http.Handler to mount (e.g. with fnet.Listen's
// net.Listener and an http.Server).
func (s *Server) Handler() http.Handler { return s.router }

// Router exposes the underlying mux.Router so a caller can graft
// extra routes (e.g. package metrics's /metrics exporter) onto the
// same listener without this package taking on that concern itself.
func (s *Server) Router() *mux.Router { return s.router }

// accessLog wraps a handler with a zerolog structured access-log line,
// composed alongside the fortio.org/log lines the handlers themselves
// emit on error paths.
func (s *Server) accessLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) handleSwarm(w http.ResponseWriter, r *http.Request) {
	var req swarmRequest
	if err := decodeBody(r, &req); err != nil {
		log.Warnf("control: bad swarm request: %v", err)
		_ = jrpc.ReplyError(w, "invalid request body", err)
		return
	}
	s.master.StartHatching(req.LocustCount, req.HatchRate, 0, 0)
	_ = jrpc.ReplyOk(w, &swarmReply{State: string(s.master.State())})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.master.Stop()
	_ = jrpc.ReplyOk(w, &swarmReply{State: string(s.master.State())})
}

func (s *Server) handleStatsRequests(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	_ = jrpc.ReplyOk(w, &snap)
}

func (s *Server) handleStatsReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.stats.PrintReport(w)
}

// decodeBody reads a JSON body into dest; an empty body is not an
// error (e.g. POST /stop never has one).
func decodeBody(r *http.Request, dest any) error {
	if r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		return err
	}
	return nil
}
