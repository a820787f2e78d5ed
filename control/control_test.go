package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/master"
	"github.com/hatchrun/hatch/rpc/socket"
	"github.com/hatchrun/hatch/stats"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ln, _ := socket.Listen("control-test", "0")
	if ln == nil {
		t.Fatal("failed to start rpc listener")
	}
	t.Cleanup(func() { ln.Close() })
	m := master.New(ln, stats.NewRegistry(), bus.New(), "")
	return New(m, m.Stats)
}

func TestStatsRequestsEmptyFleet(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats/requests")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var snap []stats.EntrySnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 0 {
		t.Fatalf("snapshot = %v, want empty", snap)
	}
}

func TestSwarmWithNoWorkersReturnsOkAndStaysInit(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := strings.NewReader(`{"locust_count":10,"hatch_rate":2}`)
	resp, err := http.Post(srv.URL+"/swarm", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var reply swarmReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.State != string(master.StateInit) {
		t.Fatalf("state = %q, want %q (no workers connected)", reply.State, master.StateInit)
	}
}

func TestSwarmBadBodyRepliesClientError(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/swarm", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsReportIsPlainText(t *testing.T) {
	s := newTestServer(t)
	s.stats.Log("/x", "GET", 5)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats/report")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}

func TestStopReturnsOk(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
