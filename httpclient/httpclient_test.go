package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/user"
)

func TestGetLogsSuccessAndFiresBus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	b := bus.New()
	fired := make(chan []any, 1)
	b.On(bus.RequestSuccess, func(args ...any) { fired <- args })

	c, err := New(Options{Host: srv.URL}, reg, b)
	if err != nil {
		t.Fatal(err)
	}
	_, data, err := c.Get(context.Background(), "/ping", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("body = %q, want hello", data)
	}

	e := reg.Get("/ping", http.MethodGet)
	if e.NumReqs != 1 {
		t.Fatalf("NumReqs = %d, want 1", e.NumReqs)
	}
	args := <-fired
	if args[0].(string) != "/ping" {
		t.Fatalf("event name = %v, want /ping", args[0])
	}
}

func TestGetNameOverrideGroupsUnderAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	c, err := New(Options{Host: srv.URL}, reg, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(context.Background(), "/ultra_fast", "alias"); err != nil {
		t.Fatal(err)
	}

	if e := reg.Get("alias", http.MethodGet); e.NumReqs != 1 {
		t.Fatalf("alias NumReqs = %d, want 1", e.NumReqs)
	}
	if e := reg.Get("/ultra_fast", http.MethodGet); e.NumReqs != 0 {
		t.Fatalf("/ultra_fast NumReqs = %d, want 0", e.NumReqs)
	}
}

func TestNon2xxLogsErrorAndFiresFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	b := bus.New()
	fired := make(chan []any, 1)
	b.On(bus.RequestFailure, func(args ...any) { fired <- args })

	c, err := New(Options{Host: srv.URL}, reg, b)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(context.Background(), "/broken", ""); err == nil {
		t.Fatal("expected an error for a 500 response")
	}

	e := reg.Get("/broken", http.MethodGet)
	if e.NumFailures != 1 {
		t.Fatalf("NumFailures = %d, want 1", e.NumFailures)
	}
	<-fired
}

func TestGlobalCeilingRaisesInterrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	reg.SetGlobalMaxRequests(3)
	c, err := New(Options{Host: srv.URL}, reg, bus.New())
	if err != nil {
		t.Fatal(err)
	}

	logged := 0
	interrupted := 0
	for i := 0; i < 5; i++ {
		_, _, err := c.Get(context.Background(), "/x", "")
		if _, ok := user.AsInterrupt(err); ok {
			interrupted++
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		logged++
	}
	if logged != 3 {
		t.Fatalf("logged = %d, want 3", logged)
	}
	if interrupted != 2 {
		t.Fatalf("interrupted = %d, want 2", interrupted)
	}
}

func TestWarmUpFansOutConcurrently(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	c, err := New(Options{Host: srv.URL}, reg, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WarmUp(context.Background(), "/", 5); err != nil {
		t.Fatalf("WarmUp() error = %v", err)
	}
	if hits != 5 {
		t.Fatalf("hits = %d, want 5", hits)
	}
}

func TestWarmUpReturnsFirstError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := stats.NewRegistry()
	c, err := New(Options{Host: srv.URL}, reg, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WarmUp(context.Background(), "/", 3); err == nil {
		t.Fatal("expected WarmUp to surface the 503 as an error")
	}
}
