// Copyright 2024 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command hatch is the fleet entry point with three subcommands:
// master (accepts workers and serves the REST control surface), worker
// (dials a master and drives a local runner on command) and local (a
// standalone single-process run, no RPC layer at all).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"fortio.org/cli"
	"fortio.org/log"
	"fortio.org/scli"

	"github.com/hatchrun/hatch/bincommon"
	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/control"
	"github.com/hatchrun/hatch/examples/demo"
	"github.com/hatchrun/hatch/fnet"
	"github.com/hatchrun/hatch/httpclient"
	"github.com/hatchrun/hatch/localrunner"
	"github.com/hatchrun/hatch/master"
	"github.com/hatchrun/hatch/metrics"
	"github.com/hatchrun/hatch/rpc/socket"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/userclass"
	"github.com/hatchrun/hatch/worker"
)

// warmUpConcurrency bounds the pre-hatch connection-pool warmup burst.
const warmUpConcurrency = 4

func helpArgsString() string {
	return "master | worker | local\n" +
		"  master  accept workers, serve the REST control surface and metrics\n" +
		"  worker  connect to -master-host:-master-port and run hatch jobs\n" +
		"  local   single-process run, no master/worker RPC at all"
}

func main() {
	cli.ProgramName = "Hatch"
	cli.ArgsHelp = helpArgsString()
	cli.CommandBeforeFlags = true
	cli.MinArgs = 0
	cli.MaxArgs = 0
	scli.ServerMain() // exits on argument/flag errors.

	switch cli.Command {
	case "master":
		runMaster()
	case "worker":
		runWorker()
	case "local":
		runLocal()
	default:
		cli.ErrUsage("Error: unknown command %q", cli.Command)
	}
}

// newInstrumentedClient builds the httpclient.Client every UserClass
// in this binary shares, per spec §4.1's one-client-per-host wiring.
func newInstrumentedClient(reg *stats.Registry, b *bus.Bus) *httpclient.Client {
	client, err := httpclient.New(httpclient.Options{
		Host:     *bincommon.HostFlag,
		Timeout:  *bincommon.HTTPTimeoutFlag,
		CertFile: *bincommon.CertFlag,
		KeyFile:  *bincommon.KeyFlag,
		CAFile:   *bincommon.CACertFlag,
	}, reg, b)
	if err != nil {
		log.Fatalf("hatch: building http client: %v", err)
	}
	return client
}

// runMaster starts the RPC listener workers dial into, mounts the REST
// control surface and the Prometheus exporter on one HTTP listener,
// and blocks until the process is killed.
func runMaster() {
	reg := stats.NewRegistry()
	reg.SetGlobalMaxRequests(bincommon.GlobalMaxRequestsFlag.Get())
	b := bus.New()

	ln, addr := socket.Listen("hatch-master", *bincommon.MasterPortFlag)
	if ln == nil {
		log.Fatalf("hatch: failed to listen for workers on port %s", *bincommon.MasterPortFlag)
	}
	m := master.New(ln, reg, b, *bincommon.HostFlag)
	log.Infof("hatch: master accepting workers on %s", addr)

	ctrl := control.New(m, reg)
	ctrl.Router().HandleFunc("/metrics", metrics.Exporter(reg, m)).Methods(http.MethodGet)

	restLn, restAddr := fnet.Listen("hatch-control", "8080")
	if restLn == nil {
		log.Fatalf("hatch: failed to listen for the control surface on :8080")
	}
	log.Infof("hatch: control surface listening on %s", restAddr)
	go func() {
		if err := http.Serve(restLn, ctrl.Handler()); err != nil {
			log.Errf("hatch: control surface stopped: %v", err)
		}
	}()

	waitForShutdown(b)
}

// runWorker dials the configured master, builds the example fleet
// against the instrumented client, and drives the worker/stats
// reporter loops until the connection is lost or the process is
// killed.
func runWorker() {
	if *bincommon.MasterHostFlag == "" {
		cli.ErrUsage("Error: -master-host is required in worker mode")
	}
	reg := stats.NewRegistry()
	reg.SetGlobalMaxRequests(bincommon.GlobalMaxRequestsFlag.Get())
	b := bus.New()

	client := newInstrumentedClient(reg, b)
	classes, err := demo.Classes(client, *bincommon.HostFlag, *bincommon.MinWaitFlag, *bincommon.MaxWaitFlag)
	if err != nil {
		log.Fatalf("hatch: %v", err)
	}
	if err := userclass.Validate(classes); err != nil {
		log.Fatalf("hatch: %v", err)
	}
	runner := localrunner.New(classes, *bincommon.HatchRateFlag, 0, reg, b)
	runner.WarmUp(context.Background(), client, "/", warmUpConcurrency)

	hostPort := fmt.Sprintf("%s:%s", *bincommon.MasterHostFlag, *bincommon.MasterPortFlag)
	conn, err := socket.Dial(hostPort)
	if err != nil {
		log.Fatalf("hatch: dialing master at %s: %v", hostPort, err)
	}
	w := worker.New(conn, runner, reg, b)
	log.Infof("hatch: worker %s connected to master %s", w.ClientID, hostPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil {
		log.Errf("hatch: worker stopped: %v", err)
	}
}

// runLocal runs the example fleet directly against -host, with no
// master/worker RPC at all: it hatches -clients users, blocks until
// SIGINT or SIGTERM arrives, then stops every user.
func runLocal() {
	if *bincommon.HostFlag == "" {
		cli.ErrUsage("Error: -host is required in local mode")
	}
	reg := stats.NewRegistry()
	reg.SetGlobalMaxRequests(bincommon.GlobalMaxRequestsFlag.Get())
	b := bus.New()

	client := newInstrumentedClient(reg, b)
	classes, err := demo.Classes(client, *bincommon.HostFlag, *bincommon.MinWaitFlag, *bincommon.MaxWaitFlag)
	if err != nil {
		log.Fatalf("hatch: %v", err)
	}
	if err := userclass.Validate(classes); err != nil {
		log.Fatalf("hatch: %v", err)
	}
	runner := localrunner.New(classes, *bincommon.HatchRateFlag, *bincommon.ClientsFlag, reg, b)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.WarmUp(ctx, client, "/", warmUpConcurrency)
	log.Infof("hatch: hatching %d users at %.1f/s against %s", *bincommon.ClientsFlag, *bincommon.HatchRateFlag, *bincommon.HostFlag)
	go runner.StartHatching(ctx, *bincommon.ClientsFlag, *bincommon.HatchRateFlag, true)

	<-ctx.Done()
	runner.Stop()
}

// waitForShutdown blocks until SIGINT/SIGTERM, then fires quitting so
// any in-process listeners (none, for a bare master) get a chance to
// react before the process exits.
func waitForShutdown(b *bus.Bus) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	b.Fire(bus.Quitting)
	log.Infof("hatch: shutting down")
}
