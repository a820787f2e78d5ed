// Copyright 2023 Fortio Authors
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

// Package metrics exports the fleet's Prometheus text-format metrics
// (SPEC_FULL §6's metrics supplement): fleet-wide user/request/failure
// counters and RPS, plus a per-worker CPU gauge sourced from each
// worker's periodic stats report.
package metrics // import "github.com/hatchrun/hatch/metrics"

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"

	"fortio.org/log"

	"github.com/hatchrun/hatch/master"
	"github.com/hatchrun/hatch/stats"
)

// Exporter writes the fleet's gauges/counters to w in Prometheus text
// exposition format. m is optional: a worker-only process (no master
// running locally) still exports the process-wide gauges below it.
func Exporter(reg *stats.Registry, m *master.Master) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.LogVf("metrics: serving %s", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeGauge(w, "hatch_goroutines", "Current number of goroutines", "gauge", float64(runtime.NumGoroutine()))

		if reg != nil {
			writeCounter(w, "hatch_requests_total", "Total requests logged across the fleet", float64(reg.TotalNumRequests()))
			writeGauge(w, "hatch_rps", "Current fleet-wide requests per second", "gauge", reg.TotalRps())
			var failures int64
			for _, e := range reg.Entries() {
				failures += e.Snapshot().NumFailures
			}
			writeCounter(w, "hatch_failures_total", "Total failed requests across the fleet", float64(failures))
		}

		if m != nil {
			writeGauge(w, "hatch_users_total", "Current fleet-wide simulated user count", "gauge", float64(m.UserCount()))
			for _, wk := range m.Workers() {
				fmt.Fprintf(w, "hatch_worker_cpu_percent{worker=%q} %s\n", wk.ID, strconv.FormatFloat(wk.CPUPercent, 'f', -1, 64))
			}
		}
	}
}

func writeGauge(w io.Writer, name, help, typ string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %s\n",
		name, help, name, typ, name, strconv.FormatFloat(value, 'f', -1, 64))
}

func writeCounter(w io.Writer, name, help string, value float64) {
	writeGauge(w, name, help, "counter", value)
}
