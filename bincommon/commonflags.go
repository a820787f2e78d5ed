// Copyright 2018 Fortio Authors
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

// Package bincommon is the common flag handling shared by cmd/hatch's
// master/worker/local subcommands.
package bincommon

import (
	"flag"
	"strconv"
	"strings"
	"time"

	"fortio.org/dflag"

	"github.com/hatchrun/hatch/config"
)

var (
	// HostFlag is the target base URL user classes hit by default
	// (spec §6's declarative `host` attribute, CLI override).
	HostFlag = flag.String("host", "", "Target base `URL` user classes run against")
	// MinWaitFlag/MaxWaitFlag bound the think-time window between tasks
	// (spec §4.1's min_wait/max_wait).
	MinWaitFlag = flag.Duration("min-wait", time.Second, "Minimum wait between tasks")
	MaxWaitFlag = flag.Duration("max-wait", 2*time.Second, "Maximum wait between tasks")
	// HatchRateFlag/ClientsFlag seed a local or master start_hatching call
	// (spec §4.4/§4.5).
	HatchRateFlag = flag.Float64("hatch-rate", 1, "Number of simulated users to spawn per second")
	ClientsFlag   = flag.Int("clients", 1, "Number of simulated users to run")
	// MasterHostFlag/MasterPortFlag point a worker at its master (spec
	// §4.6's --master-host); MasterPortFlag also picks the port a master
	// listens its RPC transport on.
	MasterHostFlag = flag.String("master-host", "", "Master `host` to connect to (worker mode only)")
	MasterPortFlag = flag.String("master-port", "5557", "Master RPC `port` to connect to, or listen on")
	// HTTPTimeoutFlag bounds each request the instrumented client issues.
	HTTPTimeoutFlag = flag.Duration("timeout", 10*time.Second, "Connection and read timeout for the instrumented http client")
	// CertFlag/KeyFlag/CACertFlag configure the instrumented client's TLS
	// credentials for https:// hosts, via ftls.NewCredentials.
	CertFlag   = flag.String("cert", "", "`Path` to the client certificate file for TLS")
	KeyFlag    = flag.String("key", "", "`Path` to the key file matching -cert")
	CACertFlag = flag.String("cacert", "", "`Path` to a custom CA certificate file, empty uses the system CAs")

	// GlobalMaxRequestsFlag is the soft request ceiling (spec §4.3/§5's
	// global_max_requests). cmd/hatch copies its value into the registry
	// once at startup, so a later change to the flag does not reach a
	// registry that is already running. Its default routes through config.GlobalMaxRequests so a library
	// caller can override the shipped default before this flag is
	// registered, without depending on the flag package.
	GlobalMaxRequestsFlag = dflag.Flag("global-max-requests",
		dflag.New(config.GlobalMaxRequests.Get(), config.GlobalMaxRequests.Usage()))
	// PercentilesFlag is the comma separated percentile list the report
	// prints (e.g. "50,90,99"), dynamically tunable, defaulted the same
	// way through config.Percentiles.
	PercentilesFlag = dflag.Flag("percentiles",
		dflag.New(config.Percentiles.Get(), config.Percentiles.Usage()))
)

// Percentiles parses PercentilesFlag's current value into float64s,
// skipping any entry that doesn't parse (logged by the caller if it
// cares; this helper stays silent so it can be called from a hot
// report path).
func Percentiles() []float64 {
	parts := strings.Split(PercentilesFlag.Get(), ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
