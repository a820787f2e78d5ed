// Package httpclient is the instrumented HTTP client adapter (spec
// §4.3's out-of-core collaborator): user tasks issue requests through
// it, and every call feeds the shared stats registry and event bus
// exactly the way spec §4.3/§5 describes, including the global
// request-ceiling backpressure that raises user.InterruptUser once
// tripped.
//
// fhttp/http_client.go's HTTPOptions supplies the request-shaping
// fields this package narrows down to (method override, payload,
// timeout, TLS); fhttp/httprunner.go supplies the time-around-request
// idiom. Unlike fhttp's Fetcher, which wraps a raw-socket fast client
// tuned for load generation against a single fixed target, user tasks
// here address arbitrary endpoints during a run, so the client wraps
// the standard library's net/http.Client instead; ftls.NewCredentials
// supplies its TLS config. WarmUp replaces fhttp/httprunner.go's
// hand-rolled errgroup type with golang.org/x/sync/errgroup for the
// same pre-run connection-pool priming.
package httpclient // import "github.com/hatchrun/hatch/httpclient"

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hatchrun/hatch/bus"
	"github.com/hatchrun/hatch/ftls"
	"github.com/hatchrun/hatch/stats"
	"github.com/hatchrun/hatch/user"
)

// Options configures a Client. Host is the base URL every relative
// request path is resolved against (spec §4.1's UserClass.host).
type Options struct {
	Host    string
	Timeout time.Duration

	// TLS, when non-nil, is used as-is. CertFile/KeyFile/CAFile build
	// one via ftls.NewCredentials if TLS is nil and any are set.
	TLS      *tls.Config
	CertFile string
	KeyFile  string
	CAFile   string
}

// Client is the instrumented HTTP client user tasks call into. It
// resolves every path against the host given in Options; cmd/hatch
// builds one and shares it across all user classes.
type Client struct {
	host  string
	hc    *http.Client
	stats *stats.Registry
	bus   *bus.Bus
}

// New builds a Client. reg/b are the shared registry and bus every
// other core component reads and writes, per spec §2's data flow.
func New(opts Options, reg *stats.Registry, b *bus.Bus) (*Client, error) {
	tlsConfig := opts.TLS
	if tlsConfig == nil && (opts.CertFile != "" || opts.KeyFile != "" || opts.CAFile != "") {
		var err error
		tlsConfig, err = ftls.NewCredentials(true, opts.CertFile, opts.KeyFile, opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("httpclient: building TLS config: %w", err)
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &Client{
		host: opts.Host,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		stats: reg,
		bus:   b,
	}, nil
}

// Get issues a GET against path, resolved against the client's host.
// name, when non-empty, overrides path as the stats/bus grouping key
// (spec §9's S4 name-override behavior).
func (c *Client) Get(ctx context.Context, path, name string) (*http.Response, []byte, error) {
	return c.Do(ctx, http.MethodGet, path, nil, name)
}

// Post issues a POST with body against path.
func (c *Client) Post(ctx context.Context, path string, body []byte, name string) (*http.Response, []byte, error) {
	return c.Do(ctx, http.MethodPost, path, body, name)
}

// Do issues an HTTP request and reports its outcome on the stats
// registry and event bus (spec §4.3): success logs the response time
// and fires request_success(name, response_time_ms, length); failure
// (including a status of 400 or above, per the original's catch_response=false
// default) logs an error and fires request_failure(name,
// response_time_ms, err).
//
// Before issuing the request, Do checks the registry's global request
// ceiling (spec §4.3/§5/§9's S6): once tripped, it does not perform the
// request at all and instead returns user.InterruptUser so the calling
// task unwinds and the user runtime exits its loop cleanly.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, name string) (*http.Response, []byte, error) {
	if c.stats != nil && c.stats.ExceedsGlobalMaxRequests() {
		return nil, nil, user.NewInterrupt()
	}
	statName := name
	if statName == "" {
		statName = path
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("httpclient: building request: %w", err)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		c.reportFailure(statName, method, elapsedMs, err)
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.reportFailure(statName, method, elapsedMs, readErr)
		return resp, data, readErr
	}
	if resp.StatusCode >= 400 {
		statusErr := fmt.Errorf("httpclient: %s %s: status %d", method, path, resp.StatusCode)
		c.reportFailure(statName, method, elapsedMs, statusErr)
		return resp, data, statusErr
	}

	c.reportSuccess(statName, method, elapsedMs, len(data))
	return resp, data, nil
}

// WarmUp fires concurrency concurrent GETs against path before a run's
// first hatch, so the connection pool has already dialed (and, for
// https hosts, handshaken) before real users start ramping up — a
// cold first connection would otherwise show up as inflated latency
// on whichever user happens to hit it first. Grounded on
// fhttp/httprunner.go's pre-run warmup phase, which hand-rolled an
// errgroup-shaped type for the same fan-out/join; this uses the real
// golang.org/x/sync/errgroup instead. Every probe still goes through
// Do, so a warmup failure reports through the usual stats/bus path
// too.
func (c *Client) WarmUp(ctx context.Context, path string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			_, _, err := c.Get(gctx, path, "")
			return err
		})
	}
	return g.Wait()
}

func (c *Client) reportSuccess(name, method string, elapsedMs float64, length int) {
	if c.stats != nil {
		c.stats.Log(name, method, elapsedMs)
	}
	if c.bus != nil {
		c.bus.Fire(bus.RequestSuccess, name, elapsedMs, length)
	}
}

func (c *Client) reportFailure(name, method string, elapsedMs float64, err error) {
	if c.stats != nil {
		c.stats.LogError(name, method, err)
	}
	if c.bus != nil {
		c.bus.Fire(bus.RequestFailure, name, elapsedMs, err)
	}
}
