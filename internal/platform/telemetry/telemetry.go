// Package telemetry keeps in-process metrics for the sandbox server and
// exposes them in the Prometheus text format. It records HTTP request
// metrics and the outcome of every simulation the server runs.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ehrsim/internal/domain/clinicsim"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are stored non-cumulative; cumulative counts are computed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

// counterVec is a family of counters keyed by one label value.
type counterVec struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterVec() *counterVec {
	return &counterVec{items: make(map[string]*int64)}
}

func (v *counterVec) add(label string, delta int64) {
	v.mu.RLock()
	p, ok := v.items[label]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if p, ok = v.items[label]; !ok {
			p = new(int64)
			v.items[label] = p
		}
		v.mu.Unlock()
	}
	atomic.AddInt64(p, delta)
}

func (v *counterVec) get(label string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if p, ok := v.items[label]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// snapshot returns the label values in sorted order with their counts.
func (v *counterVec) snapshot() ([]string, map[string]int64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	labels := make([]string, 0, len(v.items))
	values := make(map[string]int64, len(v.items))
	for k, p := range v.items {
		labels = append(labels, k)
		values[k] = atomic.LoadInt64(p)
	}
	sort.Strings(labels)
	return labels, values
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// requestDurationBuckets are in seconds.
var requestDurationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// simulationDurationBuckets are in seconds of wall time per run.
var simulationDurationBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// Outcome labels for simulations_total.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Provider holds every metric the server exports.
type Provider struct {
	activeRequests  int64
	requestDuration *histogram
	requests        *counterVec // by status class

	simulations        *counterVec // by outcome
	records            *counterVec // by record kind
	kernelSteps        int64
	simulationDuration *histogram
}

// NewProvider creates an empty metrics provider.
func NewProvider() *Provider {
	return &Provider{
		requestDuration:    newHistogram(requestDurationBuckets),
		requests:           newCounterVec(),
		simulations:        newCounterVec(),
		records:            newCounterVec(),
		simulationDuration: newHistogram(simulationDurationBuckets),
	}
}

// ObserveSimulation records one sandbox run. summary may be nil when the run
// failed before producing one.
func (p *Provider) ObserveSimulation(summary *clinicsim.Summary, elapsed time.Duration, err error) {
	p.simulationDuration.Observe(elapsed.Seconds())
	if err != nil {
		p.simulations.add(OutcomeFailed, 1)
	} else {
		p.simulations.add(OutcomeOK, 1)
	}
	if summary == nil {
		return
	}
	access := summary.AccessEvents.Emergency + summary.AccessEvents.Care
	p.records.add("appointment", int64(summary.Appointments.Created))
	p.records.add("encounter", int64(summary.Encounters))
	p.records.add("observation", int64(summary.Observations))
	p.records.add("access", int64(access))
	atomic.AddInt64(&p.kernelSteps, int64(summary.Kernel.Steps))
}

// Simulations returns the number of runs observed with the given outcome.
func (p *Provider) Simulations(outcome string) int64 { return p.simulations.get(outcome) }

// Records returns the number of records of kind produced across all runs.
func (p *Provider) Records(kind string) int64 { return p.records.get(kind) }

// MetricsMiddleware returns an Echo middleware that records request metrics.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.activeRequests, 1)
			start := time.Now()

			err := next(c)

			atomic.AddInt64(&p.activeRequests, -1)
			p.requestDuration.Observe(time.Since(start).Seconds())
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			p.requests.add(fmt.Sprintf("%dxx", status/100), 1)
			return err
		}
	}
}

// PrometheusHandler serves all metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", p.requestDuration)
		writeCounterVec(&b, "http_server_requests_total",
			"HTTP requests by status class.", "status", p.requests)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&p.activeRequests))

		writeCounterVec(&b, "simulations_total",
			"Sandbox simulations by outcome.", "outcome", p.simulations)
		writeCounterVec(&b, "simulated_records_total",
			"Records produced by sandbox simulations.", "kind", p.records)
		writeHistogram(&b, "simulation_duration_seconds",
			"Wall time of sandbox simulations in seconds.", p.simulationDuration)

		b.WriteString("# HELP simulation_kernel_steps_total Kernel steps executed by sandbox simulations.\n")
		b.WriteString("# TYPE simulation_kernel_steps_total counter\n")
		fmt.Fprintf(&b, "simulation_kernel_steps_total %d\n", atomic.LoadInt64(&p.kernelSteps))

		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeCounterVec(b *strings.Builder, name, help, label string, v *counterVec) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	labels, values := v.snapshot()
	for _, l := range labels {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, l, values[l])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.Count())
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, h.Count())
	b.WriteByte('\n')
}
