// Package metrics collects process and pool metrics and serves them in the
// Prometheus text exposition format.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets (in seconds) suited to
// acquire latencies, from sub-millisecond hits to multi-second waits.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// desc is the name and help text shared by every metric kind.
type desc struct {
	name string
	help string
}

func (d desc) header(w io.Writer, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, kind)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	v atomic.Uint64
}

// NewCounter creates a counter registered in the default registry.
func NewCounter(name, help string) *Counter {
	c := &Counter{desc: desc{name, help}}
	defaultRegistry.register(name, c)
	return c
}

func (c *Counter) Inc() { c.v.Add(1) }
func (c *Counter) Add(n uint64) { c.v.Add(n) }
func (c *Counter) Value() uint64 { return c.v.Load() }

func (c *Counter) writeTo(w io.Writer) {
	c.header(w, "counter")
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	v atomic.Int64
}

// NewGauge creates a gauge registered in the default registry.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{desc: desc{name, help}}
	defaultRegistry.register(name, g)
	return g
}

func (g *Gauge) Set(n int64) { g.v.Store(n) }
func (g *Gauge) Inc() { g.v.Add(1) }
func (g *Gauge) Dec() { g.v.Add(-1) }
func (g *Gauge) Add(n int64) { g.v.Add(n) }
func (g *Gauge) Value() int64 { return g.v.Load() }

func (g *Gauge) writeTo(w io.Writer) {
	g.header(w, "gauge")
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

// family holds one series per value of a single label, typically the pool
// name.
type family[T int64 | uint64] struct {
	desc
	label  string
	mu     sync.RWMutex
	series map[string]T
}

func newFamily[T int64 | uint64](name, help, label string) family[T] {
	return family[T]{desc: desc{name, help}, label: label, series: make(map[string]T)}
}

func (f *family[T]) update(lv string, fn func(T) T) {
	f.mu.Lock()
	f.series[lv] = fn(f.series[lv])
	f.mu.Unlock()
}

// Value returns the series for lv, or zero when it does not exist.
func (f *family[T]) Value(lv string) T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.series[lv]
}

// Delete drops the series for lv.
func (f *family[T]) Delete(lv string) {
	f.mu.Lock()
	delete(f.series, lv)
	f.mu.Unlock()
}

func (f *family[T]) write(w io.Writer, kind string) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	f.header(w, kind)
	for _, lv := range slices.Sorted(maps.Keys(f.series)) {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", f.name, f.label, lv, f.series[lv])
	}
}

// GaugeVec is a family of gauges partitioned by one label.
type GaugeVec struct {
	family[int64]
}

// NewGaugeVec creates a labelled gauge family registered in the default registry.
func NewGaugeVec(name, help, label string) *GaugeVec {
	v := &GaugeVec{newFamily[int64](name, help, label)}
	defaultRegistry.register(name, v)
	return v
}

// Set sets the series for lv.
func (v *GaugeVec) Set(lv string, n int64) {
	v.update(lv, func(int64) int64 { return n })
}

func (v *GaugeVec) writeTo(w io.Writer) { v.write(w, "gauge") }

// CounterVec is a family of counters partitioned by one label.
type CounterVec struct {
	family[uint64]
}

// NewCounterVec creates a labelled counter family registered in the default registry.
func NewCounterVec(name, help, label string) *CounterVec {
	v := &CounterVec{newFamily[uint64](name, help, label)}
	defaultRegistry.register(name, v)
	return v
}

// Inc increments the series for lv.
func (v *CounterVec) Inc(lv string) { v.Add(lv, 1) }

// Add adds n to the series for lv.
func (v *CounterVec) Add(lv string, n uint64) {
	v.update(lv, func(cur uint64) uint64 { return cur + n })
}

func (v *CounterVec) writeTo(w io.Writer) { v.write(w, "counter") }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	desc
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a histogram registered in the default registry.
// buckets must be sorted in increasing order.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := newHistogram(name, help, buckets)
	defaultRegistry.register(name, h)
	return h
}

func newHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{desc: desc{name, help}, buckets: buckets, counts: make([]uint64, len(buckets))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	// Counts are cumulative, so every bucket at or above v is bumped.
	i, _ := slices.BinarySearch(h.buckets, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for ; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.header(w, "histogram")
	for i, b := range h.buckets {
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %g\n%s_count %d\n", h.name, h.sum, h.name, h.count)
}

// Timer measures elapsed time into a histogram.
type Timer struct {
	h     *Histogram
	start time.Time
}

// NewTimer starts a timer for h.
func NewTimer(h *Histogram) *Timer {
	return &Timer{h: h, start: time.Now()}
}

// ObserveDuration records the elapsed time in seconds and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.h != nil {
		t.h.Observe(d.Seconds())
	}
	return d
}

type metric interface {
	writeTo(w io.Writer)
}

// Registry holds metrics by name.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

var defaultRegistry = NewRegistry()

func (r *Registry) register(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// WriteTo writes every metric in name order, separated by blank lines.
func (r *Registry) WriteTo(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bw := bufio.NewWriter(w)
	for _, name := range slices.Sorted(maps.Keys(r.metrics)) {
		r.metrics[name].writeTo(bw)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		defaultRegistry.WriteTo(w)
	})
}

// Process-level metrics.
var (
	StartTime           = NewGauge("respool_start_time_seconds", "Unix timestamp when the daemon started")
	PoolsRegistered     = NewGauge("respool_pools_registered", "Number of pools registered with the manager")
	RateLimitRejections = NewCounter("respool_ratelimit_rejections_total", "Total requests rejected by rate limiting")
)

// RecordStartTime sets StartTime to now.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
