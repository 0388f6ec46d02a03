// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector. It outputs text/plain in Prometheus exposition format without
// requiring the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges, and histograms. Registration
// order is preserved in the rendered output.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	order      []string
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help}
	c.counters[name] = ctr
	c.order = append(c.order, name)
	return ctr
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	c.gauges[name] = g
	c.order = append(c.order, name)
	return g
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[name]; ok {
		return h
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	c.histograms[name] = h
	c.order = append(c.order, name)
	return h
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus
// text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP chatwork_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE chatwork_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "chatwork_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		names := append([]string(nil), c.order...)
		c.mu.Unlock()

		for _, name := range names {
			c.mu.Lock()
			ctr := c.counters[name]
			g := c.gauges[name]
			h := c.histograms[name]
			c.mu.Unlock()

			switch {
			case ctr != nil:
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			case g != nil:
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			case h != nil:
				h.mu.Lock()
				fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
				fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
				for _, b := range h.buckets {
					le := fmt.Sprintf("%g", b.le)
					if math.IsInf(b.le, 1) {
						le = "+Inf"
					}
					fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
				}
				fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
				fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
				h.mu.Unlock()
			}
		}

		fmt.Fprint(w, sb.String())
	}
}

// Pre-defined metrics used across the application.
var (
	MessagesSynced  = Collector.Counter("chatwork_messages_synced_total", "New messages surfaced by sync")
	PollTicks       = Collector.Counter("chatwork_poll_ticks_total", "Silent sync poll ticks executed")
	FetchErrors     = Collector.Counter("chatwork_fetch_errors_total", "Failed backend fetches")
	Reconnects      = Collector.Counter("chatwork_ws_reconnects_total", "Push channel reconnect attempts")
	DeletionsLogged = Collector.Counter("chatwork_deletions_logged_total", "Deleted messages recorded locally")
	PendingAlerts   = Collector.Gauge("chatwork_pending_alerts", "Current pending reply alerts")
	ConnectionUp    = Collector.Gauge("chatwork_ws_connected", "Push channel connected (1) or not (0)")

	FetchLatency = Collector.Histogram("chatwork_fetch_latency_seconds", "Backend fetch latency in seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
)
