// Package metrics is a small Prometheus text-format collector for chatcast:
// intents handled, resolution failures, injection fallbacks, how pages were
// submitted and how long resolution takes.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewMetricsCollector()

// MetricsCollector holds counters, gauges and histograms keyed by name and
// label set.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has existed.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter only goes up.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge goes up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets. A +Inf bucket is
// always present.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records v.
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

// Since observes the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Label formats a single label pair for the labels argument.
func Label(name, value string) string {
	return name + `="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(value) + `"`
}

// Counter returns the counter for name and labels, creating it once.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns the gauge for name and labels, creating it once.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns the histogram for name and labels, creating it once
// with the given upper bounds.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// Handler serves the exposition text.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

// WriteTo renders every metric, sorted by name and labels so scrapes
// diff cleanly.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP chatcast_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE chatcast_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "chatcast_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	type scalar struct {
		name, help, labels string
		value              int64
	}
	render := func(kind string, items []scalar) {
		sort.Slice(items, func(i, j int) bool {
			if items[i].name != items[j].name {
				return items[i].name < items[j].name
			}
			return items[i].labels < items[j].labels
		})
		last := ""
		for _, it := range items {
			if it.name != last {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", it.name, it.help, it.name, kind)
				last = it.name
			}
			if it.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", it.name, it.labels, it.value)
			} else {
				fmt.Fprintf(&sb, "%s %d\n", it.name, it.value)
			}
		}
	}

	var counters, gauges []scalar
	c.counters.Range(func(_, v any) bool {
		ctr := v.(*Counter)
		counters = append(counters, scalar{ctr.name, ctr.help, ctr.labels, ctr.Value()})
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		gauges = append(gauges, scalar{g.name, g.help, g.labels, g.Value()})
		return true
	})
	render("counter", counters)
	render("gauge", gauges)

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool {
		return hists[i].name+hists[i].labels < hists[j].name+hists[j].labels
	})
	for _, h := range hists {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		sep := ""
		if h.labels != "" {
			sep = h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, sep, le, b.count)
		}
		suffix := ""
		if h.labels != "" {
			suffix = "{" + h.labels + "}"
		}
		fmt.Fprintf(&sb, "%s_count%s %d\n%s_sum%s %f\n", h.name, suffix, h.count, h.name, suffix, h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// --- chatcast metrics ---

var (
	PagesOpen = Collector.Gauge("chatcast_pages_open", "Chat pages with a running worker", "")

	ResolveLatency = Collector.Histogram("chatcast_resolve_seconds", "Snapshot plus resolution time in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2})
)

// IntentsTotal counts intents handled by page workers, by kind.
func IntentsTotal(kind string) *Counter {
	return Collector.Counter("chatcast_intents_total", "Intents handled by page workers", Label("kind", kind))
}

// ResolveFailures counts resolutions that found nothing, by role.
func ResolveFailures(role string) *Counter {
	return Collector.Counter("chatcast_resolve_failures_total", "Resolutions with no acceptable candidate", Label("role", role))
}

// InjectFallbacks counts overwrites after the editing command was refused
// or misbehaved.
var InjectFallbacks = Collector.Counter("chatcast_inject_fallbacks_total", "Direct text overwrites after insertText failed", "")

// Submissions counts submissions by method ("click" or "keyboard").
func Submissions(method string) *Counter {
	return Collector.Counter("chatcast_submissions_total", "Submissions by method", Label("method", method))
}

// IntentErrors counts intents that ended in an error, by kind.
func IntentErrors(kind string) *Counter {
	return Collector.Counter("chatcast_intent_errors_total", "Intents that ended in an error", Label("kind", kind))
}
