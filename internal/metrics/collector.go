// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for ZideeBot. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
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

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// family is one metric name with its samples, rendered as a block.
type family struct {
	name, help, kind string
	samples          []string
}

// Handler serves WriteText with the exposition content type.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := c.WriteText(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// WriteText writes every series in the Prometheus text format. Families are
// sorted by name and each family's samples are contiguous and sorted by label
// set, so scrapes are stable.
func (c *MetricsCollector) WriteText(w io.Writer) error {
	families := map[string]*family{}
	add := func(name, help, kind string, lines ...string) {
		f, ok := families[name]
		if !ok {
			f = &family{name: name, help: help, kind: kind}
			families[name] = f
		}
		f.samples = append(f.samples, lines...)
	}

	add("zideebot_uptime_seconds", "Time since start in seconds", "gauge",
		fmt.Sprintf("zideebot_uptime_seconds %d", int64(c.Uptime().Seconds())))
	c.counters.Range(func(_, v any) bool {
		ctr := v.(*Counter)
		add(ctr.name, ctr.help, "counter", sample(ctr.name, ctr.labels, strconv.FormatInt(ctr.Value(), 10)))
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		add(g.name, g.help, "gauge", sample(g.name, g.labels, strconv.FormatInt(g.Value(), 10)))
		return true
	})
	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool {
		if hists[i].name != hists[j].name {
			return hists[i].name < hists[j].name
		}
		return hists[i].labels < hists[j].labels
	})
	for _, h := range hists {
		add(h.name, h.help, "histogram", h.samples()...)
	}

	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		f := families[n]
		if f.kind != "histogram" {
			sort.Strings(f.samples)
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		for _, line := range f.samples {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// samples renders the cumulative buckets, always ending with +Inf, then
// _sum and _count.
func (h *Histogram) samples() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.buckets)+3)
	hasInf := false
	for _, b := range h.buckets {
		le := strconv.FormatFloat(b.le, 'g', -1, 64)
		if math.IsInf(b.le, 1) {
			le, hasInf = "+Inf", true
		}
		out = append(out, sample(h.name+"_bucket", joinLabels(h.labels, `le="`+le+`"`), strconv.FormatInt(b.count, 10)))
	}
	if !hasInf {
		out = append(out, sample(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`), strconv.FormatInt(h.count, 10)))
	}
	out = append(out,
		sample(h.name+"_sum", h.labels, strconv.FormatFloat(h.sum, 'g', -1, 64)),
		sample(h.name+"_count", h.labels, strconv.FormatInt(h.count, 10)))
	return out
}

func sample(name, labels, value string) string {
	if labels == "" {
		return name + " " + value
	}
	return name + "{" + labels + "} " + value
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// Label renders key="value" with the value escaped for the text format.
func Label(key, value string) string {
	return key + `="` + labelEscaper.Replace(value) + `"`
}

// --- Pre-defined metrics used across the application ---

var (
	MessagesTotal     = Collector.Counter("zideebot_messages_total", "Total inbound messages dispatched", "")
	RepliesTotal      = Collector.Counter("zideebot_replies_total", "Total replies delivered", "")
	SendFailures      = Collector.Counter("zideebot_send_failures_total", "Total outbound sends that failed", "")
	QueuedTotal       = Collector.Counter("zideebot_queued_total", "Total messages deferred to the offline queue", "")
	AIRequestsTotal   = Collector.Counter("zideebot_ai_requests_total", "Total AI API requests", "")
	AIFallbacks       = Collector.Counter("zideebot_ai_fallbacks_total", "AI requests answered from offline texts", "")
	WeatherRequests   = Collector.Counter("zideebot_weather_requests_total", "Total weather API requests", "")
	VideoDownloads    = Collector.Counter("zideebot_video_downloads_total", "Completed video downloads", "")
	GroupActions      = Collector.Counter("zideebot_group_actions_total", "Executed group administration actions", "")
	GroupRejections   = Collector.Counter("zideebot_group_rejections_total", "Group actions rejected by a precondition", "")
	Connected         = Collector.Gauge("zideebot_whatsapp_connected", "1 while the WhatsApp session is connected", "")
	DashboardClients  = Collector.Gauge("zideebot_dashboard_clients", "Current dashboard socket clients", "")
	ReconnectAttempts = Collector.Counter("zideebot_reconnect_attempts_total", "WhatsApp reconnect attempts", "")

	AILatency = Collector.Histogram("zideebot_ai_latency_seconds", "AI request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
	DispatchLatency = Collector.Histogram("zideebot_dispatch_latency_seconds", "Time from receipt to reply, pacing included", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
)

// CommandCounter returns the per-command execution counter.
func CommandCounter(command string) *Counter {
	return Collector.Counter("zideebot_commands_total", "Executed commands by name", Label("command", command))
}

// QueueGauge returns the gauge tracking offline queue entries in one status.
func QueueGauge(status string) *Gauge {
	return Collector.Gauge("zideebot_queue_entries", "Offline queue entries by status", Label("status", status))
}
