package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	fn     func() float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// SetFunc makes the gauge sample fn on every read instead of holding a
// stored value. Used for sizes owned elsewhere, like the image store.
func (g *Gauge) SetFunc(fn func() float64) {
	g.mu.Lock()
	g.fn = fn
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fn != nil {
		return g.fn()
	}
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	// counts are per-bucket; the writer accumulates them into the
	// cumulative form Prometheus expects.
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text exposition.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all metrics in Prometheus text format.
func (r *MetricsRegistry) WritePrometheus(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.counters {
		c.mu.Lock()
		writeScalar(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, g := range r.gauges {
		writeScalar(w, g.name, "gauge", g.help, g.labels, g.Value())
	}

	for _, h := range r.histos {
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func writeScalar(w http.ResponseWriter, name, metricType, help string, labels map[string]string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), formatFloat(value))
}

func writeHistogram(w http.ResponseWriter, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), cumulative)
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.count)
	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + `="` + labels[k] + `"`
	}
	return out + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ConnectorMetrics contains all connector-specific metrics.
type ConnectorMetrics struct {
	Registry *MetricsRegistry

	// Tool metrics
	ToolCallsTotal  *Counter
	ToolErrorsTotal *Counter
	ToolDuration    *Histogram

	// Search metrics
	SearchesTotal     *Counter
	SearchEmptyTotal  *Counter
	SearchResultCount *Histogram

	// Image metrics
	UploadsTotal     *Counter
	UploadBytesTotal *Counter
	ImagesStored     *Gauge

	// Vertex metrics
	EmbedsTotal   *Counter
	EmbedDuration *Histogram
}

// NewConnectorMetrics creates the connector metrics set on a fresh registry.
func NewConnectorMetrics() *ConnectorMetrics {
	r := NewMetricsRegistry()
	return &ConnectorMetrics{
		Registry: r,

		ToolCallsTotal:  r.NewCounter("mcp_tool_calls_total", "Total MCP tool invocations", nil),
		ToolErrorsTotal: r.NewCounter("mcp_tool_errors_total", "Total MCP tool invocations that returned an error result", nil),
		ToolDuration:    r.NewHistogram("mcp_tool_duration_seconds", "MCP tool handler latency", nil, nil),

		SearchesTotal:    r.NewCounter("weaviate_searches_total", "Total search queries sent to Weaviate", nil),
		SearchEmptyTotal: r.NewCounter("weaviate_searches_empty_total", "Search queries that returned zero results", nil),
		SearchResultCount: r.NewHistogram("weaviate_search_results", "Distribution of search result counts", nil,
			[]float64{0, 1, 2, 5, 10, 20, 50, 100}),

		UploadsTotal:     r.NewCounter("images_uploaded_total", "Total images accepted into the store", nil),
		UploadBytesTotal: r.NewCounter("images_uploaded_bytes_total", "Total bytes of accepted images", nil),
		ImagesStored:     r.NewGauge("images_stored", "Images currently held in the store", nil),

		EmbedsTotal:   r.NewCounter("vertex_embeds_total", "Total Vertex image embedding calls", nil),
		EmbedDuration: r.NewHistogram("vertex_embed_duration_seconds", "Vertex embedding call latency", nil, nil),
	}
}
