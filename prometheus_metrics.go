package polystore

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "polystore"

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, a fresh registry is created
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(key, subsystem, name, help string, labels ...string) {
	p.counters[key] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func (p *PrometheusMetrics) histogram(key, subsystem, name, help string, buckets []float64, labels ...string) {
	p.histograms[key] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// registerDefaultMetrics registers all standard router metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	// Operation outcomes
	p.counter(MetricStoreSuccess, "store", "success_total", "Stores that persisted the payload", "backend")
	p.counter(MetricStoreError, "store", "errors_total", "Stores that failed", "kind")
	p.counter(MetricRetrieveSuccess, "retrieve", "success_total", "Successful retrievals", "source")
	p.counter(MetricRetrieveError, "retrieve", "errors_total", "Failed retrievals", "kind")
	p.counter(MetricDeleteSuccess, "delete", "success_total", "Successful deletions", "backend")
	p.counter(MetricDeleteError, "delete", "errors_total", "Failed deletions", "kind")
	p.counter(MetricUnauthorized, "access", "unauthorized_total", "Owner mismatches on retrieve or delete")

	// Routing
	p.counter(MetricRouteDecision, "route", "decisions_total", "Routing decisions by recommended and applied backend", "recommended", "applied")
	p.counter(MetricRouteFallback, "route", "fallbacks_total", "SQL writes redirected to the document backend")
	p.counter(MetricRouteForced, "route", "forced_total", "Stores with a caller-forced backend", "backend")

	// Backends
	p.counter(MetricBackendOps, "backend", "operations_total", "Total number of backend operations", "operation", "backend")
	p.counter(MetricBackendErrors, "backend", "errors_total", "Total number of backend errors", "operation", "backend")
	p.counter(MetricDirectoryErrors, "directory", "errors_total", "Directory failures", "operation")
	p.counter(MetricRepairRepaired, "repair", "repaired_total", "Directory entries rebuilt by repair")

	// Cache
	p.counter(MetricCacheHits, "cache", "hits_total", "Total number of cache hits")
	p.counter(MetricCacheMisses, "cache", "misses_total", "Total number of cache misses")
	p.counter(MetricCacheInvalidated, "cache", "invalidations_total", "Cache entries invalidated on delete")

	// Timing histograms
	p.histogram(MetricBackendLatency, "backend", "operation_duration_seconds", "Backend operation duration in seconds", prometheus.DefBuckets, "operation", "backend")
	p.histogram(MetricAnalyzeDuration, "analyze", "duration_seconds", "Analysis duration in seconds", []float64{.0001, .0005, .001, .005, .01, .05, .1})
	p.histogram(MetricStoreDuration, "store", "duration_seconds", "Store duration in seconds", prometheus.DefBuckets)
	p.histogram(MetricRetrieveDuration, "retrieve", "duration_seconds", "Retrieve duration in seconds", prometheus.DefBuckets)
	p.histogram(MetricDeleteDuration, "delete", "duration_seconds", "Delete duration in seconds", prometheus.DefBuckets)
	p.histogram(MetricListDuration, "list", "duration_seconds", "List duration in seconds", prometheus.DefBuckets)
	p.histogram(MetricListResults, "list", "results", "Number of directory entries returned by list", []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000})
	p.histogram(MetricConfidence, "route", "confidence_percent", "Confidence of routing decisions", []float64{50, 55, 60, 65, 70, 75, 80, 90, 100})
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      dynamicName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      dynamicName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      dynamicName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// dynamicName turns a dotted metric name into a valid Prometheus name
func dynamicName(name string) string {
	name = strings.TrimPrefix(name, metricsNamespace+".")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
