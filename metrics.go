package polystore

import (
	"sync"
	"time"
)

// Metrics provides observability for routing operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing.
// Safe for concurrent use; read the maps through Counter and friends.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// TimingCount returns how many durations were recorded under name
func (m *InMemoryMetrics) TimingCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Timings[name])
}

// Common metric names
const (
	MetricAnalyzeDuration  = "polystore.analyze.duration"
	MetricStoreSuccess     = "polystore.store.success"
	MetricStoreError       = "polystore.store.error"
	MetricStoreDuration    = "polystore.store.duration"
	MetricRetrieveSuccess  = "polystore.retrieve.success"
	MetricRetrieveError    = "polystore.retrieve.error"
	MetricRetrieveDuration = "polystore.retrieve.duration"
	MetricDeleteSuccess    = "polystore.delete.success"
	MetricDeleteError      = "polystore.delete.error"
	MetricDeleteDuration   = "polystore.delete.duration"
	MetricListDuration     = "polystore.list.duration"
	MetricListResults      = "polystore.list.results"

	// Routing decisions
	MetricRouteDecision = "polystore.route.decision" // tags: recommended, applied
	MetricRouteFallback = "polystore.route.fallback"
	MetricRouteForced   = "polystore.route.forced"
	MetricConfidence    = "polystore.route.confidence"

	// Backends and directory
	MetricBackendOps       = "polystore.backend.ops"
	MetricBackendErrors    = "polystore.backend.errors"
	MetricBackendLatency   = "polystore.backend.latency"
	MetricDirectoryErrors  = "polystore.directory.errors"
	MetricUnauthorized     = "polystore.access.unauthorized"
	MetricCacheHits        = "polystore.cache.hits"
	MetricCacheMisses      = "polystore.cache.misses"
	MetricCacheInvalidated = "polystore.cache.invalidated"
	MetricRepairRepaired   = "polystore.repair.repaired"
)
