package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all catalog metrics
type Registry struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Structure sizes
	BufferEntries   prometheus.Gauge
	IndexRecords    prometheus.Gauge
	ValueStoreBytes prometheus.Gauge
	Generation      prometheus.Gauge

	// Merge metrics
	MergesTotal         *prometheus.CounterVec
	MergeRecordsWritten prometheus.Counter
	MergeRecordsDropped prometheus.Counter
	CompactionReclaimed prometheus.Counter

	// Lookup metrics
	IndexProbes  prometheus.Histogram
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	LookupSource *prometheus.CounterVec

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initOperationMetrics()
	r.initSizeMetrics()
	r.initMergeMetrics()
	r.initLookupMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
