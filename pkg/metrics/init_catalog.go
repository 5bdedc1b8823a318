package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initOperationMetrics() {
	r.OperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_operations_total",
			Help: "Total number of catalog operations",
		},
		[]string{"operation", "status"},
	)

	r.OperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_operation_duration_seconds",
			Help:    "Catalog operation duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0, 10.0},
		},
		[]string{"operation"},
	)
}

func (r *Registry) initSizeMetrics() {
	r.BufferEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_buffer_entries",
			Help: "Keys waiting in the write buffer",
		},
	)

	r.IndexRecords = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_index_records",
			Help: "Records in the persisted sorted index",
		},
	)

	r.ValueStoreBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_value_store_bytes",
			Help: "Size of the current value store file in bytes",
		},
	)

	r.Generation = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_generation",
			Help: "Current manifest generation",
		},
	)
}

func (r *Registry) initMergeMetrics() {
	r.MergesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_merges_total",
			Help: "Completed merges by kind (finish or compact)",
		},
		[]string{"kind"},
	)

	r.MergeRecordsWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_merge_records_written_total",
			Help: "Index records written by merges",
		},
	)

	r.MergeRecordsDropped = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_merge_records_replaced_total",
			Help: "Stale index records dropped because the buffer held a newer value",
		},
	)

	r.CompactionReclaimed = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_compaction_reclaimed_bytes_total",
			Help: "Value store bytes reclaimed by compaction",
		},
	)
}

func (r *Registry) initLookupMetrics() {
	r.IndexProbes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_index_probes",
			Help:    "Records read by one binary search",
			Buckets: prometheus.LinearBuckets(1, 4, 10),
		},
	)

	r.CacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_hits_total",
			Help: "Lookups answered by the value cache",
		},
	)

	r.CacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_misses_total",
			Help: "Lookups that missed the value cache",
		},
	)

	r.LookupSource = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_lookups_total",
			Help: "Lookups by where the answer came from (cache, buffer, index, miss)",
		},
		[]string{"source"},
	)
}
