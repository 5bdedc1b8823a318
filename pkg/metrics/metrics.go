package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecordOperation records a catalog operation
func (r *Registry) RecordOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.OperationsTotal.WithLabelValues(operation, status).Inc()
	r.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLookup records where a lookup was answered and how many index
// records the binary search read (0 when the index was not consulted)
func (r *Registry) RecordLookup(source string, probes int64) {
	r.LookupSource.WithLabelValues(source).Inc()
	if probes > 0 {
		r.IndexProbes.Observe(float64(probes))
	}
}

// RecordCache records a value cache hit or miss
func (r *Registry) RecordCache(hit bool) {
	if hit {
		r.CacheHits.Inc()
	} else {
		r.CacheMisses.Inc()
	}
}

// RecordMerge records a completed merge
func (r *Registry) RecordMerge(kind string, written, replaced int, reclaimed int64) {
	r.MergesTotal.WithLabelValues(kind).Inc()
	r.MergeRecordsWritten.Add(float64(written))
	r.MergeRecordsDropped.Add(float64(replaced))
	if reclaimed > 0 {
		r.CompactionReclaimed.Add(float64(reclaimed))
	}
}

// UpdateSizes sets the structure size gauges
func (r *Registry) UpdateSizes(bufferEntries, indexRecords int, valueBytes, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BufferEntries.Set(float64(bufferEntries))
	r.IndexRecords.Set(float64(indexRecords))
	r.ValueStoreBytes.Set(float64(valueBytes))
	r.Generation.Set(float64(generation))
}

// WriteTextfile writes all metrics in the Prometheus text format, for
// collection by the node exporter textfile collector
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
