package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.OperationsTotal == nil || r.OperationDuration == nil {
		t.Error("operation metrics not initialized")
	}
	if r.BufferEntries == nil || r.IndexRecords == nil || r.ValueStoreBytes == nil {
		t.Error("size metrics not initialized")
	}
	if r.MergesTotal == nil || r.IndexProbes == nil || r.LookupSource == nil {
		t.Error("merge or lookup metrics not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordOperation("insert", nil, time.Millisecond)
	r.RecordOperation("insert", nil, 2*time.Millisecond)
	r.RecordOperation("insert", errors.New("disk full"), time.Millisecond)

	success, err := r.OperationsTotal.GetMetricWithLabelValues("insert", "success")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if v := counterValue(t, success); v != 2 {
		t.Errorf("success counter = %v, want 2", v)
	}

	failed, _ := r.OperationsTotal.GetMetricWithLabelValues("insert", "error")
	if v := counterValue(t, failed); v != 1 {
		t.Errorf("error counter = %v, want 1", v)
	}
}

func TestRecordLookupAndCache(t *testing.T) {
	r := NewRegistry()

	r.RecordLookup("index", 12)
	r.RecordLookup("buffer", 0)
	r.RecordLookup("index", 3)
	r.RecordCache(true)
	r.RecordCache(false)
	r.RecordCache(false)

	index, _ := r.LookupSource.GetMetricWithLabelValues("index")
	if v := counterValue(t, index); v != 2 {
		t.Errorf("index lookups = %v, want 2", v)
	}

	var metric dto.Metric
	if err := r.IndexProbes.Write(&metric); err != nil {
		t.Fatalf("Failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 || metric.Histogram.GetSampleSum() != 15 {
		t.Errorf("probes histogram count=%d sum=%v", metric.Histogram.GetSampleCount(), metric.Histogram.GetSampleSum())
	}

	if v := counterValue(t, r.CacheHits); v != 1 {
		t.Errorf("cache hits = %v, want 1", v)
	}
	if v := counterValue(t, r.CacheMisses); v != 2 {
		t.Errorf("cache misses = %v, want 2", v)
	}
}

func TestRecordMergeAndSizes(t *testing.T) {
	r := NewRegistry()

	r.RecordMerge("finish", 10, 2, 0)
	r.RecordMerge("compact", 10, 0, 512)
	r.UpdateSizes(0, 10, 4096, 3)

	finish, _ := r.MergesTotal.GetMetricWithLabelValues("finish")
	if v := counterValue(t, finish); v != 1 {
		t.Errorf("finish merges = %v, want 1", v)
	}
	if v := counterValue(t, r.MergeRecordsWritten); v != 20 {
		t.Errorf("records written = %v, want 20", v)
	}
	if v := counterValue(t, r.CompactionReclaimed); v != 512 {
		t.Errorf("reclaimed = %v, want 512", v)
	}
	if v := gaugeValue(t, r.IndexRecords); v != 10 {
		t.Errorf("index records = %v, want 10", v)
	}
	if v := gaugeValue(t, r.Generation); v != 3 {
		t.Errorf("generation = %v, want 3", v)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRegistry()
	r.RecordOperation("get", nil, time.Microsecond)

	path := filepath.Join(t.TempDir(), "catalog.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), `catalog_operations_total{operation="get",status="success"} 1`) {
		t.Errorf("textfile missing operation counter:\n%s", data)
	}
}
