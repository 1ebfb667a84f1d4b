package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/oidcguard"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot oidcguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() oidcguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := oidcguard.MetricsSnapshot{
		Counters:      make(map[oidcguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[oidcguard.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[oidcguard.MetricID]time.Duration, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return sum.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func findFloatGauge(rm metricdata.ResourceMetrics, name string) (float64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[float64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newTestMeter()
	meter := provider.Meter("oidcguard-test")

	src := &fakeSource{
		snapshot: oidcguard.MetricsSnapshot{
			Counters: map[oidcguard.MetricID]uint64{
				oidcguard.MetricNonceConsumed: 3,
			},
			Histograms: map[oidcguard.MetricID][]uint64{
				oidcguard.MetricConsumeLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[oidcguard.MetricID]time.Duration{
				oidcguard.MetricConsumeLatency: 1500 * time.Millisecond,
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findSum(rm, "oidcguard_nonce_consumed_total"); !ok || v != 3 {
		t.Fatalf("expected nonce_consumed 3, got %d ok=%v", v, ok)
	}
	if v, ok := findSum(rm, "oidcguard_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("expected audit_dropped 1, got %d ok=%v", v, ok)
	}
	if v, ok := findFloatGauge(rm, "oidcguard_consume_latency_seconds_sum"); !ok || v != 1.5 {
		t.Fatalf("expected latency sum 1.5, got %v ok=%v", v, ok)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newTestMeter()
	meter := provider.Meter("oidcguard-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil guard, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newTestMeter()
	meter := provider.Meter("oidcguard-test")

	src := &fakeSource{
		snapshot: oidcguard.MetricsSnapshot{
			Counters: map[oidcguard.MetricID]uint64{
				oidcguard.MetricNonceIssued: 1,
			},
			Histograms: map[oidcguard.MetricID][]uint64{},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() { _ = exp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[oidcguard.MetricNonceIssued] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
