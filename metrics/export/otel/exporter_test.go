package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/phiguard"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot phiguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() phiguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := phiguard.MetricsSnapshot{
		Counters:   make(map[phiguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[phiguard.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
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

func findGauge(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func findSumWith(rm metricdata.ResourceMetrics, name string, kv attribute.KeyValue) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(kv.Key); ok && v.Emit() == kv.Value.Emit() {
					return dp.Value, true
				}
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
	reader, provider := newReader()
	meter := provider.Meter("phiguard-test")

	src := &fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters: map[phiguard.MetricID]uint64{
				phiguard.MetricAccessDenied: 3,
			},
			Histograms: map[phiguard.MetricID][]uint64{
				phiguard.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
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
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	if v, ok := findSum(rm, "phiguard_access_denied_total"); !ok || v != 3 {
		t.Fatalf("access_denied: expected 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findSum(rm, "phiguard_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit_dropped: expected 1, got %d (found=%v)", v, ok)
	}
	if v, ok := findGauge(rm, "phiguard_session_validate_latency_seconds_bucket_le_0_025"); !ok || v != 3 {
		t.Fatalf("validate bucket le 0.025: expected 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findGauge(rm, "phiguard_session_validate_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("validate count: expected 8, got %d (found=%v)", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("phiguard-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("phiguard-test")

	src := &fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters: map[phiguard.MetricID]uint64{
				phiguard.MetricSessionCreated: 1,
			},
			Histograms: map[phiguard.MetricID][]uint64{
				phiguard.MetricAccessCheckLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[phiguard.MetricSessionCreated] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestExporterReportsDecisionMixAndRatios(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("phiguard-test")

	src := &fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters: map[phiguard.MetricID]uint64{
				phiguard.MetricAccessGranted:     8,
				phiguard.MetricAccessDenied:      5,
				phiguard.MetricAccessError:       1,
				phiguard.MetricEmergencyAccess:   2,
				phiguard.MetricPHIDecrypt:        9,
				phiguard.MetricPHIDecryptFailure: 3,
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	for decision, want := range map[string]int64{"granted": 8, "denied": 5, "error": 1} {
		v, ok := findSumWith(rm, "phiguard_access_decisions_total", attribute.String("decision", decision))
		if !ok || v != want {
			t.Fatalf("decision %s: expected %d, got %d (found=%v)", decision, want, v, ok)
		}
	}
	if v, ok := findFloatGauge(rm, "phiguard_access_emergency_grant_ratio"); !ok || v != 0.25 {
		t.Fatalf("emergency ratio: expected 0.25, got %v (found=%v)", v, ok)
	}
	if v, ok := findFloatGauge(rm, "phiguard_phi_decrypt_failure_ratio"); !ok || v != 0.25 {
		t.Fatalf("decrypt failure ratio: expected 0.25, got %v (found=%v)", v, ok)
	}
}

func TestExporterRatiosZeroWithoutTraffic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("phiguard-test")

	exp, err := NewOTelExporterFromSource(meter, &fakeSource{})
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, name := range []string{"phiguard_access_emergency_grant_ratio", "phiguard_phi_decrypt_failure_ratio"} {
		if v, ok := findFloatGauge(rm, name); !ok || v != 0 {
			t.Fatalf("%s: expected 0, got %v (found=%v)", name, v, ok)
		}
	}
}
