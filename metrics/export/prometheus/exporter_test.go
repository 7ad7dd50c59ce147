package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/phiguard"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSource struct {
	snapshot phiguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() phiguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func gather(t *testing.T, exp *PrometheusExporter) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := exp.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters:   map[phiguard.MetricID]uint64{},
			Histograms: map[phiguard.MetricID][]uint64{},
		},
	})

	if got := gather(t, exp); len(got) != 0 {
		t.Fatalf("expected no families for disabled metrics, got %d", len(got))
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters: map[phiguard.MetricID]uint64{
				phiguard.MetricAccessGranted: 7,
				phiguard.MetricAccessDenied:  2,
			},
			Histograms: map[phiguard.MetricID][]uint64{
				phiguard.MetricAccessCheckLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	families := gather(t, exp)

	granted := families["phiguard_access_granted_total"]
	if granted == nil || granted.GetType() != dto.MetricType_COUNTER {
		t.Fatalf("missing access_granted counter")
	}
	if got := granted.GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Fatalf("access_granted: expected 7, got %v", got)
	}

	if got := families["phiguard_audit_dropped_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("audit_dropped: expected 2, got %v", got)
	}

	hist := families["phiguard_access_check_latency_seconds"]
	if hist == nil || hist.GetType() != dto.MetricType_HISTOGRAM {
		t.Fatal("missing access check histogram")
	}
	h := hist.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
	}
	buckets := h.GetBucket()
	if len(buckets) != 7 {
		t.Fatalf("expected 7 finite buckets, got %d", len(buckets))
	}
	if buckets[0].GetUpperBound() != 0.005 || buckets[0].GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket %v", buckets[0])
	}
	if buckets[6].GetUpperBound() != 0.5 || buckets[6].GetCumulativeCount() != 28 {
		t.Fatalf("unexpected last finite bucket %v", buckets[6])
	}

	if _, ok := families["phiguard_session_validate_latency_seconds"]; ok {
		t.Fatal("histogram absent from snapshot must not be exported")
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: phiguard.MetricsSnapshot{
			Counters: map[phiguard.MetricID]uint64{phiguard.MetricSessionCreated: 4},
		},
	})

	rr := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "phiguard_session_created_total 4") {
		t.Fatalf("expected session_created counter in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "# TYPE phiguard_session_created_total counter") {
		t.Fatalf("expected TYPE line, got:\n%s", body)
	}
}
