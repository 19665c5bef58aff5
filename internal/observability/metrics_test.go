package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMatrixCollectorRecordsModelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMatrixCollector(reg)
	if err != nil {
		t.Fatalf("NewMatrixCollector: %v", err)
	}

	collector.SetSectionCounts(7, 3)
	collector.SetEntityCounts(2, 1)
	collector.ObserveEvent("entity_online", 2*time.Millisecond)
	collector.ObserveEvent("entity_online", time.Millisecond)
	collector.IncRecomputation("ok")
	collector.IncRecomputation("unavailable")
	collector.IncRecomputation("ok")
	collector.AddCellNotifications(4)
	collector.AddCellNotifications(0)
	collector.ObserveTimelineStep("link", nil)
	collector.ObserveTimelineStep("link", errors.New("boom"))
	collector.SetTimelineProgress(1500*time.Millisecond, 3)

	if got := testutil.ToFloat64(collector.TalkerSections); got != 7 {
		t.Fatalf("matrix_talker_sections = %v, want 7", got)
	}
	if got := testutil.ToFloat64(collector.Entities.WithLabelValues("listener")); got != 1 {
		t.Fatalf("matrix_entities{side=listener} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Events.WithLabelValues("entity_online")); got != 2 {
		t.Fatalf("matrix_events_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Recomputations.WithLabelValues("ok")); got != 2 {
		t.Fatalf("matrix_recomputations_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.CellNotifications); got != 4 {
		t.Fatalf("matrix_cell_notifications_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.TimelineStepsApplied.WithLabelValues("link", "error")); got != 1 {
		t.Fatalf("matrix_timeline_steps_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.TimelineElapsed); got != 1.5 {
		t.Fatalf("matrix_timeline_elapsed_seconds = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(collector.TimelinePending); got != 3 {
		t.Fatalf("matrix_timeline_pending_steps = %v, want 3", got)
	}
	if count := histogramSampleCount(t, reg, "matrix_event_duration_seconds", map[string]string{"kind": "entity_online"}); count != 2 {
		t.Fatalf("matrix_event_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNewMatrixCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMatrixCollector(reg)
	if err != nil {
		t.Fatalf("first NewMatrixCollector: %v", err)
	}
	second, err := NewMatrixCollector(reg)
	if err != nil {
		t.Fatalf("second NewMatrixCollector: %v", err)
	}
	second.IncRecomputation("error")
	if got := testutil.ToFloat64(first.Recomputations.WithLabelValues("error")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}

	clash := prometheus.NewRegistry()
	clash.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "matrix_events_total", Help: "wrong type"}))
	if _, err := NewMatrixCollector(clash); err == nil {
		t.Fatalf("expected error for incompatible collector")
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *MatrixCollector
	c.SetSectionCounts(1, 1)
	c.ObserveEvent("refresh_all", time.Millisecond)
	c.IncRecomputation("ok")
	c.AddCellNotifications(3)
	c.ObserveTimelineStep("link", nil)
	c.SetTimelineProgress(time.Second, 1)
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMatrixCollector(reg)
	if err != nil {
		t.Fatalf("NewMatrixCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("matrix_grpc_requests_total{OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("matrix_grpc_requests_total{NotFound} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "matrix_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("matrix_grpc_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesMatrixGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMatrixCollector(reg)
	if err != nil {
		t.Fatalf("NewMatrixCollector: %v", err)
	}
	collector.SetSectionCounts(11, 5)
	collector.SetEntityCounts(2, 1)
	collector.ObserveEvent("gptp_changed", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"matrix_talker_sections 11",
		"matrix_listener_sections 5",
		`matrix_entities{side="talker"} 2`,
		`matrix_events_total{kind="gptp_changed"} 1`,
		"matrix_event_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in /metrics output:\n%s", want, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/grpc.health.v1.Health/Watch", "Health", "Watch"},
		{"Health/Check", "Health", "Check"},
		{"", "unknown", "unknown"},
		{"/bare", "unknown", "unknown"},
	}
	for _, tc := range cases {
		service, method := SplitMethod(tc.in)
		if service != tc.service || method != tc.method {
			t.Fatalf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, service, method, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
