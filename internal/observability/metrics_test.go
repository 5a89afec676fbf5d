package observability

import (
	"context"
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

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("admin_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "admin_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 1 {
		t.Fatalf("admin_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Watch", "Unavailable")); got != 1 {
		t.Fatalf("admin_requests_total error label = %v, want 1", got)
	}
}

func TestRecordSlotUpdatesCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.RecordSlot(1, 10, 3, 0, false)
	collector.RecordSlot(2, 9, 4, 2, false)
	collector.RecordSlot(3, 9, 4, 1, true)

	if got := testutil.ToFloat64(collector.SlotsProcessed); got != 3 {
		t.Fatalf("engine_slots_processed_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.RemapsTotal); got != 3 {
		t.Fatalf("engine_remappings_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.InconsistenciesTotal); got != 1 {
		t.Fatalf("engine_hierarchy_inconsistencies_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SlotNodes); got != 9 {
		t.Fatalf("engine_slot_nodes = %v, want 9", got)
	}
	if got := testutil.ToFloat64(collector.SlotDomains); got != 4 {
		t.Fatalf("engine_slot_domains = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.SlotRemaps); got != 1 {
		t.Fatalf("engine_slot_remappings = %v, want 1", got)
	}
}

func TestRecordEmissionAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.RecordEmission(3, 14)
	collector.RecordEmission(2, 6)

	if got := testutil.ToFloat64(collector.DirectivesTotal); got != 5 {
		t.Fatalf("engine_directives_emitted_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.FlowRulesTotal); got != 20 {
		t.Fatalf("engine_flow_rules_emitted_total = %v, want 20", got)
	}
}

func TestMetricsHandlerExposesEngineSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	collector.RecordSlot(1, 12, 3, 2, false)
	collector.RecordEmission(3, 14)
	collector.ObserveSlotDuration(5 * time.Millisecond)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"admin_requests_total",
		"admin_request_duration_seconds",
		"engine_slots_processed_total",
		"engine_remappings_total",
		"engine_directives_emitted_total",
		"engine_flow_rules_emitted_total",
		"engine_slot_nodes",
		"engine_slot_domains",
		"engine_slot_remappings",
		"engine_slot_processing_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}

	if count := histogramSampleCount(t, reg, "engine_slot_processing_duration_seconds", nil); count != 1 {
		t.Fatalf("engine_slot_processing_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestNewEngineCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector (first): %v", err)
	}
	first.RecordSlot(1, 5, 2, 0, false)

	second, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector (second): %v", err)
	}
	second.RecordSlot(2, 5, 2, 0, false)

	if got := testutil.ToFloat64(second.SlotsProcessed); got != 2 {
		t.Fatalf("engine_slots_processed_total after reuse = %v, want 2", got)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		full        string
		wantService string
		wantMethod  string
	}{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"/Health/Check", "Health", "Check"},
		{"garbage", "unknown", "unknown"},
		{"", "unknown", "unknown"},
	}
	for _, tc := range cases {
		service, method := SplitMethod(tc.full)
		if service != tc.wantService || method != tc.wantMethod {
			t.Fatalf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tc.full, service, method, tc.wantService, tc.wantMethod)
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
