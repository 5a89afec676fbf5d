package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// EngineCollector bundles the Prometheus metrics for the slot engine
// and its admin surface, and provides helpers to wire them into gRPC
// servers and HTTP handlers.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	SlotsProcessed       prometheus.Counter
	RemapsTotal          prometheus.Counter
	InconsistenciesTotal prometheus.Counter
	DirectivesTotal      prometheus.Counter
	FlowRulesTotal       prometheus.Counter

	SlotNodes    prometheus.Gauge
	SlotDomains  prometheus.Gauge
	SlotRemaps   prometheus.Gauge
	SlotDuration prometheus.Histogram
}

// NewEngineCollector registers the engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Collectors already registered by a previous instance are reused.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_requests_total",
		Help: "Total number of handled admin RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "admin_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admin_request_duration_seconds",
		Help:    "Admin RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "admin_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	slots, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_slots_processed_total",
		Help: "Cumulative number of completed slots, including flagged ones.",
	}), "engine_slots_processed_total")
	if err != nil {
		return nil, err
	}
	remaps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_remappings_total",
		Help: "Cumulative number of controller remappings detected across the run.",
	}), "engine_remappings_total")
	if err != nil {
		return nil, err
	}
	inconsistencies, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_hierarchy_inconsistencies_total",
		Help: "Cumulative number of slots whose hierarchy failed validation.",
	}), "engine_hierarchy_inconsistencies_total")
	if err != nil {
		return nil, err
	}
	directives, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_directives_emitted_total",
		Help: "Cumulative number of per-domain flow directives handed to the control plane.",
	}), "engine_directives_emitted_total")
	if err != nil {
		return nil, err
	}
	flowRules, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_flow_rules_emitted_total",
		Help: "Cumulative number of flow rules inside emitted directives.",
	}), "engine_flow_rules_emitted_total")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_slot_nodes",
		Help: "Number of nodes present in the most recent slot.",
	}), "engine_slot_nodes")
	if err != nil {
		return nil, err
	}
	domains, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_slot_domains",
		Help: "Number of distinct nonzero domains in the most recent slot.",
	}), "engine_slot_domains")
	if err != nil {
		return nil, err
	}
	slotRemaps, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_slot_remappings",
		Help: "Number of remappings detected in the most recent slot.",
	}), "engine_slot_remappings")
	if err != nil {
		return nil, err
	}
	slotDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_slot_processing_duration_seconds",
		Help:    "Wall time spent processing one slot through load, detect, resolve, emit, and install.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	slotDuration, err = registerHistogram(reg, slotDuration, "engine_slot_processing_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:             gatherer,
		RPCRequests:          requests,
		RPCDurations:         durations,
		SlotsProcessed:       slots,
		RemapsTotal:          remaps,
		InconsistenciesTotal: inconsistencies,
		DirectivesTotal:      directives,
		FlowRulesTotal:       flowRules,
		SlotNodes:            nodes,
		SlotDomains:          domains,
		SlotRemaps:           slotRemaps,
		SlotDuration:         slotDuration,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *EngineCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordSlot satisfies the runner's metrics recorder interface: it is
// called once per completed slot with that slot's statistics.
func (c *EngineCollector) RecordSlot(slot, nodes, domains, remaps int, inconsistent bool) {
	if c == nil {
		return
	}
	if c.SlotsProcessed != nil {
		c.SlotsProcessed.Inc()
	}
	if c.RemapsTotal != nil && remaps > 0 {
		c.RemapsTotal.Add(float64(remaps))
	}
	if c.InconsistenciesTotal != nil && inconsistent {
		c.InconsistenciesTotal.Inc()
	}
	if c.SlotNodes != nil {
		c.SlotNodes.Set(float64(nodes))
	}
	if c.SlotDomains != nil {
		c.SlotDomains.Set(float64(domains))
	}
	if c.SlotRemaps != nil {
		c.SlotRemaps.Set(float64(remaps))
	}
}

// RecordEmission counts one slot's emitter output.
func (c *EngineCollector) RecordEmission(directives, flowRules int) {
	if c == nil {
		return
	}
	if c.DirectivesTotal != nil {
		c.DirectivesTotal.Add(float64(directives))
	}
	if c.FlowRulesTotal != nil {
		c.FlowRulesTotal.Add(float64(flowRules))
	}
}

// ObserveSlotDuration records the wall time spent on one slot.
func (c *EngineCollector) ObserveSlotDuration(d time.Duration) {
	if c == nil || c.SlotDuration == nil {
		return
	}
	c.SlotDuration.Observe(d.Seconds())
}

// SplitMethod parses a fully-qualified gRPC method name into service
// and method components. It tolerates empty strings and partial paths,
// returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
