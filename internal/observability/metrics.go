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

// MatrixCollector bundles Prometheus metrics describing a connection matrix
// and the host serving it. It satisfies core.MetricsRecorder.
type MatrixCollector struct {
	gatherer prometheus.Gatherer

	TalkerSections   prometheus.Gauge
	ListenerSections prometheus.Gauge
	Entities         *prometheus.GaugeVec

	Events               *prometheus.CounterVec
	EventDurations       *prometheus.HistogramVec
	Recomputations       *prometheus.CounterVec
	CellNotifications    prometheus.Counter
	TimelineStepsApplied *prometheus.CounterVec
	TimelineElapsed      prometheus.Gauge
	TimelinePending      prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewMatrixCollector registers matrix metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice on the same registry reuses the existing collectors.
func NewMatrixCollector(reg prometheus.Registerer) (*MatrixCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MatrixCollector{gatherer: gatherer}
	var err error

	if c.TalkerSections, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_talker_sections",
		Help: "Current number of talker sections (matrix rows in talker-major order).",
	}), "matrix_talker_sections"); err != nil {
		return nil, err
	}
	if c.ListenerSections, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_listener_sections",
		Help: "Current number of listener sections.",
	}), "matrix_listener_sections"); err != nil {
		return nil, err
	}
	if c.Entities, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matrix_entities",
		Help: "Current number of entities present on each matrix side.",
	}, []string{"side"}), "matrix_entities"); err != nil {
		return nil, err
	}

	if c.Events, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_events_total",
		Help: "Device-state events applied to the matrix, labeled by kind.",
	}, []string{"kind"}), "matrix_events_total"); err != nil {
		return nil, err
	}
	if c.EventDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matrix_event_duration_seconds",
		Help:    "Time spent applying one device-state event, including propagation.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"kind"}), "matrix_event_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Recomputations, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_recomputations_total",
		Help: "Intersection recomputations, labeled by result (ok, unavailable, error).",
	}, []string{"result"}), "matrix_recomputations_total"); err != nil {
		return nil, err
	}
	if c.CellNotifications, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matrix_cell_notifications_total",
		Help: "Cell-changed notifications delivered to observers.",
	}), "matrix_cell_notifications_total"); err != nil {
		return nil, err
	}
	if c.TimelineStepsApplied, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_timeline_steps_total",
		Help: "Scripted scenario steps replayed, labeled by action and outcome.",
	}, []string{"action", "outcome"}), "matrix_timeline_steps_total"); err != nil {
		return nil, err
	}
	if c.TimelineElapsed, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_timeline_elapsed_seconds",
		Help: "Simulated time replayed so far in the scenario timeline.",
	}), "matrix_timeline_elapsed_seconds"); err != nil {
		return nil, err
	}
	if c.TimelinePending, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_timeline_pending_steps",
		Help: "Scripted scenario steps not yet reached by the replay clock.",
	}), "matrix_timeline_pending_steps"); err != nil {
		return nil, err
	}

	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "matrix_grpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matrix_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "matrix_grpc_request_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// SetSectionCounts updates the section gauges.
func (c *MatrixCollector) SetSectionCounts(talkers, listeners int) {
	if c == nil {
		return
	}
	c.TalkerSections.Set(float64(talkers))
	c.ListenerSections.Set(float64(listeners))
}

// SetEntityCounts updates the per-side entity gauge.
func (c *MatrixCollector) SetEntityCounts(talkers, listeners int) {
	if c == nil {
		return
	}
	c.Entities.WithLabelValues("talker").Set(float64(talkers))
	c.Entities.WithLabelValues("listener").Set(float64(listeners))
}

// ObserveEvent counts one applied event and records how long it took.
func (c *MatrixCollector) ObserveEvent(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(kind).Inc()
	c.EventDurations.WithLabelValues(kind).Observe(d.Seconds())
}

// IncRecomputation counts one intersection recomputation outcome.
func (c *MatrixCollector) IncRecomputation(result string) {
	if c == nil {
		return
	}
	c.Recomputations.WithLabelValues(result).Inc()
}

// AddCellNotifications counts delivered cell-changed notifications.
func (c *MatrixCollector) AddCellNotifications(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.CellNotifications.Add(float64(n))
}

// ObserveTimelineStep counts one replayed scenario step.
func (c *MatrixCollector) ObserveTimelineStep(action string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.TimelineStepsApplied.WithLabelValues(action, outcome).Inc()
}

// SetTimelineProgress records how far scenario replay has advanced.
func (c *MatrixCollector) SetTimelineProgress(elapsed time.Duration, pending int) {
	if c == nil {
		return
	}
	c.TimelineElapsed.Set(elapsed.Seconds())
	c.TimelinePending.Set(float64(pending))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *MatrixCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
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

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MatrixCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
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

// register adds c to reg, returning the already registered collector of
// the same type when one exists under that name.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	return register(reg, gauge, name)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, counter, name)
}
