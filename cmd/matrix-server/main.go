package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/connection-matrix/core"
	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/internal/observability"
	"github.com/signalsfoundry/connection-matrix/internal/session"
	"github.com/signalsfoundry/connection-matrix/kb"
	"github.com/signalsfoundry/connection-matrix/timectrl"
)

// matrixServiceName is the health-check service name reported once the
// initial scenario has been applied.
const matrixServiceName = "avdecc.ConnectionMatrix"

// Config holds everything run needs; main fills it from flags.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	ScenarioPath   string
	TickInterval   time.Duration
	Accelerated    bool
	Duration       time.Duration
	Transposed     bool
	SummaryCells   bool
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the gRPC health server listens on")
	flag.StringVar(&cfg.MetricsAddress, "http-addr", ":9090", "HTTP address for /metrics and /snapshot (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", "configs/scenario.json", "Path to a JSON scenario to load at startup")
	flag.DurationVar(&cfg.TickInterval, "tick", 100*time.Millisecond, "Timeline replay tick interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "Replay the timeline as fast as possible instead of in real time")
	flag.DurationVar(&cfg.Duration, "duration", 0, "Replay duration (0 replays until the last scripted step)")
	flag.BoolVar(&cfg.Transposed, "transposed", false, "Present listeners as rows")
	flag.BoolVar(&cfg.SummaryCells, "summary-cells", true, "Compute entity and redundant summary cells")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Transposed = cfg.Transposed
	tcfg.SummaryCells = cfg.SummaryCells
	tcfg.Scenario = cfg.ScenarioPath
	tp, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownTracing(context.Background(), tp, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, observability.MatrixTracer(tp), lis); err != nil {
		log.Error(ctx, "matrix server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. It owns lis. Every applied device-state
// event opens a span on tracer.
func run(ctx context.Context, cfg Config, log logging.Logger, tracer trace.Tracer, lis net.Listener) error {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}

	collector, err := observability.NewMatrixCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	store := kb.NewKnowledgeBase()
	m := core.NewModel(store,
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
		core.WithSummaryCells(cfg.SummaryCells),
		core.WithTracer(tracer),
	)
	m.SetTransposed(cfg.Transposed)

	sess := session.New(store, m, session.WithLogger(log))
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	var timeline []kb.TimelineStep
	if cfg.ScenarioPath != "" {
		sc, err := loadScenario(store, cfg.ScenarioPath)
		if err != nil {
			return err
		}
		timeline = sc.Timeline
		log.Info(ctx, "loaded scenario",
			logging.String("path", cfg.ScenarioPath),
			logging.Int("entities", len(sc.EntityIDs)),
			logging.Int("connections", sc.Connections),
			logging.Int("timeline_steps", len(sc.Timeline)),
		)
	}
	if err := sess.Flush(ctx); err != nil {
		return err
	}

	healthSrv := health.NewServer()
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			eventIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(server, healthSrv)
	healthSrv.SetServingStatus(matrixServiceName, healthpb.HealthCheckResponse_SERVING)

	httpSrv := serveHTTP(cfg.MetricsAddress, newHTTPHandler(sess, collector, log), log)
	replayDone := replayTimeline(ctx, cfg, store, timeline, collector, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting matrix gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var exitErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		exitErr = err
	}

	log.Info(context.Background(), "shutting down matrix server")
	healthSrv.Shutdown()
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	<-replayDone
	return exitErr
}

func loadScenario(store *kb.KnowledgeBase, path string) (*kb.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return kb.LoadScenario(store, f)
}

// replayTimeline applies each scripted step once simulated time reaches its
// offset. The returned channel closes when replay ends.
func replayTimeline(ctx context.Context, cfg Config, store *kb.KnowledgeBase, steps []kb.TimelineStep, collector *observability.MatrixCollector, log logging.Logger) <-chan struct{} {
	done := make(chan struct{})
	duration := cfg.Duration
	if duration <= 0 && len(steps) > 0 {
		duration = steps[len(steps)-1].At
	}
	if duration <= 0 {
		close(done)
		return done
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now(), cfg.TickInterval, mode)
	tc.AddListener(func(time.Time) {
		collector.SetTimelineProgress(tc.Elapsed(), tc.Pending())
	})
	for _, step := range steps {
		tc.Schedule(step.At, func(time.Time) {
			err := step.Apply(store)
			collector.ObserveTimelineStep(step.Action, err)
			if err != nil {
				log.Warn(ctx, "timeline step failed",
					logging.String("action", step.Action),
					logging.String("at", step.At.String()),
					logging.Err(err),
				)
				return
			}
			log.Debug(ctx, "timeline step applied",
				logging.String("action", step.Action),
				logging.String("at", step.At.String()),
			)
		})
	}

	go func() {
		defer close(done)
		if err := tc.Run(ctx, duration); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn(ctx, "timeline replay stopped", logging.Err(err))
			return
		}
		log.Info(ctx, "timeline replay finished", logging.Int("pending", tc.Pending()))
	}()
	return done
}

func newHTTPHandler(sess *session.Session, collector *observability.MatrixCollector, log logging.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		var snap core.Snapshot
		err := sess.Do(r.Context(), func(_ context.Context, m *core.Model) {
			snap = m.Snapshot()
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		st, err := snap.ToStruct()
		if err != nil {
			log.Warn(r.Context(), "snapshot conversion failed", logging.Err(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := protojson.MarshalOptions{Multiline: r.URL.Query().Has("pretty")}.Marshal(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	return mux
}

func serveHTTP(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving metrics and snapshots", logging.String("addr", addr))
	return srv
}
