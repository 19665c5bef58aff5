package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
)

// CoreTracerName is the instrumentation scope of the spans the matrix model
// opens for every applied device-state event.
const CoreTracerName = "connection-matrix/core"

const (
	envTracingEnabled = "MATRIX_TRACING_ENABLED"
	envExporter       = "MATRIX_TRACING_EXPORTER"
	envServiceName    = "MATRIX_TRACING_SERVICE_NAME"
	envSampleRatio    = "MATRIX_TRACING_SAMPLE_RATIO"
	envOTLPEndpoint   = "MATRIX_OTLP_ENDPOINT"

	defaultServiceName  = "connection-matrix"
	defaultOTLPEndpoint = "localhost:4317"
)

// TracingConfig governs how matrix tracing is initialised. The matrix
// settings are attached to every span as resource attributes, so traces from
// differently configured servers can be told apart.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector address
	SampleRatio float64

	Transposed   bool
	SummaryCells bool
	Scenario     string

	// Output receives stdout-exported spans; os.Stdout when nil.
	Output io.Writer
}

// TracingConfigFromEnv reads the MATRIX_TRACING_* variables. Matrix settings
// are left for the caller to fill in from its own flags.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv(envTracingEnabled), "true"),
		ServiceName: envOr(envServiceName, defaultServiceName),
		Exporter:    strings.ToLower(envOr(envExporter, "stdout")),
		Endpoint:    os.Getenv(envOTLPEndpoint),
		SampleRatio: 1,
	}
	if r, err := strconv.ParseFloat(os.Getenv(envSampleRatio), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Orientation names the presented row side for the given transposition.
func Orientation(transposed bool) string {
	if transposed {
		return "listener_rows"
	}
	return "talker_rows"
}

// InitTracing installs a global tracer provider for cfg and returns it. When
// tracing is disabled it installs a no-op provider and returns nil; callers
// pass the result to MatrixTracer and ShutdownTracing either way.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (*sdktrace.TracerProvider, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled")
		return nil, nil
	}

	processor, err := spanProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := matrixResource(ctx, cfg)
	if err != nil {
		_ = processor.Shutdown(ctx)
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("orientation", Orientation(cfg.Transposed)),
		logging.Bool("summary_cells", cfg.SummaryCells),
		logging.Any("sample_ratio", cfg.SampleRatio),
	)
	return tp, nil
}

// MatrixTracer returns the tracer handed to the matrix model. A nil tp
// yields a no-op tracer.
func MatrixTracer(tp *sdktrace.TracerProvider) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(CoreTracerName)
	}
	return tp.Tracer(CoreTracerName)
}

func matrixResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "avdecc"),
		attribute.String("matrix.orientation", Orientation(cfg.Transposed)),
		attribute.Bool("matrix.summary_cells", cfg.SummaryCells),
	}
	if cfg.Scenario != "" {
		attrs = append(attrs, attribute.String("matrix.scenario", filepath.Base(cfg.Scenario)))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// spanProcessor exports stdout spans synchronously, one per applied event,
// and batches spans bound for a collector.
func spanProcessor(ctx context.Context, cfg TracingConfig) (sdktrace.SpanProcessor, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return sdktrace.NewSimpleSpanProcessor(exp), nil
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return sdktrace.NewBatchSpanProcessor(exp), nil
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownTracing flushes and stops tp within a bounded time. Failures are
// logged, not returned. A nil tp is a no-op.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider, log logging.Logger) {
	if tp == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.ForceFlush(ctx); err != nil {
		log.Warn(ctx, "tracing flush failed", logging.Err(err))
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
