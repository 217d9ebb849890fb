package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultServiceName is the service name attached to exported spans.
	DefaultServiceName = "scanstore"

	// DefaultOTLPEndpoint is the local collector address.
	DefaultOTLPEndpoint = "localhost:4318"
)

var (
	mu             sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Config holds tracing configuration
type Config struct {
	// ServiceName defaults to "scanstore"
	ServiceName string `yaml:"service_name"`

	// Exporter is "otlp", "stdout" or "none" (the default)
	Exporter string `yaml:"exporter"`

	// OTLPEndpoint is host:port of an OTLP/HTTP collector
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS towards the collector
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// OTLPHeaders are sent with every export request
	OTLPHeaders map[string]string `yaml:"otlp_headers"`
}

// ConfigFromEnv reads the standard OpenTelemetry variables:
//   - OTEL_SERVICE_NAME
//   - OTEL_TRACES_EXPORTER: "otlp", "stdout" or "none"
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_EXPORTER_OTLP_INSECURE: "true" to disable TLS
//   - OTEL_EXPORTER_OTLP_HEADERS: "key1=value1,key2=value2"
func ConfigFromEnv() Config {
	return Config{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Exporter:     getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		OTLPInsecure: getEnv("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	}
}

// Init installs a global tracer provider for the configured exporter.
// With the "none" exporter spans go to the otel no-op provider.
func Init(config Config) error {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "", "none":
		log.Println("[Tracing] Tracing disabled")
		mu.Lock()
		tracer = otel.GetTracerProvider().Tracer(config.ServiceName)
		mu.Unlock()
		return nil

	case "otlp":
		exporter, err = createOTLPExporter(config)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.Printf("[Tracing] OTLP exporter initialized (endpoint: %s)", config.OTLPEndpoint)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		log.Println("[Tracing] stdout exporter initialized")

	default:
		return fmt.Errorf("unknown trace exporter: %s", config.Exporter)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracerProvider = tp
	tracer = tp.Tracer(config.ServiceName)
	mu.Unlock()

	return nil
}

// Shutdown flushes and stops the tracer provider, if one was installed.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	return tp.Shutdown(ctx)
}

func currentTracer() trace.Tracer {
	mu.RLock()
	tr := tracer
	mu.RUnlock()
	if tr == nil {
		return otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr
}

// StartSpanWithOtel starts a span as a child of ctx and returns the raw
// OpenTelemetry span.
func StartSpanWithOtel(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return currentTracer().Start(ctx, name, opts...)
}

// StartSpanWithContext starts a span from a parent context and sets data as
// span attributes.
func StartSpanWithContext(ctx context.Context, name string, data map[string]any) (context.Context, *Span) {
	spanCtx, span := currentTracer().Start(ctx, name)

	if len(data) > 0 {
		attrs := make([]attribute.KeyValue, 0, len(data))
		for k, v := range data {
			attrs = append(attrs, convertToAttribute(k, v))
		}
		span.SetAttributes(attrs...)
	}

	return spanCtx, &Span{span: span}
}

// Span wraps an OpenTelemetry span. End is idempotent.
type Span struct {
	span trace.Span
	once sync.Once
}

// End finishes the span
func (s *Span) End() {
	s.once.Do(func() {
		if s.span != nil {
			s.span.End()
		}
	})
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value any) {
	if s.span != nil {
		s.span.SetAttributes(convertToAttribute(key, value))
	}
}

// SetError records err on the span. nil is ignored.
func (s *Span) SetError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
	}
}

func createOTLPExporter(config Config) (sdktrace.SpanExporter, error) {
	endpoint := config.OTLPEndpoint
	if endpoint == "" {
		endpoint = DefaultOTLPEndpoint
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if config.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
	}

	return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
}

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseHeaders parses "key1=value1,key2=value2". Entries without '=' are
// skipped.
func parseHeaders(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
