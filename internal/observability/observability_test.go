package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestStartSpanWithContext(t *testing.T) {
	tests := []struct {
		name     string
		spanName string
		data     map[string]any
	}{
		{
			name:     "nil data",
			spanName: "session.create",
			data:     nil,
		},
		{
			name:     "mixed data types",
			spanName: "scan.classify",
			data: map[string]any{
				"string": "text",
				"int":    42,
				"int64":  int64(7),
				"float":  3.14,
				"bool":   true,
				"slice":  []string{"a", "b"},
			},
		},
		{
			name:     "empty name",
			spanName: "",
			data:     map[string]any{"test": "data"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, span := StartSpanWithContext(context.Background(), tt.spanName, tt.data)
			if span == nil {
				t.Fatal("StartSpanWithContext returned nil span")
			}
			if ctx == nil {
				t.Error("StartSpanWithContext returned nil context")
			}

			span.SetAttribute("extra", 1)
			span.SetError(errors.New("boom"))
			span.SetError(nil)

			span.End()
			span.End()
		})
	}
}

func TestStartSpanWithOtel(t *testing.T) {
	parent, parentSpan := StartSpanWithOtel(context.Background(), "parent")
	defer parentSpan.End()

	ctx, span := StartSpanWithOtel(parent, "child", trace.WithAttributes(attribute.String("namespace", "scanSessions-default")))
	defer span.End()

	if !trace.SpanFromContext(ctx).SpanContext().Equal(span.SpanContext()) {
		t.Error("returned context should carry the child span")
	}
}

func TestSpan_ConcurrentEnd(t *testing.T) {
	_, span := StartSpanWithContext(context.Background(), "concurrent", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			span.End()
		}()
	}
	wg.Wait()
	span.End()
}

func TestInit(t *testing.T) {
	if err := Init(Config{Exporter: "none"}); err != nil {
		t.Fatalf("Init(none) error = %v", err)
	}
	if err := Init(Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Error("Init() with unknown exporter should fail")
	}

	if err := Init(Config{Exporter: "stdout"}); err != nil {
		t.Fatalf("Init(stdout) error = %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")

	cfg := ConfigFromEnv()
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, DefaultServiceName)
	}
	if cfg.Exporter != "none" {
		t.Errorf("Exporter = %q, want none", cfg.Exporter)
	}

	t.Setenv("OTEL_TRACES_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer x")
	cfg = ConfigFromEnv()
	if cfg.Exporter != "otlp" || !cfg.OTLPInsecure {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.OTLPHeaders["Authorization"] != "Bearer x" {
		t.Errorf("OTLPHeaders = %v", cfg.OTLPHeaders)
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"", nil},
		{"   ", nil},
		{"a=1", map[string]string{"a": "1"}},
		{"a=1,b=2", map[string]string{"a": "1", "b": "2"}},
		{"a=1,,b = 2 ", map[string]string{"a": "1", "b": "2"}},
		{"novalue,c=x=y", map[string]string{"c": "x=y"}},
		{"=orphan", nil},
	}

	for _, tt := range tests {
		got := parseHeaders(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseHeaders(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseHeaders(%q)[%q] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}
