package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "camstream"

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Config contains tracing configuration
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "camstream",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a Jaeger-backed global tracer provider. When tracing is
// disabled the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.TraceIDRatioBased(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the current span
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error in the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Common span attributes
var (
	SessionCodeKey = attribute.Key("session.code")
	RoleKey        = attribute.Key("session.role")
	ConnectionKey  = attribute.Key("connection.id")
	SDPTypeKey     = attribute.Key("sdp.type")
	AttemptKey     = attribute.Key("attempt")
	PathKey        = attribute.Key("recording.path")
	FramesKey      = attribute.Key("recording.frames")
	DurationKey    = attribute.Key("duration_ms")
)

// TraceNegotiation traces one step of peer negotiation (offer, answer, renegotiate).
func TraceNegotiation(ctx context.Context, step, sessionCode, role string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("webrtc.%s", step),
		trace.WithAttributes(
			attribute.String("webrtc.step", step),
			SessionCodeKey.String(sessionCode),
			RoleKey.String(role),
		),
	)
}

// TraceSignalingMessage traces handling of one relayed signaling message.
func TraceSignalingMessage(ctx context.Context, messageType, sessionCode, connectionID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("signaling.%s", messageType),
		trace.WithAttributes(
			attribute.String("signaling.message_type", messageType),
			SessionCodeKey.String(sessionCode),
			ConnectionKey.String(connectionID),
		),
	)
}

// TraceRecording traces a recording lifecycle operation (open, finalize, archive).
func TraceRecording(ctx context.Context, operation, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("recording.%s", operation),
		trace.WithAttributes(
			attribute.String("recording.operation", operation),
			PathKey.String(path),
		),
	)
}

// MeasureDuration records the elapsed time since start on the current span
func MeasureDuration(ctx context.Context, start time.Time) {
	AddSpanAttributes(ctx, DurationKey.Int64(time.Since(start).Milliseconds()))
}

// TraceHTTPRequest traces an inbound HTTP request on the signaling server.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http %s %s", method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
}
