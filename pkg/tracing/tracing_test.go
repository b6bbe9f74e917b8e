package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "camstream", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceNegotiation_RecordsAttributes(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceNegotiation(context.Background(), "offer", "123456", "broadcaster")
	MeasureDuration(ctx, time.Now())
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "webrtc.offer", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "123456", attrs["session.code"])
	assert.Equal(t, "broadcaster", attrs["session.role"])
	assert.Contains(t, attrs, "duration_ms")
}

func TestRecordError_SetsStatus(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceRecording(context.Background(), "finalize", "/tmp/a.flv")
	RecordError(ctx, errors.New("disk full"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "disk full", spans[0].Status().Description)
}

func TestTraceSignalingMessage_WithoutProvider(t *testing.T) {
	_, span := TraceSignalingMessage(context.Background(), "offer", "123456", "conn-1")
	require.NotNil(t, span)
	span.End()
}
