package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	"camstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	auth := services.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("123456", domain.RoleBroadcaster)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/ws", SignalingAuthMiddleware(auth, false), func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, recorder.Ended())

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http GET /ws", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "123456", attrs[string(tracing.SessionCodeKey)])
	assert.Equal(t, "broadcaster", attrs[string(tracing.RoleKey)])
	assert.Equal(t, "200", attrs["http.status_code"])
}

func TestTracingMiddleware_MarksRejectedRequests(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/ws", SignalingAuthMiddleware(services.NewAuthService("secret", time.Hour), true), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
