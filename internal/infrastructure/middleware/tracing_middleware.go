package middleware

import (
	"fmt"
	"net/http"
	"time"

	"camstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Paths polled by monitoring are not traced.
var untracedPaths = map[string]bool{
	"/metrics": true,
	"/health":  true,
	"/ready":   true,
}

// TracingMiddleware opens a span per request. A websocket upgrade keeps its
// span open for the life of the connection, so the span records the
// signaling session it belongs to.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if untracedPaths[route] {
			c.Next()
			return
		}

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()
		defer tracing.MeasureDuration(ctx, time.Now())

		span.SetAttributes(
			attribute.String("http.remote_addr", c.ClientIP()),
			attribute.Bool("http.upgrade", c.GetHeader("Upgrade") != ""),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		// Set by the auth middleware when the upgrade carried a token.
		if code, ok := c.Get("session_code"); ok {
			span.SetAttributes(tracing.SessionCodeKey.String(fmt.Sprint(code)))
		}
		if role, ok := c.Get("role"); ok {
			span.SetAttributes(tracing.RoleKey.String(fmt.Sprint(role)))
		}

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		switch {
		case len(c.Errors) > 0:
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		case status >= 400:
			span.SetStatus(codes.Error, http.StatusText(status))
		default:
			span.SetStatus(codes.Ok, "")
		}
	}
}
