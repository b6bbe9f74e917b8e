package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	sessionCodeKey  contextKey = "session_code"
	roleKey         contextKey = "role"
	connectionIDKey contextKey = "connection_id"
)

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.SugaredLogger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithSession stores the signaling identity of a connection on ctx.
func WithSession(ctx context.Context, sessionCode, role, connectionID string) context.Context {
	ctx = context.WithValue(ctx, sessionCodeKey, sessionCode)
	ctx = context.WithValue(ctx, roleKey, role)
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// WithContext returns a logger annotated with the session fields found on ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.SugaredLogger {
	var fields []interface{}
	for _, key := range []contextKey{sessionCodeKey, roleKey, connectionIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, string(key), v)
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, keysAndValues ...interface{}) {
	cl.WithContext(ctx).Errorw(message, append(keysAndValues, "error", err)...)
}

// LogInfo logs info message with context
func (cl *ContextLogger) LogInfo(ctx context.Context, message string, keysAndValues ...interface{}) {
	cl.WithContext(ctx).Infow(message, keysAndValues...)
}

// LogDebug logs debug message with context
func (cl *ContextLogger) LogDebug(ctx context.Context, message string, keysAndValues ...interface{}) {
	cl.WithContext(ctx).Debugw(message, keysAndValues...)
}

// LogWarn logs warning message with context
func (cl *ContextLogger) LogWarn(ctx context.Context, message string, keysAndValues ...interface{}) {
	cl.WithContext(ctx).Warnw(message, keysAndValues...)
}
