package monitoring

import (
	"context"
	"sync"
	"time"

	"camstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// HealthChecker runs named dependency checks for the server's readiness
// endpoint.
type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type ReadinessStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{Name: name, Check: check, Timeout: timeout})
}

// AddRedisCheck adds a Redis ping check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddRegistryCheck verifies the session registry answers queries
func (h *HealthChecker) AddRegistryCheck(registry ports.SessionRegistry, timeout time.Duration) {
	h.AddCheck("session_registry", func(ctx context.Context) error {
		_, err := registry.ActiveSessions(ctx)
		return err
	}, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) ReadinessStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := ReadinessStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
			continue
		}
		status.Checks[check.Name] = "healthy"
	}

	return status
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
