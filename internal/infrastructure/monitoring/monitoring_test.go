package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/infrastructure/repositories/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusCollector(reg)

	p.SignalingStateChanged(domain.RoleBroadcaster, domain.StateConnected)
	p.ReconnectScheduled(domain.RoleViewer, 1, time.Second)
	p.ReconnectScheduled(domain.RoleViewer, 2, 2*time.Second)
	p.FrameDispatched("network")
	p.FrameSkipped("recording", "queue_full")
	p.FrameDecimated()
	p.QualityChanged(domain.QualitySettings{FrameDecimation: 3, ImageQuality: 0.5, BitrateBps: 400_000, ResolutionScale: 0.6})
	p.ConnectionsChanged(1)
	p.ConnectionsChanged(1)
	p.ConnectionsChanged(-1)
	p.HealthProbed(0, false)

	assert.Equal(t, float64(domain.StateConnected), testutil.ToFloat64(p.signalingState.WithLabelValues("broadcaster")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.reconnectsTotal.WithLabelValues("viewer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.framesDispatched.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.framesSkipped.WithLabelValues("recording", "queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.framesDecimated))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.frameDecimation))
	assert.Equal(t, 400000.0, testutil.ToFloat64(p.targetBitrate))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectionsCurrent))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.probeFailures))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector(prometheus.NewRegistry())
		NewPrometheusCollector(prometheus.NewRegistry())
	})
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddRegistryCheck(memory.NewMemorySessionRegistry(), time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("broken", func(ctx context.Context) error {
		return errors.New("down")
	}, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["session_registry"])
	assert.Equal(t, "down", status.Checks["broken"])
}
