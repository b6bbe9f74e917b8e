package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

type HealthConfig struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	Multiplier       float64
	SuccessThreshold int
	WindowSize       int
	ProbeTimeout     time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MinInterval:      2 * time.Second,
		MaxInterval:      30 * time.Second,
		Multiplier:       2,
		SuccessThreshold: 3,
		WindowSize:       10,
		ProbeTimeout:     3 * time.Second,
	}
}

// ConnectionHealthMonitor probes the signaling server out of band. The probe
// interval backs off while the server keeps answering and snaps back to the
// minimum on the first failure.
type ConnectionHealthMonitor struct {
	cfg      HealthConfig
	prober   ports.HealthProber
	logger   *zap.SugaredLogger
	metrics  ports.Metrics
	observer func(domain.HealthStatus)
	now      func() time.Time
	wake     chan struct{}

	mu     sync.RWMutex
	status domain.HealthStatus

	// Owned by the Run loop.
	window    []time.Duration
	interval  time.Duration
	successes int
}

func NewConnectionHealthMonitor(cfg HealthConfig, prober ports.HealthProber, observer func(domain.HealthStatus), logger *zap.SugaredLogger, metrics ports.Metrics) *ConnectionHealthMonitor {
	def := DefaultHealthConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if observer == nil {
		observer = func(domain.HealthStatus) {}
	}
	m := &ConnectionHealthMonitor{
		cfg:      cfg,
		prober:   prober,
		logger:   logger.With("component", "health_monitor"),
		metrics:  metrics,
		observer: observer,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		window:   make([]time.Duration, 0, cfg.WindowSize),
		interval: cfg.MinInterval,
	}
	m.status.Interval = cfg.MinInterval
	return m
}

// Status returns the latest published status.
func (m *ConnectionHealthMonitor) Status() domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ProbeNow resets the interval to the minimum and probes immediately.
func (m *ConnectionHealthMonitor) ProbeNow() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// NetworkAvailable is called when the device regains connectivity.
func (m *ConnectionHealthMonitor) NetworkAvailable() {
	m.logger.Infow("network available, probing")
	m.ProbeNow()
}

// Run probes once right away and then on the adaptive schedule until ctx is
// done.
func (m *ConnectionHealthMonitor) Run(ctx context.Context) {
	m.probe(ctx)
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.probe(ctx)
		case <-m.wake:
			m.interval = m.cfg.MinInterval
			m.probe(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(m.interval)
	}
}

func (m *ConnectionHealthMonitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.now()
	result, err := m.prober.Probe(pctx)
	latency := m.now().Sub(start)
	if ctx.Err() != nil {
		return
	}
	m.metrics.HealthProbed(latency, err == nil)

	prev := m.Status()
	next := prev
	next.LastProbeAt = start

	if err != nil {
		m.successes = 0
		m.interval = m.cfg.MinInterval
		next.Reachable = false
		next.LastError = err.Error()
		if prev.Reachable || prev.LastProbeAt.IsZero() {
			m.logger.Warnw("signaling server unreachable", "error", err)
		}
	} else {
		if len(m.window) == m.cfg.WindowSize {
			m.window = m.window[1:]
		}
		m.window = append(m.window, latency)
		m.successes++
		if m.successes%m.cfg.SuccessThreshold == 0 {
			m.grow()
		}
		next.Reachable = true
		next.LastError = ""
		next.LastLatency = latency
		next.AverageLatency = m.average()
		next.ActiveSessions = result.ActiveSessions
		if !prev.Reachable {
			m.logger.Infow("signaling server reachable", "latency", latency)
		}
	}
	next.Interval = m.interval
	next.ConsecutiveSuccesses = m.successes

	m.mu.Lock()
	m.status = next
	m.mu.Unlock()
	m.observer(next)
}

func (m *ConnectionHealthMonitor) grow() {
	next := time.Duration(float64(m.interval) * m.cfg.Multiplier)
	if next > m.cfg.MaxInterval {
		next = m.cfg.MaxInterval
	}
	if next != m.interval {
		m.logger.Debugw("health probe interval changed", "from", m.interval, "to", next)
	}
	m.interval = next
}

func (m *ConnectionHealthMonitor) average() time.Duration {
	if len(m.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.window {
		sum += d
	}
	return sum / time.Duration(len(m.window))
}
