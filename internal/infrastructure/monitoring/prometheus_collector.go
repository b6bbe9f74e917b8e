package monitoring

import (
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.Metrics on top of Prometheus.
type PrometheusCollector struct {
	// Signaling
	signalingState     *prometheus.GaugeVec
	reconnectsTotal    *prometheus.CounterVec
	reconnectDelay     prometheus.Histogram
	messagesRelayed    *prometheus.CounterVec
	connectionsCurrent prometheus.Gauge

	// Peer
	peerTransitions *prometheus.CounterVec

	// Quality
	frameDecimation prometheus.Gauge
	imageQuality    prometheus.Gauge
	targetBitrate   prometheus.Gauge
	resolutionScale prometheus.Gauge
	cpuUtilization  prometheus.Gauge
	memoryPressure  prometheus.Gauge

	// Frames
	framesDecimated  prometheus.Counter
	framesDispatched *prometheus.CounterVec
	framesSkipped    *prometheus.CounterVec

	// Recording
	recordingsFinalized prometheus.Counter
	recordingFrames     prometheus.Histogram

	// Health and feedback
	probeLatency   prometheus.Histogram
	probeFailures  prometheus.Counter
	fractionLost   prometheus.Gauge
	packetsLost    prometheus.Gauge
	receiverJitter prometheus.Gauge
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collector's metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		signalingState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camstream_signaling_state",
			Help: "Current signaling state per role (0 idle, 1 connecting, 2 connected, 3 disconnected, 4 closed)",
		}, []string{"role"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_signaling_reconnects_total",
			Help: "Total number of scheduled signaling reconnect attempts",
		}, []string{"role"}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camstream_signaling_reconnect_delay_seconds",
			Help:    "Delay before each reconnect attempt",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_signaling_messages_relayed_total",
			Help: "Signaling messages handled by the rendezvous server",
		}, []string{"type"}),

		connectionsCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_signaling_connections",
			Help: "Open websocket connections on the rendezvous server",
		}),

		peerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_peer_state_transitions_total",
			Help: "Peer connection state transitions",
		}, []string{"state"}),

		frameDecimation: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_quality_frame_decimation",
			Help: "Current frame decimation factor",
		}),
		imageQuality: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_quality_image_quality",
			Help: "Current encoder image quality",
		}),
		targetBitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_quality_bitrate_bps",
			Help: "Current target bitrate in bits per second",
		}),
		resolutionScale: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_quality_resolution_scale",
			Help: "Current resolution scale",
		}),
		cpuUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_resource_cpu_percent",
			Help: "Last sampled CPU utilization",
		}),
		memoryPressure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_resource_memory_pressure",
			Help: "Last sampled memory pressure (0-1)",
		}),

		framesDecimated: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_frames_decimated_total",
			Help: "Frames dropped by decimation",
		}),
		framesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_frames_dispatched_total",
			Help: "Frames accepted by a sink",
		}, []string{"sink"}),
		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_frames_skipped_total",
			Help: "Frames a sink did not take",
		}, []string{"sink", "reason"}),

		recordingsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_recordings_finalized_total",
			Help: "Local recordings finalized",
		}),
		recordingFrames: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camstream_recording_frames",
			Help:    "Frames per finalized recording",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),

		probeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camstream_health_probe_latency_seconds",
			Help:    "Round-trip latency of successful health probes",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		}),
		probeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_health_probe_failures_total",
			Help: "Failed health probes",
		}),
		fractionLost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_receiver_fraction_lost",
			Help: "Fraction of frame packets lost as reported by the viewer",
		}),
		packetsLost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_receiver_packets_lost",
			Help: "Cumulative packets lost as reported by the viewer",
		}),
		receiverJitter: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_receiver_jitter",
			Help: "Interarrival jitter reported by the viewer, in RTP units",
		}),
	}
}

func (p *PrometheusCollector) SignalingStateChanged(role domain.Role, state domain.ConnectionState) {
	p.signalingState.WithLabelValues(string(role)).Set(float64(state))
}

func (p *PrometheusCollector) ReconnectScheduled(role domain.Role, attempt int, delay time.Duration) {
	p.reconnectsTotal.WithLabelValues(string(role)).Inc()
	p.reconnectDelay.Observe(delay.Seconds())
}

func (p *PrometheusCollector) PeerStateChanged(state domain.PeerState) {
	p.peerTransitions.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) QualityChanged(settings domain.QualitySettings) {
	p.frameDecimation.Set(float64(settings.FrameDecimation))
	p.imageQuality.Set(settings.ImageQuality)
	p.targetBitrate.Set(float64(settings.BitrateBps))
	p.resolutionScale.Set(settings.ResolutionScale)
}

func (p *PrometheusCollector) ResourceSampled(sample domain.ResourceSample) {
	p.cpuUtilization.Set(sample.CPUUtilization)
	p.memoryPressure.Set(sample.MemoryPressure)
}

func (p *PrometheusCollector) FrameDecimated() {
	p.framesDecimated.Inc()
}

func (p *PrometheusCollector) FrameDispatched(sink string) {
	p.framesDispatched.WithLabelValues(sink).Inc()
}

func (p *PrometheusCollector) FrameSkipped(sink, reason string) {
	p.framesSkipped.WithLabelValues(sink, reason).Inc()
}

func (p *PrometheusCollector) RecordingFinalized(session domain.RecordingSession) {
	p.recordingsFinalized.Inc()
	p.recordingFrames.Observe(float64(session.FrameCount))
}

func (p *PrometheusCollector) HealthProbed(latency time.Duration, ok bool) {
	if !ok {
		p.probeFailures.Inc()
		return
	}
	p.probeLatency.Observe(latency.Seconds())
}

func (p *PrometheusCollector) ReceiverReported(report domain.ReceiverReport) {
	p.fractionLost.Set(report.FractionLost)
	p.packetsLost.Set(float64(report.TotalLost))
	p.receiverJitter.Set(float64(report.Jitter))
}

func (p *PrometheusCollector) SignalingMessageRelayed(messageType domain.MessageType) {
	p.messagesRelayed.WithLabelValues(string(messageType)).Inc()
}

func (p *PrometheusCollector) ConnectionsChanged(delta int) {
	p.connectionsCurrent.Add(float64(delta))
}
