package pipeline

import (
	"sync/atomic"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

const (
	SinkNetwork   = "network"
	SinkRecording = "recording"

	skipNotReady  = "not_ready"
	skipQueueFull = "queue_full"
	skipDisabled  = "disabled"
)

type Config struct {
	// Frames bound for the network are rescaled only below this scale.
	ScaleSkipThreshold float64
}

func DefaultConfig() Config {
	return Config{ScaleSkipThreshold: 0.95}
}

// SinkStats counts what happened to frames that survived decimation.
type SinkStats struct {
	Dispatched uint64
	Skipped    uint64
}

type Stats struct {
	Received  uint64
	Decimated uint64
	Network   SinkStats
	Recording SinkStats
}

type sinkCounters struct {
	dispatched atomic.Uint64
	skipped    atomic.Uint64
}

func (c *sinkCounters) snapshot() SinkStats {
	return SinkStats{Dispatched: c.dispatched.Load(), Skipped: c.skipped.Load()}
}

// FramePipeline takes frames from the capture source and fans them out to
// the network and recording sinks. OnFrame runs on the capture goroutine and
// never blocks.
type FramePipeline struct {
	cfg       Config
	quality   ports.QualitySource
	network   atomic.Pointer[ports.NetworkSink]
	recording atomic.Pointer[ports.RecordingSink]
	recordOn  atomic.Bool
	logger    *zap.SugaredLogger
	metrics   ports.Metrics

	received  atomic.Uint64
	decimated atomic.Uint64
	netStats  sinkCounters
	recStats  sinkCounters
}

var _ ports.FrameRouter = (*FramePipeline)(nil)

func NewFramePipeline(cfg Config, quality ports.QualitySource, logger *zap.SugaredLogger, metrics ports.Metrics) *FramePipeline {
	if cfg.ScaleSkipThreshold <= 0 {
		cfg.ScaleSkipThreshold = DefaultConfig().ScaleSkipThreshold
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	p := &FramePipeline{
		cfg:     cfg,
		quality: quality,
		logger:  logger.With("component", "pipeline"),
		metrics: metrics,
	}
	p.recordOn.Store(true)
	return p
}

// SetNetworkSink installs or, with nil, removes the network sink.
func (p *FramePipeline) SetNetworkSink(sink ports.NetworkSink) {
	if sink == nil {
		p.network.Store(nil)
		return
	}
	p.network.Store(&sink)
}

func (p *FramePipeline) SetRecordingSink(sink ports.RecordingSink) {
	if sink == nil {
		p.recording.Store(nil)
		return
	}
	p.recording.Store(&sink)
}

// SetRecordingEnabled follows the user's local recording preference.
func (p *FramePipeline) SetRecordingEnabled(enabled bool) {
	if p.recordOn.Swap(enabled) != enabled {
		p.logger.Infow("local recording preference changed", "enabled", enabled)
	}
}

// OnFrame is the capture callback.
func (p *FramePipeline) OnFrame(raw domain.RawFrame) {
	n := p.received.Add(1)
	settings := p.quality.Current()

	decimation := uint64(settings.FrameDecimation)
	if decimation < 1 {
		decimation = 1
	}
	if n%decimation != 0 {
		p.decimated.Add(1)
		p.metrics.FrameDecimated()
		return
	}

	// The source may reuse raw.Data once we return.
	data := make([]byte, len(raw.Data))
	copy(data, raw.Data)
	frame := domain.FrameEnvelope{
		Data:             data,
		Width:            raw.Width,
		Height:           raw.Height,
		PresentationTime: raw.PresentationTime,
		SequenceNumber:   n,
	}

	p.dispatchNetwork(frame, settings)
	p.dispatchRecording(frame, settings)
}

func (p *FramePipeline) dispatchNetwork(frame domain.FrameEnvelope, settings domain.QualitySettings) {
	ptr := p.network.Load()
	if ptr == nil || !(*ptr).Ready() {
		p.skip(&p.netStats, SinkNetwork, skipNotReady)
		return
	}

	var out domain.FrameEnvelope
	if settings.ResolutionScale < p.cfg.ScaleSkipThreshold {
		out = Downscale(frame, settings.ResolutionScale)
	} else {
		out = frame.Clone()
	}

	if !(*ptr).Accept(out, settings) {
		p.skip(&p.netStats, SinkNetwork, skipQueueFull)
		return
	}
	p.netStats.dispatched.Add(1)
	p.metrics.FrameDispatched(SinkNetwork)
}

func (p *FramePipeline) dispatchRecording(frame domain.FrameEnvelope, settings domain.QualitySettings) {
	ptr := p.recording.Load()
	if ptr == nil || !p.recordOn.Load() || (*ptr).Disabled() {
		p.skip(&p.recStats, SinkRecording, skipDisabled)
		return
	}
	if !(*ptr).Accept(frame, settings) {
		p.skip(&p.recStats, SinkRecording, skipQueueFull)
		return
	}
	p.recStats.dispatched.Add(1)
	p.metrics.FrameDispatched(SinkRecording)
}

func (p *FramePipeline) skip(c *sinkCounters, sink, reason string) {
	c.skipped.Add(1)
	p.metrics.FrameSkipped(sink, reason)
}

// Stats returns a snapshot of the frame counters.
func (p *FramePipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Decimated: p.decimated.Load(),
		Network:   p.netStats.snapshot(),
		Recording: p.recStats.snapshot(),
	}
}
