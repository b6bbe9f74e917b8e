package webrtc

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/infrastructure/pipeline"
	"camstream/pkg/optimize"
)

// Encoded frames larger than this are not kept for reuse.
const maxPooledFrame = 1 << 20

type Transport = ports.PeerTransport

type SenderConfig struct {
	PayloadSize int
	QueueSize   int
}

// FrameSender is the network sink. It JPEG-encodes frames at the snapshot's
// image quality and paces the resulting packets to the snapshot's bitrate.
type FrameSender struct {
	transport  Transport
	logger     *zap.SugaredLogger
	metrics    ports.Metrics
	queue      *pipeline.AsyncSink
	limiter    *rate.Limiter
	packetizer *packetizer
	buffers    *optimize.BufferPool

	ctx    context.Context
	cancel context.CancelFunc

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
	sendErrors atomic.Uint64
	lastReport atomic.Pointer[domain.ReceiverReport]
	onReport   func(domain.ReceiverReport)
}

var _ ports.FeedbackSink = (*FrameSender)(nil)

// NewFrameSender starts the encoder worker. onReport, if set, receives every
// receiver report parsed from the feedback channel.
func NewFrameSender(cfg SenderConfig, transport Transport, onReport func(domain.ReceiverReport), logger *zap.SugaredLogger, metrics ports.Metrics) *FrameSender {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &FrameSender{
		transport:  transport,
		logger:     logger.With("component", "frame_sender"),
		metrics:    metrics,
		limiter:    rate.NewLimiter(rate.Limit(domain.MaxBitrateBps/8), domain.MaxBitrateBps/8),
		packetizer: newPacketizer(rand.Uint32(), cfg.PayloadSize),
		buffers:    optimize.NewBufferPool(maxPooledFrame),
		ctx:        ctx,
		cancel:     cancel,
		onReport:   onReport,
	}
	s.queue = pipeline.NewAsyncSink(pipeline.SinkNetwork, cfg.QueueSize, s.send, logger)
	return s
}

func (s *FrameSender) Accept(frame domain.FrameEnvelope, settings domain.QualitySettings) bool {
	return s.queue.Accept(frame, settings)
}

func (s *FrameSender) Ready() bool {
	return s.transport.Ready()
}

func (s *FrameSender) send(frame domain.FrameEnvelope, settings domain.QualitySettings) {
	if !s.transport.Ready() {
		return
	}

	buf := s.buffers.Get()
	defer s.buffers.Put(buf)
	if err := pipeline.EncodeJPEG(buf, frame, settings.ImageQuality); err != nil {
		s.logger.Warnw("failed to encode frame", "sequence", frame.SequenceNumber, "error", err)
		return
	}

	if err := s.pace(buf.Len(), settings.BitrateBps); err != nil {
		return
	}

	packets, err := s.packetizer.packetize(buf.Bytes(), RTPTimestamp(frame.PresentationTime))
	if err != nil {
		s.logger.Warnw("failed to packetize frame", "sequence", frame.SequenceNumber, "error", err)
		return
	}

	for _, pkt := range packets {
		data, err := pkt.Marshal()
		if err != nil {
			s.logger.Warnw("failed to marshal packet", "error", err)
			return
		}
		if err := s.transport.Send(ports.ChannelFrames, data); err != nil {
			if s.sendErrors.Add(1) == 1 {
				s.logger.Warnw("frame packet send failed", "error", err)
			}
			s.metrics.FrameSkipped(pipeline.SinkNetwork, "send_failed")
			return
		}
	}
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(buf.Len()))
}

// pace blocks until the bitrate budget allows n more bytes.
func (s *FrameSender) pace(n int, bitrateBps uint) error {
	bytesPerSecond := rate.Limit(float64(bitrateBps) / 8)
	if s.limiter.Limit() != bytesPerSecond {
		s.limiter.SetLimit(bytesPerSecond)
		s.limiter.SetBurst(int(bitrateBps / 8))
	}
	if n > s.limiter.Burst() {
		s.limiter.SetBurst(n)
	}
	return s.limiter.WaitN(s.ctx, n)
}

// HandleFeedback parses an RTCP compound packet from the viewer.
func (s *FrameSender) HandleFeedback(data []byte) ([]domain.ReceiverReport, error) {
	reports, err := ParseFeedback(data, time.Now())
	if err != nil {
		return nil, err
	}
	for i := range reports {
		report := reports[i]
		s.lastReport.Store(&report)
		s.metrics.ReceiverReported(report)
		s.logger.Debugw("receiver report",
			"fraction_lost", report.FractionLost,
			"total_lost", report.TotalLost,
			"jitter", report.Jitter,
		)
		if s.onReport != nil {
			s.onReport(report)
		}
	}
	return reports, nil
}

// ParseFeedback extracts reception reports from an RTCP compound packet.
func ParseFeedback(data []byte, now time.Time) ([]domain.ReceiverReport, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("invalid feedback packet: %w", err)
	}

	var reports []domain.ReceiverReport
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, r := range p.Reports {
				reports = append(reports, domain.ReceiverReport{
					FractionLost: float64(r.FractionLost) / 256,
					TotalLost:    r.TotalLost,
					Jitter:       r.Jitter,
					ReportedAt:   now,
				})
			}
		case *rtcp.PictureLossIndication:
			// Every frame is a keyframe; nothing to do.
		}
	}
	return reports, nil
}

// LastReport returns the most recent receiver report, if any.
func (s *FrameSender) LastReport() (domain.ReceiverReport, bool) {
	r := s.lastReport.Load()
	if r == nil {
		return domain.ReceiverReport{}, false
	}
	return *r, true
}

type SenderStats struct {
	FramesSent uint64
	BytesSent  uint64
	Dropped    uint64
}

func (s *FrameSender) Stats() SenderStats {
	return SenderStats{
		FramesSent: s.framesSent.Load(),
		BytesSent:  s.bytesSent.Load(),
		Dropped:    s.queue.Dropped(),
	}
}

// Close stops pacing and waits for the worker to exit.
func (s *FrameSender) Close() {
	s.cancel()
	s.queue.Close()
}
