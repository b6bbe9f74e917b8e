package webrtc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

const maxPendingFrames = 8

type ReceivedFrame = domain.ReceivedFrame

type partialFrame struct {
	chunks   [][]byte
	received int
}

type ReceiverStats struct {
	PacketsReceived  uint64
	FramesCompleted  uint64
	FramesDropped    uint64
	MalformedPackets uint64
}

// FrameReceiver reassembles frames from the frames data channel and keeps
// RFC 3550 style loss and jitter accounting for receiver reports.
type FrameReceiver struct {
	onFrame func(ReceivedFrame)
	logger  *zap.SugaredLogger
	metrics ports.Metrics
	ssrc    uint32
	now     func() time.Time

	mu            sync.Mutex
	pending       map[uint32]*partialFrame
	order         []uint32
	lastCompleted uint32
	haveCompleted bool
	stats         ReceiverStats

	// reception state
	senderSSRC    uint32
	started       bool
	baseSeq       uint16
	maxSeq        uint16
	cycles        uint32
	received      uint32
	expectedPrior uint32
	receivedPrior uint32
	jitter        float64
	lastTransit   int64
	haveTransit   bool
	clockStart    time.Time
}

var _ ports.FrameConsumer = (*FrameReceiver)(nil)

func NewFrameReceiver(onFrame func(ReceivedFrame), logger *zap.SugaredLogger, metrics ports.Metrics) *FrameReceiver {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if onFrame == nil {
		onFrame = func(ReceivedFrame) {}
	}
	return &FrameReceiver{
		onFrame: onFrame,
		logger:  logger.With("component", "frame_receiver"),
		metrics: metrics,
		ssrc:    rand.Uint32(),
		now:     time.Now,
		pending: make(map[uint32]*partialFrame),
	}
}

// HandlePacket takes one RTP packet from the frames channel.
func (r *FrameReceiver) HandlePacket(data []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		r.mu.Lock()
		r.stats.MalformedPackets++
		r.mu.Unlock()
		return fmt.Errorf("invalid rtp packet: %w", err)
	}
	if pkt.PayloadType != PayloadTypeJPEG {
		return fmt.Errorf("unexpected payload type %d", pkt.PayloadType)
	}
	index, count, chunk, err := parseChunk(pkt.Payload)
	if err != nil {
		r.mu.Lock()
		r.stats.MalformedPackets++
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.stats.PacketsReceived++
	r.track(&pkt)
	frame, ok := r.assemble(pkt.Timestamp, index, count, chunk)
	r.mu.Unlock()

	if ok {
		r.onFrame(frame)
	}
	return nil
}

func (r *FrameReceiver) track(pkt *rtp.Packet) {
	now := r.now()
	seq := pkt.SequenceNumber
	if !r.started || pkt.SSRC != r.senderSSRC {
		// New sender (or renegotiated stream): start over.
		r.started = true
		r.senderSSRC = pkt.SSRC
		r.baseSeq = seq
		r.maxSeq = seq
		r.cycles = 0
		r.received = 0
		r.expectedPrior = 0
		r.receivedPrior = 0
		r.jitter = 0
		r.haveTransit = false
		r.clockStart = now
	} else if delta := int16(seq - r.maxSeq); delta > 0 {
		if seq < r.maxSeq {
			r.cycles += 1 << 16
		}
		r.maxSeq = seq
	}
	r.received++

	arrival := int64(now.Sub(r.clockStart).Seconds() * ClockRate)
	transit := arrival - int64(pkt.Timestamp)
	if r.haveTransit {
		d := transit - r.lastTransit
		if d < 0 {
			d = -d
		}
		r.jitter += (float64(d) - r.jitter) / 16
	}
	r.lastTransit = transit
	r.haveTransit = true
}

func (r *FrameReceiver) assemble(ts uint32, index, count uint16, chunk []byte) (ReceivedFrame, bool) {
	if r.haveCompleted && ts == r.lastCompleted {
		return ReceivedFrame{}, false
	}

	pf, ok := r.pending[ts]
	if !ok {
		pf = &partialFrame{chunks: make([][]byte, count)}
		r.pending[ts] = pf
		r.order = append(r.order, ts)
		r.evict()
	}
	if int(index) >= len(pf.chunks) || pf.chunks[index] != nil {
		return ReceivedFrame{}, false
	}
	pf.chunks[index] = append([]byte(nil), chunk...)
	pf.received++
	if pf.received < len(pf.chunks) {
		return ReceivedFrame{}, false
	}

	size := 0
	for _, c := range pf.chunks {
		size += len(c)
	}
	jpeg := make([]byte, 0, size)
	for _, c := range pf.chunks {
		jpeg = append(jpeg, c...)
	}

	r.remove(ts)
	// Anything older than a completed frame will never be shown.
	for len(r.order) > 0 && r.order[0] != ts && olderThan(r.order[0], ts) {
		r.remove(r.order[0])
		r.stats.FramesDropped++
	}
	r.lastCompleted = ts
	r.haveCompleted = true
	r.stats.FramesCompleted++
	return ReceivedFrame{JPEG: jpeg, Timestamp: ts, ReceivedAt: r.now()}, true
}

func olderThan(a, b uint32) bool {
	return int32(a-b) < 0
}

func (r *FrameReceiver) evict() {
	for len(r.order) > maxPendingFrames {
		r.remove(r.order[0])
		r.stats.FramesDropped++
	}
}

func (r *FrameReceiver) remove(ts uint32) {
	delete(r.pending, ts)
	for i, v := range r.order {
		if v == ts {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// BuildReport computes a receiver report covering the packets seen since the
// previous call. ok is false before the first packet.
func (r *FrameReceiver) BuildReport() (report *rtcp.ReceiverReport, summary domain.ReceiverReport, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil, domain.ReceiverReport{}, false
	}

	extendedMax := r.cycles + uint32(r.maxSeq)
	expected := extendedMax - uint32(r.baseSeq) + 1
	var totalLost uint32
	if expected > r.received {
		totalLost = expected - r.received
	}

	expectedInterval := expected - r.expectedPrior
	receivedInterval := r.received - r.receivedPrior
	r.expectedPrior = expected
	r.receivedPrior = r.received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval > receivedInterval {
		lostInterval := expectedInterval - receivedInterval
		fraction = uint8((lostInterval << 8) / expectedInterval)
	}

	report = &rtcp.ReceiverReport{
		SSRC: r.ssrc,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               r.senderSSRC,
			FractionLost:       fraction,
			TotalLost:          totalLost,
			LastSequenceNumber: extendedMax,
			Jitter:             uint32(r.jitter),
		}},
	}
	summary = domain.ReceiverReport{
		FractionLost: float64(fraction) / 256,
		TotalLost:    totalLost,
		Jitter:       uint32(r.jitter),
		ReportedAt:   r.now(),
	}
	return report, summary, true
}

// RunFeedback sends a receiver report on the feedback channel every interval
// until ctx is done.
func (r *FrameReceiver) RunFeedback(ctx context.Context, interval time.Duration, transport Transport) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !transport.Ready() {
				continue
			}
			report, summary, ok := r.BuildReport()
			if !ok {
				continue
			}
			data, err := report.Marshal()
			if err != nil {
				r.logger.Warnw("failed to marshal receiver report", "error", err)
				continue
			}
			if err := transport.Send(ports.ChannelFeedback, data); err != nil {
				r.logger.Debugw("receiver report not sent", "error", err)
				continue
			}
			r.metrics.ReceiverReported(summary)
		}
	}
}

func (r *FrameReceiver) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
