package webrtc

import (
	"bytes"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

func marshalAll(t *testing.T, packets []*rtp.Packet) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(packets))
	for _, p := range packets {
		data, err := p.Marshal()
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func TestPacketizer_Chunks(t *testing.T) {
	p := newPacketizer(42, 104)
	frame := bytes.Repeat([]byte{0xAB}, 250)

	packets, err := p.packetize(frame, 9000)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	for i, pkt := range packets {
		assert.Equal(t, uint8(PayloadTypeJPEG), pkt.PayloadType)
		assert.Equal(t, uint32(9000), pkt.Timestamp)
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, i == 2, pkt.Marker)
		assert.LessOrEqual(t, len(pkt.Payload), 104)
	}

	next, err := p.packetize([]byte{1}, 12000)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, uint16(3), next[0].SequenceNumber)
	assert.True(t, next[0].Marker)

	assert.Equal(t, uint32(90000), RTPTimestamp(time.Second))
}

func TestFrameReceiver_ReassemblesOutOfOrder(t *testing.T) {
	var frames []ReceivedFrame
	r := NewFrameReceiver(func(f ReceivedFrame) { frames = append(frames, f) }, zap.NewNop().Sugar(), nil)

	p := newPacketizer(7, 20)
	frame := []byte("a jpeg image that spans several chunks")
	packets, err := p.packetize(frame, 3000)
	require.NoError(t, err)
	require.Greater(t, len(packets), 2)

	wire := marshalAll(t, packets)
	for i := len(wire) - 1; i >= 0; i-- {
		require.NoError(t, r.HandlePacket(wire[i]))
	}

	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0].JPEG)
	assert.Equal(t, uint32(3000), frames[0].Timestamp)

	// A late duplicate of a completed frame is ignored.
	require.NoError(t, r.HandlePacket(wire[0]))
	assert.Len(t, frames, 1)
	assert.Equal(t, uint64(1), r.Stats().FramesCompleted)
}

func TestFrameReceiver_LossAccounting(t *testing.T) {
	r := NewFrameReceiver(nil, zap.NewNop().Sugar(), nil)
	p := newPacketizer(7, 8)

	// Ten single-chunk frames, of which 2 and 5 never arrive.
	for i := 0; i < 10; i++ {
		packets, err := p.packetize([]byte{byte(i)}, uint32(i*3000))
		require.NoError(t, err)
		if i == 2 || i == 5 {
			continue
		}
		require.NoError(t, r.HandlePacket(marshalAll(t, packets)[0]))
	}

	report, summary, ok := r.BuildReport()
	require.True(t, ok)
	require.Len(t, report.Reports, 1)
	rr := report.Reports[0]
	assert.Equal(t, uint32(7), rr.SSRC)
	assert.Equal(t, uint32(2), rr.TotalLost)
	assert.Equal(t, uint8(2*256/10), rr.FractionLost)
	assert.Equal(t, uint32(9), rr.LastSequenceNumber)
	assert.InDelta(t, 0.2, summary.FractionLost, 0.01)

	// The next interval saw nothing new, so nothing was lost in it.
	report, _, _ = r.BuildReport()
	assert.Equal(t, uint8(0), report.Reports[0].FractionLost)
	assert.Equal(t, uint32(2), report.Reports[0].TotalLost)
	assert.Equal(t, uint64(8), r.Stats().FramesCompleted)
}

func TestFrameReceiver_RejectsMalformed(t *testing.T) {
	r := NewFrameReceiver(nil, zap.NewNop().Sugar(), nil)
	assert.Error(t, r.HandlePacket([]byte{0x01}))

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: PayloadTypeJPEG}, Payload: []byte{0, 5, 0, 2}}
	data, err := pkt.Marshal()
	require.NoError(t, err)
	assert.Error(t, r.HandlePacket(data), "chunk index beyond count")
	assert.Equal(t, uint64(2), r.Stats().MalformedPackets)

	_, _, ok := r.BuildReport()
	assert.False(t, ok)
}

type loopbackTransport struct {
	mu     sync.Mutex
	ready  bool
	frames [][]byte
	other  [][]byte
}

func (l *loopbackTransport) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *loopbackTransport) Send(label string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if label == ports.ChannelFrames {
		l.frames = append(l.frames, append([]byte(nil), data...))
	} else {
		l.other = append(l.other, append([]byte(nil), data...))
	}
	return nil
}

func (l *loopbackTransport) packets() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.frames...)
}

func TestFrameSender_EncodesAndFeedbackRoundTrip(t *testing.T) {
	transport := &loopbackTransport{ready: true}
	var reports []domain.ReceiverReport
	sender := NewFrameSender(SenderConfig{PayloadSize: 512, QueueSize: 4}, transport,
		func(r domain.ReceiverReport) { reports = append(reports, r) }, zap.NewNop().Sugar(), nil)

	frame := domain.FrameEnvelope{Data: make([]byte, 32*24*4), Width: 32, Height: 24, PresentationTime: time.Second, SequenceNumber: 1}
	settings := domain.QualitySettings{FrameDecimation: 1, ImageQuality: 0.5, BitrateBps: domain.MaxBitrateBps, ResolutionScale: 1}

	require.True(t, sender.Ready())
	require.True(t, sender.Accept(frame, settings))
	require.Eventually(t, func() bool { return sender.Stats().FramesSent == 1 }, 2*time.Second, 5*time.Millisecond)
	sender.Close()

	var got []ReceivedFrame
	receiver := NewFrameReceiver(func(f ReceivedFrame) { got = append(got, f) }, zap.NewNop().Sugar(), nil)
	for _, data := range transport.packets() {
		require.NoError(t, receiver.HandlePacket(data))
	}
	require.Len(t, got, 1)
	assert.Equal(t, RTPTimestamp(time.Second), got[0].Timestamp)

	img, err := jpeg.Decode(bytes.NewReader(got[0].JPEG))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	rr, _, ok := receiver.BuildReport()
	require.True(t, ok)
	data, err := rr.Marshal()
	require.NoError(t, err)

	parsed, err := sender.HandleFeedback(data)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, uint32(0), parsed[0].TotalLost)
	assert.Len(t, reports, 1)
	last, ok := sender.LastReport()
	assert.True(t, ok)
	assert.Equal(t, parsed[0], last)

	_, err = sender.HandleFeedback([]byte{0xff})
	assert.Error(t, err)
}

func TestFrameSender_SkipsWhenTransportNotReady(t *testing.T) {
	transport := &loopbackTransport{}
	sender := NewFrameSender(SenderConfig{PayloadSize: 512}, transport, nil, zap.NewNop().Sugar(), nil)
	defer sender.Close()

	assert.False(t, sender.Ready())
	sender.Accept(domain.FrameEnvelope{Data: make([]byte, 16), Width: 2, Height: 2}, domain.QualitySettings{ImageQuality: 0.5, BitrateBps: domain.MinBitrateBps})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, transport.packets())
}
