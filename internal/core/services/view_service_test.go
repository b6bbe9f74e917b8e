package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
)

type fakeConsumer struct {
	mu        sync.Mutex
	onFrame   func(domain.ReceivedFrame)
	packets   [][]byte
	transport ports.PeerTransport
	running   bool
}

func (c *fakeConsumer) HandlePacket(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty packet")
	}
	c.mu.Lock()
	c.packets = append(c.packets, data)
	c.mu.Unlock()
	c.onFrame(domain.ReceivedFrame{JPEG: data, ReceivedAt: time.Now()})
	return nil
}

func (c *fakeConsumer) RunFeedback(ctx context.Context, interval time.Duration, transport ports.PeerTransport) {
	c.mu.Lock()
	c.transport = transport
	c.running = true
	c.mu.Unlock()
	<-ctx.Done()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *fakeConsumer) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type viewFixture struct {
	channel  *fakeChannel
	peer     *fakePeer
	consumer *fakeConsumer
	prober   *scriptedProber
	frames   []domain.ReceivedFrame
	deps     ViewDeps
}

func newViewFixture() *viewFixture {
	f := &viewFixture{
		channel:  &fakeChannel{},
		peer:     &fakePeer{},
		consumer: &fakeConsumer{},
		prober:   &scriptedProber{},
	}
	f.deps = ViewDeps{
		Signaling: func(code domain.SessionCode, role domain.Role, h ports.SignalingHandlers) ports.SignalingChannel {
			f.channel.handlers = h
			return f.channel
		},
		Peers: func(code domain.SessionCode, role domain.Role, sig ports.SignalingSender, h ports.PeerHandlers) ports.PeerSession {
			f.peer.handlers = h
			return f.peer
		},
		Receivers: func(onFrame func(domain.ReceivedFrame)) ports.FrameConsumer {
			f.consumer.onFrame = onFrame
			return f.consumer
		},
		Health:  f.prober,
		OnFrame: func(frame domain.ReceivedFrame) { f.frames = append(f.frames, frame) },
	}
	return f
}

func (f *viewFixture) start(t *testing.T) *ViewService {
	t.Helper()
	cfg := ViewConfig{Health: DefaultHealthConfig()}
	cfg.Health.MinInterval = time.Hour
	cfg.Health.MaxInterval = time.Hour
	v := NewViewService(cfg, f.deps, zap.NewNop().Sugar(), nil)
	require.NoError(t, v.Start(context.Background(), "123456"))
	t.Cleanup(v.Stop)
	return v
}

func TestViewService_RejectsBadCode(t *testing.T) {
	v := NewViewService(ViewConfig{}, newViewFixture().deps, zap.NewNop().Sugar(), nil)
	err := v.Start(context.Background(), "12")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestViewService_RoutesSignalingAndFrames(t *testing.T) {
	f := newViewFixture()
	v := f.start(t)

	assert.True(t, f.channel.opened)
	require.Eventually(t, f.consumer.isRunning, time.Second, 5*time.Millisecond)

	f.channel.emitState(domain.StateConnected, nil)
	f.channel.handlers.OnMessage(domain.OfferMessage{SDP: "v=0", SessionCode: "123456"})
	assert.Equal(t, []domain.ConnectionState{domain.StateConnected}, f.peer.signaling)
	require.Len(t, f.peer.messages, 1)
	assert.True(t, v.Status().BroadcasterPresent)

	f.peer.handlers.OnMessage(ports.ChannelFrames, []byte("jpeg"))
	f.peer.handlers.OnMessage(ports.ChannelFeedback, []byte("ignored"))
	f.peer.handlers.OnMessage(ports.ChannelFrames, nil)

	require.Len(t, f.frames, 1)
	status := v.Status()
	assert.Equal(t, uint64(1), status.FramesReceived)
	assert.False(t, status.LastFrameAt.IsZero())
	assert.Equal(t, "connected", status.Signaling)

	f.channel.handlers.OnMessage(domain.PeerDisconnectedMessage{})
	assert.False(t, v.Status().BroadcasterPresent)
	assert.Len(t, f.peer.messages, 2)
}

func TestViewService_ProbesHealthOnDisconnect(t *testing.T) {
	f := newViewFixture()
	v := f.start(t)

	require.Eventually(t, func() bool { return f.prober.count() == 1 }, time.Second, 5*time.Millisecond)
	f.channel.emitState(domain.StateDisconnected, errors.New("read failed"))
	require.Eventually(t, func() bool { return f.prober.count() == 2 }, time.Second, 5*time.Millisecond)

	v.NetworkAvailable()
	require.Eventually(t, func() bool { return f.prober.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, v.Status().Health.Reachable)
}

func TestViewService_SignalingExhaustedEndsView(t *testing.T) {
	f := newViewFixture()
	v := f.start(t)

	f.channel.emitState(domain.StateClosed, domain.ErrReconnectExhausted)
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("viewer did not stop")
	}
	assert.True(t, f.peer.isClosed())
	assert.False(t, f.consumer.isRunning())
}

func TestViewService_StopIsIdempotent(t *testing.T) {
	f := newViewFixture()
	v := f.start(t)

	v.Stop()
	v.Stop()
	assert.True(t, f.channel.isClosed())
	assert.True(t, f.peer.isClosed())
	assert.Error(t, v.Start(context.Background(), "123456"))
}
