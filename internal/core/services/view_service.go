package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/validation"
)

type ViewConfig struct {
	FeedbackInterval time.Duration
	Health           HealthConfig
}

// ViewDeps are the adapters a viewer is built from. Health may be nil to
// skip out-of-band probing; OnFrame receives every reassembled frame.
type ViewDeps struct {
	Signaling ports.SignalingFactory
	Peers     ports.PeerSessionFactory
	Receivers ports.FrameConsumerFactory
	Health    ports.HealthProber
	OnFrame   func(domain.ReceivedFrame)
}

type ViewStatus struct {
	SessionCode        domain.SessionCode  `json:"session_code"`
	Signaling          string              `json:"signaling"`
	Peer               domain.PeerState    `json:"peer"`
	BroadcasterPresent bool                `json:"broadcaster_present"`
	FramesReceived     uint64              `json:"frames_received"`
	LastFrameAt        time.Time           `json:"last_frame_at"`
	Health             domain.HealthStatus `json:"health"`
}

// ViewService joins a broadcast as a viewer: it answers the broadcaster's
// offers, reassembles frames, reports reception quality back and watches
// the signaling server's health out of band.
type ViewService struct {
	cfg     ViewConfig
	deps    ViewDeps
	logger  *zap.SugaredLogger
	metrics ports.Metrics

	mu          sync.Mutex
	started     bool
	code        domain.SessionCode
	channel     ports.SignalingChannel
	peer        ports.PeerSession
	receiver    ports.FrameConsumer
	monitor     *ConnectionHealthMonitor
	present     bool
	frames      uint64
	lastFrameAt time.Time
	wasOnline   bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

func NewViewService(cfg ViewConfig, deps ViewDeps, logger *zap.SugaredLogger, metrics ports.Metrics) *ViewService {
	if cfg.FeedbackInterval <= 0 {
		cfg.FeedbackInterval = 2 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &ViewService{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "viewer"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start joins the session identified by code.
func (v *ViewService) Start(ctx context.Context, code domain.SessionCode) error {
	if err := validation.ValidateSessionCode(string(code)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	v.mu.Lock()
	if v.started {
		v.mu.Unlock()
		return errors.New("viewer already started")
	}
	v.started = true
	v.code = code

	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	v.receiver = v.deps.Receivers(v.frameReceived)
	v.channel = v.deps.Signaling(code, domain.RoleViewer, ports.SignalingHandlers{
		OnState:   v.signalingState,
		OnMessage: v.signalingMessage,
	})
	v.peer = v.deps.Peers(code, domain.RoleViewer, v.channel, ports.PeerHandlers{
		OnState:   v.peerState,
		OnMessage: v.peerMessage,
	})
	if v.deps.Health != nil {
		v.monitor = NewConnectionHealthMonitor(v.cfg.Health, v.deps.Health, v.healthChanged, v.logger, v.metrics)
	}
	receiver, peer, monitor, channel := v.receiver, v.peer, v.monitor, v.channel
	v.mu.Unlock()

	v.goRun(func() { receiver.RunFeedback(runCtx, v.cfg.FeedbackInterval, peer) })
	if monitor != nil {
		v.goRun(func() { monitor.Run(runCtx) })
	}
	channel.Open()

	v.logger.Infow("viewer started", "session_code", code)
	return nil
}

func (v *ViewService) goRun(fn func()) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn()
	}()
}

func (v *ViewService) frameReceived(frame domain.ReceivedFrame) {
	v.mu.Lock()
	v.frames++
	v.lastFrameAt = frame.ReceivedAt
	v.mu.Unlock()
	if v.deps.OnFrame != nil {
		v.deps.OnFrame(frame)
	}
}

func (v *ViewService) signalingState(state domain.ConnectionState, cause error) {
	v.mu.Lock()
	peer, monitor := v.peer, v.monitor
	reconnected := state == domain.StateConnected && v.wasOnline
	if state == domain.StateConnected {
		v.wasOnline = true
	}
	v.mu.Unlock()

	peer.HandleSignalingState(state)

	switch state {
	case domain.StateDisconnected:
		// A dropped socket says little about the server; ask it directly.
		if monitor != nil {
			monitor.ProbeNow()
		}
	case domain.StateConnected:
		if reconnected {
			v.logger.Infow("signaling reconnected, waiting for a new offer")
		}
	case domain.StateClosed:
		if !errors.Is(cause, domain.ErrChannelClosed) {
			v.logger.Errorw("signaling closed, leaving session", "error", cause)
			go v.Stop()
		}
	}
}

func (v *ViewService) signalingMessage(msg domain.Message) {
	switch m := msg.(type) {
	case domain.OfferMessage:
		v.setPresent(true)
	case domain.PeerDisconnectedMessage:
		v.logger.Infow("broadcaster left the session")
		v.setPresent(false)
	case domain.ErrorMessage:
		v.logger.Warnw("signaling server reported an error", "message", m.Message)
		return
	}
	v.mu.Lock()
	peer := v.peer
	v.mu.Unlock()
	peer.HandleMessage(msg)
}

func (v *ViewService) setPresent(present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.present = present
}

func (v *ViewService) peerState(state domain.PeerState) {
	v.logger.Debugw("peer state", "state", state)
}

func (v *ViewService) peerMessage(label string, data []byte) {
	if label != ports.ChannelFrames {
		return
	}
	v.mu.Lock()
	receiver := v.receiver
	v.mu.Unlock()
	if err := receiver.HandlePacket(data); err != nil {
		v.logger.Debugw("dropping frame packet", "error", err)
	}
}

func (v *ViewService) healthChanged(status domain.HealthStatus) {
	if !status.Reachable {
		v.logger.Debugw("signaling server unreachable", "error", status.LastError, "next_probe", status.Interval)
	}
}

// NetworkAvailable tells the viewer the device regained connectivity.
func (v *ViewService) NetworkAvailable() {
	v.mu.Lock()
	monitor := v.monitor
	v.mu.Unlock()
	if monitor != nil {
		monitor.NetworkAvailable()
	}
}

// Stop leaves the session. It is idempotent.
func (v *ViewService) Stop() {
	v.stopOnce.Do(func() {
		v.mu.Lock()
		channel, peer, cancel := v.channel, v.peer, v.cancel
		v.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if channel != nil {
			channel.Close()
		}
		if peer != nil {
			if err := peer.Close(); err != nil {
				v.logger.Debugw("peer close", "error", err)
			}
		}
		v.wg.Wait()
		v.logger.Infow("viewer stopped", "session_code", v.code, "frames", v.Status().FramesReceived)
		close(v.done)
	})
	<-v.done
}

func (v *ViewService) Done() <-chan struct{} {
	return v.done
}

func (v *ViewService) Status() ViewStatus {
	v.mu.Lock()
	status := ViewStatus{
		SessionCode:        v.code,
		Signaling:          domain.StateIdle.String(),
		Peer:               domain.PeerStateNew,
		BroadcasterPresent: v.present,
		FramesReceived:     v.frames,
		LastFrameAt:        v.lastFrameAt,
	}
	channel, peer, monitor := v.channel, v.peer, v.monitor
	v.mu.Unlock()

	if channel != nil {
		status.Signaling = channel.State().String()
	}
	if peer != nil {
		status.Peer = peer.State()
	}
	if monitor != nil {
		status.Health = monitor.Status()
	}
	return status
}
