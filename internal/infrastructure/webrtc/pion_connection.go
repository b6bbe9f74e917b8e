package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// Config holds the peer transport settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// NewPeerConnectionFactory returns a factory building pion peer connections.
// The broadcaster side creates the data channels; the viewer side receives
// them from the remote offer.
func NewPeerConnectionFactory(cfg Config, logger *zap.SugaredLogger) ports.PeerConnectionFactory {
	return func(role domain.Role) (ports.PeerConnection, error) {
		return newPionConnection(cfg, role, logger)
	}
}

type pionConnection struct {
	pc     *webrtc.PeerConnection
	role   domain.Role
	logger *zap.SugaredLogger

	mu          sync.RWMutex
	channels    map[string]*webrtc.DataChannel
	onMessage   func(label string, data []byte)
	onCandidate func(domain.ICECandidate)
	onState     func(domain.PeerState)
}

func newPionConnection(cfg Config, role domain.Role, logger *zap.SugaredLogger) (*pionConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &pionConnection{
		pc:       pc,
		role:     role,
		logger:   logger.With("component", "peer_connection", "role", string(role)),
		channels: make(map[string]*webrtc.DataChannel),
	}

	pc.OnICECandidate(c.handleICECandidate)
	pc.OnConnectionStateChange(c.handleConnectionState)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.logger.Debugw("ICE connection state changed", "ice_state", state.String())
	})

	if role == domain.RoleBroadcaster {
		ordered := false
		maxRetransmits := uint16(0)
		frames, err := pc.CreateDataChannel(ports.ChannelFrames, &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &maxRetransmits,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create frames channel: %w", err)
		}
		feedback, err := pc.CreateDataChannel(ports.ChannelFeedback, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to create feedback channel: %w", err)
		}
		c.attach(frames)
		c.attach(feedback)
	} else {
		pc.OnDataChannel(c.attach)
	}

	return c, nil
}

func (c *pionConnection) attach(dc *webrtc.DataChannel) {
	label := dc.Label()
	c.mu.Lock()
	c.channels[label] = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Infow("data channel open", "label", label)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.RLock()
		fn := c.onMessage
		c.mu.RUnlock()
		if fn != nil {
			fn(label, msg.Data)
		}
	})
}

func (c *pionConnection) handleICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	c.mu.RLock()
	fn := c.onCandidate
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	init := candidate.ToJSON()
	fn(domain.ICECandidate{
		Candidate:     init.Candidate,
		SDPMLineIndex: init.SDPMLineIndex,
		SDPMid:        init.SDPMid,
	})
}

func (c *pionConnection) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Infow("peer connection state changed", "connection_state", state.String())
	c.mu.RLock()
	fn := c.onState
	c.mu.RUnlock()
	if fn != nil {
		fn(peerState(state))
	}
}

func peerState(state webrtc.PeerConnectionState) domain.PeerState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerStateClosed
	default:
		return domain.PeerStateNew
	}
}

func (c *pionConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, ctx.Err()
}

func (c *pionConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, ctx.Err()
}

func (c *pionConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (c *pionConnection) AddICECandidate(candidate domain.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (c *pionConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *pionConnection) OnStateChange(fn func(domain.PeerState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *pionConnection) OnMessage(fn func(label string, data []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *pionConnection) Send(label string, data []byte) error {
	c.mu.RLock()
	dc, ok := c.channels[label]
	c.mu.RUnlock()
	if !ok || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel %q not open", label)
	}
	return dc.Send(data)
}

// Ready reports whether the frames channel is open.
func (c *pionConnection) Ready() bool {
	c.mu.RLock()
	dc, ok := c.channels[ports.ChannelFrames]
	c.mu.RUnlock()
	return ok && dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}
