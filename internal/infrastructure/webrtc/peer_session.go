package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/retry"
	"camstream/pkg/tracing"
)

const negotiationTimeout = 10 * time.Second

// SessionConfig configures one side of a peer session.
type SessionConfig struct {
	Role        domain.Role
	SessionCode domain.SessionCode
	// Renegotiation schedule after the transport fails. Only the offering
	// side renegotiates.
	Renegotiate retry.Policy
}

// SessionHandlers are called from transport goroutines; they must not block.
type SessionHandlers = ports.PeerHandlers

// PeerSession drives offer/answer and candidate exchange for one peer
// transport over the signaling channel. Remote candidates that arrive before
// the remote description are held back and applied right after it is set.
type PeerSession struct {
	cfg       SessionConfig
	factory   ports.PeerConnectionFactory
	signaling ports.SignalingSender
	handlers  SessionHandlers
	logger    *zap.SugaredLogger
	metrics   ports.Metrics

	mu           sync.Mutex
	pc           ports.PeerConnection
	gen          uint64
	remoteSet    bool
	answered     bool
	pending      []domain.ICECandidate
	state        domain.PeerState
	backoff      *retry.Backoff
	retryTimer   *time.Timer
	offerPending bool
	closed       bool
}

var _ ports.PeerSession = (*PeerSession)(nil)

func NewPeerSession(cfg SessionConfig, factory ports.PeerConnectionFactory, signaling ports.SignalingSender, handlers SessionHandlers, logger *zap.SugaredLogger, metrics ports.Metrics) *PeerSession {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PeerSession{
		cfg:       cfg,
		factory:   factory,
		signaling: signaling,
		handlers:  handlers,
		logger:    logger.With("component", "peer_session", "role", string(cfg.Role), "session_code", string(cfg.SessionCode)),
		metrics:   metrics,
		state:     domain.PeerStateNew,
		backoff:   retry.NewBackoff(cfg.Renegotiate),
	}
}

// State returns the last reported transport state.
func (s *PeerSession) State() domain.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleSignalingState reacts to signaling channel transitions. The offerer
// (re)offers whenever signaling comes up and the transport is not connected.
func (s *PeerSession) HandleSignalingState(state domain.ConnectionState) {
	if state != domain.StateConnected || s.cfg.Role != domain.RoleBroadcaster {
		return
	}

	s.mu.Lock()
	if s.closed || s.state == domain.PeerStateGaveUp {
		s.mu.Unlock()
		return
	}
	if s.retryTimer != nil || (s.state == domain.PeerStateConnected && !s.offerPending) {
		s.mu.Unlock()
		return
	}
	s.offerPending = false
	s.mu.Unlock()

	if err := s.Offer(); err != nil {
		s.logger.Warnw("failed to send offer", "error", err)
	}
}

// HandleMessage applies one inbound signaling message.
func (s *PeerSession) HandleMessage(msg domain.Message) {
	switch m := msg.(type) {
	case domain.OfferMessage:
		if s.cfg.Role != domain.RoleViewer {
			s.logger.Warnw("ignoring offer on offering side")
			return
		}
		if err := s.answer(m); err != nil {
			s.logger.Errorw("failed to answer offer", "error", err)
		}
	case domain.AnswerMessage:
		if s.cfg.Role != domain.RoleBroadcaster {
			s.logger.Warnw("ignoring answer on answering side")
			return
		}
		if err := s.applyAnswer(m); err != nil {
			s.logger.Errorw("failed to apply answer", "error", err)
		}
	case domain.ICECandidateMessage:
		if err := s.addRemoteCandidate(m.ICE()); err != nil {
			s.logger.Warnw("failed to add remote candidate", "error", err)
		}
	case domain.PeerDisconnectedMessage:
		if s.cfg.Role == domain.RoleViewer {
			s.logger.Infow("broadcaster left, waiting for a new offer")
			s.dropConnection(domain.PeerStateDisconnected)
		}
	case domain.ErrorMessage:
		s.logger.Warnw("signaling server reported error", "message", m.Message)
	case domain.ConnectMessage, domain.PingMessage, domain.PongMessage, domain.ConnectedMessage:
	}
}

// Offer builds a fresh transport and sends an offer for it.
func (s *PeerSession) Offer() error {
	ctx, span := tracing.TraceNegotiation(context.Background(), "offer", string(s.cfg.SessionCode), string(s.cfg.Role))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()

	pc, gen, err := s.replaceConnection()
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	desc, err := pc.CreateOffer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewNegotiationError(err, "failed to create offer")
	}

	if !s.current(gen) {
		return nil
	}
	if err := s.signaling.Send(domain.OfferMessage{SDP: desc.SDP, SessionCode: s.cfg.SessionCode}); err != nil {
		s.mu.Lock()
		s.offerPending = true
		s.mu.Unlock()
		return fmt.Errorf("send offer: %w", err)
	}
	s.logger.Infow("offer sent", "generation", gen)
	return nil
}

func (s *PeerSession) answer(offer domain.OfferMessage) error {
	ctx, span := tracing.TraceNegotiation(context.Background(), "answer", string(s.cfg.SessionCode), string(s.cfg.Role))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()

	// A new offer replaces whatever transport we had.
	pc, gen, err := s.replaceConnection()
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	if err := s.setRemote(pc, gen, domain.SessionDescription{Type: "offer", SDP: offer.SDP}); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	desc, err := pc.CreateAnswer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewNegotiationError(err, "failed to create answer")
	}
	if !s.current(gen) {
		return nil
	}
	if err := s.signaling.Send(domain.AnswerMessage{SDP: desc.SDP, SessionCode: s.cfg.SessionCode}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	s.logger.Infow("answer sent", "generation", gen)
	return nil
}

func (s *PeerSession) applyAnswer(answer domain.AnswerMessage) error {
	s.mu.Lock()
	pc, gen := s.pc, s.gen
	if pc == nil {
		s.mu.Unlock()
		return domain.ErrNoRemoteDescription
	}
	if s.answered {
		s.mu.Unlock()
		// One viewer per negotiation: later answers to the same offer are dropped.
		s.logger.Warnw("dropping extra answer for current offer", "generation", gen)
		return nil
	}
	s.answered = true
	s.mu.Unlock()

	_, span := tracing.TraceNegotiation(context.Background(), "apply_answer", string(s.cfg.SessionCode), string(s.cfg.Role))
	defer span.End()
	return s.setRemote(pc, gen, domain.SessionDescription{Type: "answer", SDP: answer.SDP})
}

// setRemote applies desc and flushes the candidates buffered for gen.
func (s *PeerSession) setRemote(pc ports.PeerConnection, gen uint64, desc domain.SessionDescription) error {
	if err := pc.SetRemoteDescription(desc); err != nil {
		return apperrors.NewNegotiationError(err, "failed to set remote description")
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.logger.Warnw("failed to add buffered candidate", "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Debugw("flushed buffered candidates", "count", len(pending))
	}
	return nil
}

func (s *PeerSession) addRemoteCandidate(c domain.ICECandidate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrPeerClosed
	}
	if s.pc == nil || !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()
	return pc.AddICECandidate(c)
}

// replaceConnection closes the current transport and installs a new one.
// Buffered candidates belong to the old negotiation and are discarded.
func (s *PeerSession) replaceConnection() (ports.PeerConnection, uint64, error) {
	pc, err := s.factory(s.cfg.Role)
	if err != nil {
		return nil, 0, apperrors.NewNegotiationError(err, "failed to create peer connection")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pc.Close()
		return nil, 0, domain.ErrPeerClosed
	}
	old := s.pc
	s.gen++
	gen := s.gen
	s.pc = pc
	s.remoteSet = false
	s.answered = false
	if s.cfg.Role == domain.RoleBroadcaster {
		// Candidates only ever come from the answer to our newest offer.
		s.pending = nil
	}
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	pc.OnICECandidate(func(c domain.ICECandidate) { s.sendLocalCandidate(gen, c) })
	pc.OnStateChange(func(state domain.PeerState) { s.handleState(gen, state) })
	pc.OnMessage(func(label string, data []byte) {
		if s.current(gen) && s.handlers.OnMessage != nil {
			s.handlers.OnMessage(label, data)
		}
	})
	return pc, gen, nil
}

func (s *PeerSession) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

func (s *PeerSession) sendLocalCandidate(gen uint64, c domain.ICECandidate) {
	if !s.current(gen) {
		return
	}
	err := s.signaling.Send(domain.ICECandidateMessage{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
		SessionCode:   s.cfg.SessionCode,
	})
	if err != nil {
		s.logger.Debugw("local candidate not sent", "error", err)
	}
}

func (s *PeerSession) handleState(gen uint64, state domain.PeerState) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	switch state {
	case domain.PeerStateConnected:
		s.backoff.Reset()
		stopTimer(&s.retryTimer)
	case domain.PeerStateFailed, domain.PeerStateDisconnected:
		if s.cfg.Role == domain.RoleBroadcaster && s.retryTimer == nil {
			s.scheduleRenegotiationLocked(gen)
		}
	}
	final := s.state
	s.mu.Unlock()

	s.report(final)
}

func (s *PeerSession) scheduleRenegotiationLocked(gen uint64) {
	delay, ok := s.backoff.Next()
	if !ok {
		s.state = domain.PeerStateGaveUp
		s.logger.Errorw("renegotiation attempts exhausted", "attempts", s.backoff.Attempt())
		return
	}
	attempt := s.backoff.Attempt()
	s.logger.Infow("scheduling renegotiation", "attempt", attempt, "delay", delay)
	s.retryTimer = time.AfterFunc(delay, func() { s.renegotiate(gen) })
}

func (s *PeerSession) renegotiate(gen uint64) {
	s.mu.Lock()
	s.retryTimer = nil
	if s.closed || gen != s.gen || s.state == domain.PeerStateConnected {
		s.mu.Unlock()
		return
	}
	if s.signaling.State() != domain.StateConnected {
		// Offer as soon as signaling is back.
		s.offerPending = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.Offer(); err != nil {
		s.logger.Warnw("renegotiation offer failed", "error", err)
		if errors.Is(err, domain.ErrPeerClosed) {
			return
		}
		s.mu.Lock()
		if !s.closed && s.retryTimer == nil && s.state != domain.PeerStateConnected {
			s.scheduleRenegotiationLocked(s.gen)
		}
		state := s.state
		s.mu.Unlock()
		if state == domain.PeerStateGaveUp {
			s.report(state)
		}
	}
}

func (s *PeerSession) report(state domain.PeerState) {
	s.metrics.PeerStateChanged(state)
	if s.handlers.OnState != nil {
		s.handlers.OnState(state)
	}
}

func (s *PeerSession) dropConnection(state domain.PeerState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.pc
	s.pc = nil
	s.gen++
	s.remoteSet = false
	s.pending = nil
	s.state = state
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	s.report(state)
}

// Ready reports whether frames can be sent to the peer.
func (s *PeerSession) Ready() bool {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	return pc != nil && pc.Ready()
}

// Send writes data on the named data channel of the current transport.
func (s *PeerSession) Send(label string, data []byte) error {
	s.mu.Lock()
	pc, closed := s.pc, s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrPeerClosed
	}
	if pc == nil {
		return domain.ErrNotConnected
	}
	return pc.Send(label, data)
}

// Close tears down the transport. Safe to call more than once.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stopTimer(&s.retryTimer)
	pc := s.pc
	s.pc = nil
	s.pending = nil
	s.state = domain.PeerStateClosed
	s.mu.Unlock()

	s.metrics.PeerStateChanged(domain.PeerStateClosed)
	if pc != nil {
		return pc.Close()
	}
	return nil
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
