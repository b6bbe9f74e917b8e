package services

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
	"camstream/pkg/utils"
	"camstream/pkg/validation"
)

type BroadcastState string

const (
	BroadcastIdle      BroadcastState = "idle"
	BroadcastLive      BroadcastState = "live"
	BroadcastLocalOnly BroadcastState = "local_only"
	BroadcastStopped   BroadcastState = "stopped"
)

type BroadcastConfig struct {
	Quality          QualityConfig
	SampleInterval   time.Duration
	RecordingEnabled bool
	// Upper bound on finalizing and archiving the recording in Stop.
	FinalizeTimeout time.Duration
}

// BroadcastDeps are the adapters a broadcast is built from. Signaling and
// Recorders may be nil to run without the network path or without local
// recording; Archiver is optional.
type BroadcastDeps struct {
	Preferences  ports.PreferencesProvider
	Capture      ports.CaptureSource
	Resources    ports.ResourceReader
	Signaling    ports.SignalingFactory
	Peers        ports.PeerSessionFactory
	NetworkSinks ports.NetworkSinkFactory
	Recorders    ports.RecorderFactory
	Router       ports.FrameRouterFactory
	Archiver     ports.RecordingArchiver
	GenerateCode func() (string, error)
}

type BroadcastStatus struct {
	State       BroadcastState         `json:"state"`
	SessionCode domain.SessionCode     `json:"session_code"`
	Signaling   string                 `json:"signaling"`
	Peer        domain.PeerState       `json:"peer"`
	Quality     domain.QualitySettings `json:"quality"`
	Recording   bool                   `json:"recording"`
	StartedAt   time.Time              `json:"started_at"`
}

// BroadcastService owns one broadcast: the capture source, the frame
// pipeline with its sinks, quality adaptation, and the signaling and peer
// sessions that carry frames to a viewer. Losing the network path degrades
// to a local-only broadcast while recording is on.
type BroadcastService struct {
	cfg     BroadcastConfig
	deps    BroadcastDeps
	logger  *zap.SugaredLogger
	metrics ports.Metrics

	mu         sync.Mutex
	state      BroadcastState
	code       domain.SessionCode
	startedAt  time.Time
	recordOn   bool
	channel    ports.SignalingChannel
	peer       ports.PeerSession
	sender     ports.FeedbackSink
	recorder   ports.Recorder
	router     ports.FrameRouter
	controller *AdaptiveQualityController
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
	session  *domain.RecordingSession
	stopErr  error
}

func NewBroadcastService(cfg BroadcastConfig, deps BroadcastDeps, logger *zap.SugaredLogger, metrics ports.Metrics) *BroadcastService {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	if deps.GenerateCode == nil {
		deps.GenerateCode = utils.GenerateSessionCode
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &BroadcastService{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "broadcast"),
		metrics: metrics,
		state:   BroadcastIdle,
		done:    make(chan struct{}),
	}
}

// Start builds the pipeline, opens signaling and starts capturing. It
// returns the session code viewers join with.
func (s *BroadcastService) Start(ctx context.Context) (domain.SessionCode, error) {
	s.mu.Lock()
	if s.state != BroadcastIdle {
		s.mu.Unlock()
		return "", fmt.Errorf("broadcast already %s", s.state)
	}

	prefs := s.deps.Preferences.Snapshot()
	recordingWanted := s.cfg.RecordingEnabled && s.deps.Recorders != nil
	if s.deps.Signaling == nil && !recordingWanted {
		s.mu.Unlock()
		return "", apperrors.NewInvalidInputError("broadcast needs signaling or local recording")
	}

	code, err := s.resolveSessionCode(ctx, prefs)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.code = code

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.controller = NewAdaptiveQualityController(s.cfg.Quality, s.deps.Preferences, s.logger, s.metrics)
	s.router = s.deps.Router(s.controller)
	s.recordOn = recordingWanted && !prefs.LocalRecordingDisabled
	s.router.SetRecordingEnabled(s.recordOn)
	s.controller.OnPreferencesChanged(s.preferencesChanged)

	if recordingWanted {
		s.recorder = s.deps.Recorders(code)
		s.router.SetRecordingSink(s.recorder)
	}

	if s.deps.Signaling != nil {
		s.channel = s.deps.Signaling(code, domain.RoleBroadcaster, ports.SignalingHandlers{
			OnState:   s.signalingState,
			OnMessage: s.signalingMessage,
		})
		s.peer = s.deps.Peers(code, domain.RoleBroadcaster, s.channel, ports.PeerHandlers{
			OnState:   s.peerState,
			OnMessage: s.peerMessage,
		})
		s.sender = s.deps.NetworkSinks(s.peer, nil)
		s.router.SetNetworkSink(s.sender)
		s.state = BroadcastLive
	} else {
		s.state = BroadcastLocalOnly
	}
	s.startedAt = time.Now()
	channel := s.channel
	s.mu.Unlock()

	if s.deps.Resources != nil {
		sampler := NewResourceSampler(s.deps.Resources, s.cfg.SampleInterval, s.logger, s.metrics)
		s.goRun(func() { sampler.Run(runCtx, s.controller.Samples()) })
	}
	s.goRun(func() { s.controller.Run(runCtx) })

	if channel != nil {
		channel.Open()
	}

	if err := s.deps.Capture.Start(runCtx, s.router.OnFrame); err != nil {
		s.logger.Errorw("failed to start capture", "error", err)
		s.Stop(ctx)
		return "", fmt.Errorf("failed to start capture: %w", err)
	}

	s.logger.Infow("broadcast started",
		"session_code", code,
		"signaling", channel != nil,
		"recording", s.recordOn,
	)
	return code, nil
}

// resolveSessionCode reuses the stored code when it is valid and otherwise
// generates and stores a new one.
func (s *BroadcastService) resolveSessionCode(ctx context.Context, prefs domain.Preferences) (domain.SessionCode, error) {
	if validation.ValidateSessionCode(string(prefs.SessionCode)) == nil {
		return prefs.SessionCode, nil
	}
	generated, err := s.deps.GenerateCode()
	if err != nil {
		return "", err
	}
	code := domain.SessionCode(generated)
	if err := s.deps.Preferences.StoreSessionCode(ctx, code); err != nil {
		s.logger.Warnw("failed to store session code", "session_code", code, "error", err)
	}
	return code, nil
}

func (s *BroadcastService) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *BroadcastService) preferencesChanged(p domain.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorder == nil {
		return
	}
	enabled := !p.LocalRecordingDisabled
	if enabled == s.recordOn {
		return
	}
	s.recordOn = enabled
	s.router.SetRecordingEnabled(enabled)
}

func (s *BroadcastService) signalingState(state domain.ConnectionState, cause error) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.HandleSignalingState(state)
	}
	if state == domain.StateClosed && !errors.Is(cause, domain.ErrChannelClosed) {
		s.degrade("signaling_closed", cause)
	}
}

func (s *BroadcastService) signalingMessage(msg domain.Message) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return
	}
	if e, ok := msg.(domain.ErrorMessage); ok {
		s.logger.Warnw("signaling server reported an error", "message", e.Message)
		return
	}
	peer.HandleMessage(msg)
}

func (s *BroadcastService) peerState(state domain.PeerState) {
	if state == domain.PeerStateGaveUp {
		s.degrade("peer_gave_up", nil)
	}
}

func (s *BroadcastService) peerMessage(label string, data []byte) {
	if label != ports.ChannelFeedback {
		return
	}
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}
	if _, err := sender.HandleFeedback(data); err != nil {
		s.logger.Debugw("ignoring malformed feedback", "error", err)
	}
}

// degrade reacts to losing the network path for good. With a working
// recording the broadcast carries on locally; otherwise it ends.
func (s *BroadcastService) degrade(reason string, cause error) {
	s.mu.Lock()
	if s.state != BroadcastLive {
		s.mu.Unlock()
		return
	}
	recording := s.recorder != nil && s.recordOn && !s.recorder.Disabled()
	if !recording {
		s.mu.Unlock()
		s.logger.Errorw("network path lost and local recording is off, ending broadcast",
			"reason", reason, "error", cause)
		go s.Stop(context.Background())
		return
	}

	s.state = BroadcastLocalOnly
	s.router.SetNetworkSink(nil)
	channel, peer, sender := s.channel, s.peer, s.sender
	s.channel, s.peer, s.sender = nil, nil, nil
	s.mu.Unlock()

	s.logger.Warnw("network path lost, continuing with local recording only",
		"reason", reason, "error", cause)
	// Called from the channel's or the peer's own goroutine.
	go closeNetwork(s.logger, channel, peer, sender)
}

func closeNetwork(logger *zap.SugaredLogger, channel ports.SignalingChannel, peer ports.PeerSession, sender ports.FeedbackSink) {
	if sender != nil {
		sender.Close()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			logger.Debugw("peer close", "error", err)
		}
	}
	if channel != nil {
		channel.Close()
	}
}

// Stop ends the broadcast and finalizes the recording. It is safe to call
// more than once; every call returns the same recording session, which is
// nil when nothing was recorded.
func (s *BroadcastService) Stop(ctx context.Context) (*domain.RecordingSession, error) {
	s.stopOnce.Do(func() {
		s.session, s.stopErr = s.stop(ctx)
		close(s.done)
	})
	<-s.done
	return s.session, s.stopErr
}

func (s *BroadcastService) stop(ctx context.Context) (*domain.RecordingSession, error) {
	s.mu.Lock()
	prev := s.state
	s.state = BroadcastStopped
	channel, peer, sender := s.channel, s.peer, s.sender
	recorder, cancel := s.recorder, s.cancel
	code := s.code
	s.mu.Unlock()

	if prev == BroadcastIdle {
		return nil, nil
	}

	if err := s.deps.Capture.Stop(); err != nil {
		s.logger.Warnw("failed to stop capture", "error", err)
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	closeNetwork(s.logger, channel, peer, sender)

	if recorder == nil {
		s.logger.Infow("broadcast stopped", "session_code", code)
		return nil, nil
	}

	ctx, done := context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
	defer done()

	session, err := recorder.Finalize(ctx)
	if err != nil {
		s.logger.Warnw("recording finished with errors", "error", err)
	}
	if session != nil {
		session.SessionCode = string(code)
		s.archive(ctx, session)
	}
	s.logger.Infow("broadcast stopped", "session_code", code, "recorded", session != nil)
	return session, err
}

func (s *BroadcastService) archive(ctx context.Context, session *domain.RecordingSession) {
	if s.deps.Archiver == nil {
		return
	}
	names, err := s.deps.Archiver.ArchiveFiles(ctx, session.Files()...)
	if err != nil {
		s.logger.Warnw("failed to archive recording", "path", session.OutputPath, "error", err)
		return
	}
	s.logger.Infow("recording archived", "objects", names)
}

// Done is closed once the broadcast has stopped, whether through Stop or
// because the network path was lost with nothing recording.
func (s *BroadcastService) Done() <-chan struct{} {
	return s.done
}

func (s *BroadcastService) State() BroadcastState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BroadcastService) Status() BroadcastStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := BroadcastStatus{
		State:       s.state,
		SessionCode: s.code,
		Signaling:   "disabled",
		Recording:   s.recorder != nil && s.recordOn && !s.recorder.Disabled(),
		StartedAt:   s.startedAt,
	}
	if s.channel != nil {
		status.Signaling = s.channel.State().String()
	}
	if s.peer != nil {
		status.Peer = s.peer.State()
	}
	if s.controller != nil {
		status.Quality = s.controller.Current()
	}
	return status
}
