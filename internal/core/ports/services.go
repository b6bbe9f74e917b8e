package ports

import (
	"context"
	"time"

	"camstream/internal/core/domain"
)

// Data channel labels.
const (
	ChannelFrames   = "frames"
	ChannelFeedback = "feedback"
)

// FrameSink receives frames from the pipeline. Accept must not block; it
// returns false when the frame was not taken.
type FrameSink interface {
	Accept(frame domain.FrameEnvelope, settings domain.QualitySettings) bool
}

// FrameHandler is called by a capture source for every captured frame, on
// whatever goroutine the source produces frames on.
type FrameHandler func(frame domain.RawFrame)

type CaptureSource interface {
	Start(ctx context.Context, handler FrameHandler) error
	Stop() error
}

// ResourceReader takes one reading of device load.
type ResourceReader interface {
	Read() (domain.ResourceSample, error)
}

// ProbeResult is the decoded body of a successful health probe.
type ProbeResult struct {
	ActiveSessions int
	Connections    int
}

// HealthProber performs one out-of-band liveness request.
type HealthProber interface {
	Probe(ctx context.Context) (ProbeResult, error)
}

// QualitySource exposes the current quality snapshot.
type QualitySource interface {
	Current() domain.QualitySettings
}

// PreferencesProvider caches the configuration store and refreshes it on demand.
type PreferencesProvider interface {
	Snapshot() domain.Preferences
	Refresh(ctx context.Context) error
	StoreSessionCode(ctx context.Context, code domain.SessionCode) error
}

// SignalingSender is the outbound half of a signaling channel.
type SignalingSender interface {
	Send(msg domain.Message) error
	State() domain.ConnectionState
}

// SignalingChannel is a reconnecting signaling client.
type SignalingChannel interface {
	SignalingSender
	Open()
	Close()
}

// SignalingHandlers receive channel events in order on one goroutine.
// OnState gets the cause of a Disconnected or Closed transition.
type SignalingHandlers struct {
	OnState   func(state domain.ConnectionState, cause error)
	OnMessage func(msg domain.Message)
}

type SignalingFactory func(code domain.SessionCode, role domain.Role, handlers SignalingHandlers) SignalingChannel

// PeerTransport is the data-channel side of a peer session.
type PeerTransport interface {
	Ready() bool
	Send(label string, data []byte) error
}

// PeerSession negotiates and owns the peer transport for one role.
type PeerSession interface {
	PeerTransport
	HandleSignalingState(state domain.ConnectionState)
	HandleMessage(msg domain.Message)
	State() domain.PeerState
	Close() error
}

type PeerHandlers struct {
	OnState   func(state domain.PeerState)
	OnMessage func(label string, data []byte)
}

type PeerSessionFactory func(code domain.SessionCode, role domain.Role, signaling SignalingSender, handlers PeerHandlers) PeerSession

// NetworkSink encodes frames for the peer transport.
type NetworkSink interface {
	FrameSink
	Ready() bool
}

// FeedbackSink is a network sink that also consumes the viewer's feedback.
type FeedbackSink interface {
	NetworkSink
	HandleFeedback(data []byte) ([]domain.ReceiverReport, error)
	Close()
}

type NetworkSinkFactory func(transport PeerTransport, onReport func(domain.ReceiverReport)) FeedbackSink

// RecordingSink is the local backup writer.
type RecordingSink interface {
	FrameSink
	Disabled() bool
}

// Recorder is a recording sink that is finalized exactly once.
type Recorder interface {
	RecordingSink
	Finalize(ctx context.Context) (*domain.RecordingSession, error)
}

type RecorderFactory func(code domain.SessionCode) Recorder

// FrameRouter takes captured frames and fans them out to the sinks.
type FrameRouter interface {
	OnFrame(frame domain.RawFrame)
	SetNetworkSink(sink NetworkSink)
	SetRecordingSink(sink RecordingSink)
	SetRecordingEnabled(enabled bool)
}

type FrameRouterFactory func(quality QualitySource) FrameRouter

// FrameConsumer reassembles frames on the viewer and reports reception
// quality back to the broadcaster.
type FrameConsumer interface {
	HandlePacket(data []byte) error
	RunFeedback(ctx context.Context, interval time.Duration, transport PeerTransport)
}

type FrameConsumerFactory func(onFrame func(domain.ReceivedFrame)) FrameConsumer

// RecordingArchiver copies finished recordings to long-term storage.
type RecordingArchiver interface {
	ArchiveFiles(ctx context.Context, paths ...string) ([]string, error)
}

// PeerConnection is the peer transport primitive. CreateOffer and
// CreateAnswer also apply the result as the local description.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(candidate domain.ICECandidate) error
	OnICECandidate(fn func(domain.ICECandidate))
	OnStateChange(fn func(domain.PeerState))
	OnMessage(fn func(label string, data []byte))
	Send(label string, data []byte) error
	Ready() bool
	Close() error
}

// PeerConnectionFactory builds a fresh connection for each negotiation.
type PeerConnectionFactory func(role domain.Role) (PeerConnection, error)

// Metrics receives operational measurements.
type Metrics interface {
	SignalingStateChanged(role domain.Role, state domain.ConnectionState)
	ReconnectScheduled(role domain.Role, attempt int, delay time.Duration)
	PeerStateChanged(state domain.PeerState)
	QualityChanged(settings domain.QualitySettings)
	ResourceSampled(sample domain.ResourceSample)
	FrameDecimated()
	FrameDispatched(sink string)
	FrameSkipped(sink, reason string)
	RecordingFinalized(session domain.RecordingSession)
	HealthProbed(latency time.Duration, ok bool)
	ReceiverReported(report domain.ReceiverReport)
	SignalingMessageRelayed(messageType domain.MessageType)
	ConnectionsChanged(delta int)
}
