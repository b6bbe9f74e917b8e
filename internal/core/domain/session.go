package domain

// SessionCode is the fixed-width numeric rendezvous key shared by a broadcaster
// and its viewers. It does not change for the lifetime of a broadcast.
type SessionCode string

type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

// ConnectionState is the lifecycle state of a signaling channel.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerState mirrors the peer transport's connection state plus GaveUp, which
// is reported once renegotiation attempts are exhausted.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
	PeerStateGaveUp       PeerState = "gave_up"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// ICECandidate is a trickled connectivity candidate.
type ICECandidate struct {
	Candidate     string
	SDPMLineIndex *uint16
	SDPMid        *string
}
