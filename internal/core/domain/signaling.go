package domain

// MessageType is the value of the "type" field on the signaling wire.
type MessageType string

const (
	MessageConnect          MessageType = "connect"
	MessagePing             MessageType = "ping"
	MessagePong             MessageType = "pong"
	MessageOffer            MessageType = "offer"
	MessageAnswer           MessageType = "answer"
	MessageICECandidate     MessageType = "ice"
	MessageError            MessageType = "error"
	MessageConnected        MessageType = "connected"
	MessagePeerDisconnected MessageType = "broadcaster_disconnected"
)

// Message is a signaling message. The set of implementations is closed;
// consumers switch over the concrete types.
type Message interface {
	Type() MessageType
}

type ConnectMessage struct {
	SessionCode SessionCode
	Role        Role
	Timestamp   int64 // Unix milliseconds
}

type PingMessage struct {
	Timestamp int64
}

type PongMessage struct {
	Timestamp int64
}

type OfferMessage struct {
	SDP         string
	SessionCode SessionCode
}

type AnswerMessage struct {
	SDP         string
	SessionCode SessionCode
}

type ICECandidateMessage struct {
	Candidate     string
	SDPMLineIndex *uint16
	SDPMid        *string
	SessionCode   SessionCode
}

type ErrorMessage struct {
	Message string
}

// ConnectedMessage is the server's acknowledgement of a connect message.
type ConnectedMessage struct{}

// PeerDisconnectedMessage tells viewers that the broadcaster left.
type PeerDisconnectedMessage struct{}

func (ConnectMessage) Type() MessageType          { return MessageConnect }
func (PingMessage) Type() MessageType             { return MessagePing }
func (PongMessage) Type() MessageType             { return MessagePong }
func (OfferMessage) Type() MessageType            { return MessageOffer }
func (AnswerMessage) Type() MessageType           { return MessageAnswer }
func (ICECandidateMessage) Type() MessageType     { return MessageICECandidate }
func (ErrorMessage) Type() MessageType            { return MessageError }
func (ConnectedMessage) Type() MessageType        { return MessageConnected }
func (PeerDisconnectedMessage) Type() MessageType { return MessagePeerDisconnected }

// ICE converts the message payload into an ICECandidate.
func (m ICECandidateMessage) ICE() ICECandidate {
	return ICECandidate{Candidate: m.Candidate, SDPMLineIndex: m.SDPMLineIndex, SDPMid: m.SDPMid}
}
