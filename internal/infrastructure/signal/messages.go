package signal

import (
	"encoding/json"
	"fmt"

	"camstream/internal/core/domain"
)

// wireMessage is the JSON shape shared by every signaling message. Pointer
// fields distinguish "absent" from "zero".
type wireMessage struct {
	Type          string  `json:"type"`
	SessionCode   *string `json:"sessionCode,omitempty"`
	Role          *string `json:"role,omitempty"`
	Timestamp     *int64  `json:"timestamp,omitempty"`
	SDP           *string `json:"sdp,omitempty"`
	Candidate     *string `json:"candidate,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	Message       *string `json:"message,omitempty"`
}

// Encode serializes msg to its wire form.
func Encode(msg domain.Message) ([]byte, error) {
	w := wireMessage{Type: string(msg.Type())}

	switch m := msg.(type) {
	case domain.ConnectMessage:
		code, role := string(m.SessionCode), string(m.Role)
		w.SessionCode, w.Role, w.Timestamp = &code, &role, &m.Timestamp
	case domain.PingMessage:
		w.Timestamp = &m.Timestamp
	case domain.PongMessage:
		w.Timestamp = &m.Timestamp
	case domain.OfferMessage:
		w.SDP, w.SessionCode = &m.SDP, optionalCode(m.SessionCode)
	case domain.AnswerMessage:
		w.SDP, w.SessionCode = &m.SDP, optionalCode(m.SessionCode)
	case domain.ICECandidateMessage:
		w.Candidate = &m.Candidate
		w.SDPMLineIndex, w.SDPMid = m.SDPMLineIndex, m.SDPMid
		w.SessionCode = optionalCode(m.SessionCode)
	case domain.ErrorMessage:
		w.Message = &m.Message
	case domain.ConnectedMessage, domain.PeerDisconnectedMessage:
	default:
		return nil, fmt.Errorf("cannot encode message of type %T", msg)
	}

	return json.Marshal(w)
}

// Decode parses one wire frame. Frames that are not JSON objects, lack a
// type, carry an unknown type or miss a required field are rejected.
func Decode(data []byte) (domain.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid message json: %w", err)
	}
	if w.Type == "" {
		return nil, domain.ErrMissingType
	}

	switch domain.MessageType(w.Type) {
	case domain.MessageConnect:
		if w.SessionCode == nil || w.Role == nil {
			return nil, missing(w.Type, "sessionCode/role")
		}
		role := domain.Role(*w.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: invalid role %q", domain.ErrMissingField, *w.Role)
		}
		return domain.ConnectMessage{
			SessionCode: domain.SessionCode(*w.SessionCode),
			Role:        role,
			Timestamp:   deref(w.Timestamp),
		}, nil
	case domain.MessagePing:
		return domain.PingMessage{Timestamp: deref(w.Timestamp)}, nil
	case domain.MessagePong:
		return domain.PongMessage{Timestamp: deref(w.Timestamp)}, nil
	case domain.MessageOffer:
		if w.SDP == nil || *w.SDP == "" {
			return nil, missing(w.Type, "sdp")
		}
		return domain.OfferMessage{SDP: *w.SDP, SessionCode: code(w.SessionCode)}, nil
	case domain.MessageAnswer:
		if w.SDP == nil || *w.SDP == "" {
			return nil, missing(w.Type, "sdp")
		}
		return domain.AnswerMessage{SDP: *w.SDP, SessionCode: code(w.SessionCode)}, nil
	case domain.MessageICECandidate:
		if w.Candidate == nil {
			return nil, missing(w.Type, "candidate")
		}
		return domain.ICECandidateMessage{
			Candidate:     *w.Candidate,
			SDPMLineIndex: w.SDPMLineIndex,
			SDPMid:        w.SDPMid,
			SessionCode:   code(w.SessionCode),
		}, nil
	case domain.MessageError:
		var text string
		if w.Message != nil {
			text = *w.Message
		}
		return domain.ErrorMessage{Message: text}, nil
	case domain.MessageConnected:
		return domain.ConnectedMessage{}, nil
	case domain.MessagePeerDisconnected:
		return domain.PeerDisconnectedMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownType, w.Type)
	}
}

func missing(msgType, field string) error {
	return fmt.Errorf("%w: %s requires %s", domain.ErrMissingField, msgType, field)
}

func optionalCode(c domain.SessionCode) *string {
	if c == "" {
		return nil
	}
	s := string(c)
	return &s
}

func code(s *string) domain.SessionCode {
	if s == nil {
		return ""
	}
	return domain.SessionCode(*s)
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
