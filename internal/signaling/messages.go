package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/intervue/interview-rtc/internal/domain"
)

// MessageType enumerates the signaling wire protocol. Client-to-server
// types are JOIN/OFFER/ANSWER/CANDIDATE/HEARTBEAT/LEAVE; server-to-client
// types are JOINED/PEER_JOINED/PEER_LEFT/ERROR. OFFER, ANSWER and
// CANDIDATE are relayed verbatim to the other participant.
type MessageType string

const (
	TypeJoin      MessageType = "JOIN"
	TypeOffer     MessageType = "OFFER"
	TypeAnswer    MessageType = "ANSWER"
	TypeCandidate MessageType = "CANDIDATE"
	TypeHeartbeat MessageType = "HEARTBEAT"
	TypeLeave     MessageType = "LEAVE"

	TypeJoined     MessageType = "JOINED"
	TypePeerJoined MessageType = "PEER_JOINED"
	TypePeerLeft   MessageType = "PEER_LEFT"
	TypeError      MessageType = "ERROR"
)

// SDP is the offer/answer payload. The relay never inspects the SDP
// body; these conversions exist for clients built on pion.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors webrtc.ICECandidateInit on the wire.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// ParticipantInfo is the client-supplied identity in a JOIN.
type ParticipantInfo struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Message is the envelope for every frame in either direction.
type Message struct {
	Type MessageType `json:"type"`

	SessionID   string           `json:"sessionId,omitempty"`
	Participant *ParticipantInfo `json:"participantInfo,omitempty"`

	SDP       *SDP       `json:"sdp,omitempty"`
	Candidate *Candidate `json:"ice,omitempty"`

	Role    string `json:"role,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseMessage strictly decodes a client frame: unknown fields,
// trailing data and per-type field mismatches are all rejected.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.validateClient(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) validateClient() error {
	switch m.Type {
	case TypeJoin:
		if m.SessionID == "" {
			return fmt.Errorf("join message missing sessionId")
		}
		if m.Participant == nil {
			return fmt.Errorf("join message missing participantInfo")
		}
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
	case TypeOffer:
		if m.SDP == nil {
			return fmt.Errorf("offer message missing sdp")
		}
		if m.SDP.Type != "offer" {
			return fmt.Errorf("offer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.Participant != nil {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case TypeAnswer:
		if m.SDP == nil {
			return fmt.Errorf("answer message missing sdp")
		}
		if m.SDP.Type != "answer" {
			return fmt.Errorf("answer message has sdp.type=%q", m.SDP.Type)
		}
		if m.Candidate != nil || m.Participant != nil {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case TypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing ice")
		}
		if m.SDP != nil || m.Participant != nil {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	case TypeHeartbeat, TypeLeave:
		if m.SDP != nil || m.Candidate != nil || m.Participant != nil || m.SessionID != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// Relayable reports whether a frame is forwarded to the peer verbatim.
func (m Message) Relayable() bool {
	return m.Type == TypeOffer || m.Type == TypeAnswer || m.Type == TypeCandidate
}

func joinedMessage(id domain.SessionID, role domain.Role) Message {
	return Message{Type: TypeJoined, SessionID: string(id), Role: string(role)}
}

func errorMessage(code Code, text string) Message {
	return Message{Type: TypeError, Code: code, Message: text}
}
