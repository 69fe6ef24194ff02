package domain

import (
	"errors"
	"time"
)

type ParticipantID string

// Role distinguishes the two sides of an interview call.
type Role string

const (
	RoleCandidate   Role = "candidate"
	RoleInterviewer Role = "interviewer"
)

// ConnState is the participant connection lifecycle.
type ConnState string

const (
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
	ConnDisconnected ConnState = "DISCONNECTED"
)

const MaxDisplayNameLen = 64

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
	ErrBadRole     = errors.New("unknown role")
)

// Participant is one side of a session. No transport fields here; the
// signaling layer binds a connection to it.
type Participant struct {
	ID            ParticipantID
	Name          string
	Role          Role
	State         ConnState
	LastHeartbeat time.Time
	JoinedAt      time.Time
}

// NewParticipant validates the user-supplied fields so adapters never
// build raw literals.
func NewParticipant(id ParticipantID, name string, role Role) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	if role != RoleCandidate && role != RoleInterviewer {
		return nil, ErrBadRole
	}
	now := time.Now()
	return &Participant{
		ID:            id,
		Name:          name,
		Role:          role,
		State:         ConnConnecting,
		LastHeartbeat: now,
		JoinedAt:      now,
	}, nil
}
