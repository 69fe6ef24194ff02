// Package domain contains entity types without logic, just meta-data
// and lifecycle enums shared by the signaling, streaming and pipeline
// layers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	SessionCreated  SessionStatus = "CREATED"
	SessionActive   SessionStatus = "ACTIVE"
	SessionEnded    SessionStatus = "ENDED"
	SessionTimedOut SessionStatus = "TIMED_OUT"
)

// Terminal reports whether the status is a final state.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionTimedOut
}

const MaxParticipants = 2

// Session is the interview call between a candidate and an interviewer.
// Owned exclusively by the signaling manager; other components see
// read-only snapshots.
type Session struct {
	ID             SessionID
	Status         SessionStatus
	CreatedAt      time.Time
	EndedAt        time.Time
	Recording      bool
	DurationMillis int64
}

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// SessionSnapshot is a read-only view for APIs, safe to hand out.
type SessionSnapshot struct {
	ID           SessionID     `json:"id"`
	Status       SessionStatus `json:"status"`
	Participants int           `json:"participants"`
	Recording    bool          `json:"recording"`
	CreatedAt    time.Time     `json:"createdAt"`
}
