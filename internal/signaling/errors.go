package signaling

import (
	"errors"

	"github.com/intervue/interview-rtc/internal/domain"
)

var (
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session full")
	ErrSessionEnded     = errors.New("session ended")
	ErrNotParticipant   = errors.New("not a participant of this session")
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrBackpressure     = errors.New("send buffer full")
)

// Code is the wire error code carried in ERROR frames.
type Code string

const (
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionFull      Code = "SESSION_FULL"
	CodeSessionEnded     Code = "SESSION_ENDED"
	CodeBadMessage       Code = "BAD_MESSAGE"
	CodeNotJoined        Code = "NOT_JOINED"
	CodeInternal         Code = "INTERNAL"
)

// CodeFor maps manager errors onto wire codes.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionFull):
		return CodeSessionFull
	case errors.Is(err, ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, ErrNotParticipant):
		return CodeNotJoined
	case errors.Is(err, domain.ErrNameEmpty), errors.Is(err, domain.ErrNameTooLong), errors.Is(err, domain.ErrBadRole):
		return CodeBadMessage
	default:
		return CodeInternal
	}
}
