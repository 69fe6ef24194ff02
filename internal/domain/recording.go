package domain

import (
	"encoding/json"
	"time"
)

// RecordingStatus is the recording lifecycle.
type RecordingStatus string

const (
	RecordingOpen      RecordingStatus = "OPEN"
	RecordingFinalized RecordingStatus = "FINALIZED"
	RecordingFailed    RecordingStatus = "FAILED"
)

// Chunk is one persisted slice of a recording. Chunk N covers
// [StartOffset, StartOffset+Duration).
type Chunk struct {
	Index       int
	StartOffset time.Duration
	Duration    time.Duration
	Size        int64
	Path        string
}

// MarshalJSON reports the offsets in milliseconds; a raw time.Duration
// would serialize as nanoseconds under the Ms-named keys.
func (c Chunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index         int    `json:"index"`
		StartOffsetMs int64  `json:"startOffsetMs"`
		DurationMs    int64  `json:"durationMs"`
		Size          int64  `json:"size"`
		Path          string `json:"path"`
	}{c.Index, c.StartOffset.Milliseconds(), c.Duration.Milliseconds(), c.Size, c.Path})
}

// Recording is the chunked media capture of one session.
type Recording struct {
	SessionID     SessionID
	Status        RecordingStatus
	Chunks        []Chunk
	TotalDuration time.Duration
	TotalSize     int64
	StartedAt     time.Time
}

// RecordingMeta is the finalized summary returned by stopRecording.
type RecordingMeta struct {
	SessionID     SessionID
	Status        RecordingStatus
	Chunks        []Chunk
	TotalDuration time.Duration
	TotalSize     int64
}

func (m RecordingMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SessionID       SessionID       `json:"sessionId"`
		Status          RecordingStatus `json:"status"`
		Chunks          []Chunk         `json:"chunks"`
		TotalDurationMs int64           `json:"totalDurationMs"`
		TotalSize       int64           `json:"totalSize"`
	}{m.SessionID, m.Status, m.Chunks, m.TotalDuration.Milliseconds(), m.TotalSize})
}
