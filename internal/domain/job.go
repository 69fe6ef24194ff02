package domain

import "time"

// Modality names one analysis dimension of a media chunk.
type Modality string

const (
	ModalityAudio      Modality = "audio"
	ModalityVideo      Modality = "video"
	ModalityTranscript Modality = "transcript"
	ModalityEmotion    Modality = "emotion"
)

// Modalities lists all known modalities in a stable order.
var Modalities = []Modality{ModalityAudio, ModalityVideo, ModalityTranscript, ModalityEmotion}

// JobStatus is the processing job lifecycle.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// AnalysisResult is the opaque payload an analyzer produces for one
// chunk. Fields are modality-specific; unused ones stay empty.
type AnalysisResult struct {
	Modality   Modality           `json:"modality"`
	ChunkIndex int                `json:"chunkIndex"`
	Features   map[string]float64 `json:"features,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// ProcessingJob tracks one (chunk, modality) analysis through the
// pipeline. Owned by the pipeline.
type ProcessingJob struct {
	SessionID  SessionID
	Chunk      Chunk
	Modality   Modality
	Status     JobStatus
	Result     *AnalysisResult
	FailReason string
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}
