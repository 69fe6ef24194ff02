// Package app wires the signaling, streaming and pipeline components
// together: session lifecycle drives recording, recorded chunks feed
// analysis, and analysis results accumulate for external reporting.
package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/pipeline"
	"github.com/intervue/interview-rtc/internal/signaling"
	"github.com/intervue/interview-rtc/internal/streaming"
)

// Coordinator implements signaling.Observer and owns the glue between
// components. Components never hold references into each other's state;
// everything flows through lifecycle callbacks and explicit calls here.
type Coordinator struct {
	Sessions *signaling.Manager
	Recorder *streaming.Recorder
	Pipeline *pipeline.Pipeline

	mu      sync.Mutex
	results map[domain.SessionID][]*domain.ProcessingJob
}

func NewCoordinator(mgr *signaling.Manager, rec *streaming.Recorder, pl *pipeline.Pipeline) *Coordinator {
	return &Coordinator{
		Sessions: mgr,
		Recorder: rec,
		Pipeline: pl,
		results:  make(map[domain.SessionID][]*domain.ProcessingJob),
	}
}

// SessionActive starts recording as soon as both participants are in.
func (c *Coordinator) SessionActive(id domain.SessionID) {
	if err := c.Recorder.Start(id); err != nil {
		if !errors.Is(err, streaming.ErrAlreadyRecording) {
			log.Error().Str("module", "app").Str("session", string(id)).Err(err).Msg("start recording")
		}
		return
	}
	c.Sessions.SetRecording(id, true)
}

// SessionEnded finalizes the recording. In-flight analysis keeps
// draining; its results are kept until the session is forgotten.
func (c *Coordinator) SessionEnded(id domain.SessionID, status domain.SessionStatus) {
	meta, err := c.Recorder.Stop(id)
	if err != nil {
		if !errors.Is(err, streaming.ErrNotRecording) {
			log.Error().Str("module", "app").Str("session", string(id)).Err(err).Msg("stop recording")
		}
		return
	}
	c.Sessions.SetRecording(id, false)
	log.Info().Str("module", "app").Str("session", string(id)).
		Str("status", string(status)).Int("chunks", len(meta.Chunks)).Msg("recording finalized")
}

// IngestChunk persists one media chunk and schedules it for analysis.
// Cap violations and queue saturation come back as typed errors; the
// caller must stop sending and finalize.
func (c *Coordinator) IngestChunk(id domain.SessionID, data []byte, duration time.Duration) (domain.Chunk, error) {
	chunk, err := c.Recorder.Write(id, data, duration)
	if err != nil {
		return domain.Chunk{}, err
	}
	if err := c.Pipeline.Submit(id, chunk); err != nil {
		// The chunk is safely on disk; only analysis is deferred.
		log.Warn().Str("module", "app").Str("session", string(id)).
			Int("chunk", chunk.Index).Err(err).Msg("analysis submission rejected")
		return chunk, err
	}
	return chunk, nil
}

// OnResult is the pipeline's result sink.
func (c *Coordinator) OnResult(job *domain.ProcessingJob) {
	c.mu.Lock()
	c.results[job.SessionID] = append(c.results[job.SessionID], job)
	c.mu.Unlock()
}

// ResultSummary counts finished jobs per modality for one session.
type ResultSummary struct {
	Done   map[domain.Modality]int `json:"done"`
	Failed map[domain.Modality]int `json:"failed"`
}

func (c *Coordinator) Results(id domain.SessionID) ResultSummary {
	sum := ResultSummary{
		Done:   make(map[domain.Modality]int),
		Failed: make(map[domain.Modality]int),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, job := range c.results[id] {
		if job.Status == domain.JobDone {
			sum.Done[job.Modality]++
		} else {
			sum.Failed[job.Modality]++
		}
	}
	return sum
}

// Forget drops accumulated results once the external reporting layer
// has persisted them.
func (c *Coordinator) Forget(id domain.SessionID) {
	c.mu.Lock()
	delete(c.results, id)
	c.mu.Unlock()
}
