// Package streaming persists an active session's media as fixed-size
// time chunks under a per-session directory, enforcing duration and
// size caps before any byte is written.
package streaming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/metrics"
)

var (
	ErrAlreadyRecording = errors.New("recording already active for session")
	ErrNotRecording     = errors.New("no active recording for session")
	ErrSizeLimit        = errors.New("write would exceed max recording size")
	ErrDurationLimit    = errors.New("write would exceed max recording duration")
	ErrRecordingFailed  = errors.New("recording failed")
)

const chunkWriteRetryDelay = 100 * time.Millisecond

type recording struct {
	mu  sync.Mutex
	rec domain.Recording
	dir string

	lastWrite   time.Time
	windowBytes int64
	windowSpan  time.Duration
}

// Recorder owns every open recording. One Recorder serves all sessions;
// writes for different sessions proceed independently.
type Recorder struct {
	cfg config.Recording

	mu   sync.RWMutex
	open map[domain.SessionID]*recording

	now func() time.Time
}

func NewRecorder(cfg config.Recording) (*Recorder, error) {
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	return &Recorder{
		cfg:  cfg,
		open: make(map[domain.SessionID]*recording),
		now:  time.Now,
	}, nil
}

// Start opens a new recording for the session.
func (r *Recorder) Start(id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[id]; ok {
		return ErrAlreadyRecording
	}
	dir := filepath.Join(r.cfg.StorageRoot, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	r.open[id] = &recording{
		rec: domain.Recording{
			SessionID: id,
			Status:    domain.RecordingOpen,
			StartedAt: r.now(),
		},
		dir:       dir,
		lastWrite: r.now(),
	}
	log.Info().Str("module", "streaming").Str("session", string(id)).Str("dir", dir).Msg("recording started")
	return nil
}

// Write appends one chunk. Cap checks run before any I/O so a rejected
// write leaves no partial chunk behind. A failed write is retried once;
// persistent failure flips the recording to FAILED and the session
// continues without it.
func (r *Recorder) Write(id domain.SessionID, data []byte, duration time.Duration) (domain.Chunk, error) {
	rec, ok := r.get(id)
	if !ok {
		return domain.Chunk{}, ErrNotRecording
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.rec.Status != domain.RecordingOpen {
		return domain.Chunk{}, ErrRecordingFailed
	}
	if rec.rec.TotalSize+int64(len(data)) > r.cfg.MaxFileSize {
		return domain.Chunk{}, ErrSizeLimit
	}
	if rec.rec.TotalDuration+duration > r.cfg.MaxDuration {
		return domain.Chunk{}, ErrDurationLimit
	}

	chunk := domain.Chunk{
		Index:       len(rec.rec.Chunks),
		StartOffset: rec.rec.TotalDuration,
		Duration:    duration,
		Size:        int64(len(data)),
	}
	chunk.Path = filepath.Join(rec.dir, fmt.Sprintf("chunk_%04d_%d.webm", chunk.Index, chunk.StartOffset.Milliseconds()))

	write := func() error { return writeAtomic(chunk.Path, data) }
	if err := backoff.Retry(write, backoff.WithMaxRetries(backoff.NewConstantBackOff(chunkWriteRetryDelay), 1)); err != nil {
		rec.rec.Status = domain.RecordingFailed
		metrics.RecordingFailures.Inc()
		log.Error().Str("module", "streaming").Str("session", string(id)).Err(err).Msg("chunk write failed, recording ended")
		return domain.Chunk{}, fmt.Errorf("%w: %v", ErrRecordingFailed, err)
	}

	rec.rec.Chunks = append(rec.rec.Chunks, chunk)
	rec.rec.TotalSize += chunk.Size
	rec.rec.TotalDuration += chunk.Duration
	rec.lastWrite = r.now()
	rec.windowBytes += chunk.Size
	rec.windowSpan += chunk.Duration

	metrics.ChunksWritten.Inc()
	metrics.RecordedBytes.Add(float64(chunk.Size))
	return chunk, nil
}

// Stop finalizes the recording and returns its metadata. The final
// chunk may be shorter than chunk_duration; it was already written by
// the last Write call.
func (r *Recorder) Stop(id domain.SessionID) (domain.RecordingMeta, error) {
	r.mu.Lock()
	rec, ok := r.open[id]
	if ok {
		delete(r.open, id)
	}
	r.mu.Unlock()
	if !ok {
		return domain.RecordingMeta{}, ErrNotRecording
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.rec.Status == domain.RecordingOpen {
		rec.rec.Status = domain.RecordingFinalized
	}
	log.Info().Str("module", "streaming").Str("session", string(id)).
		Int("chunks", len(rec.rec.Chunks)).Int64("bytes", rec.rec.TotalSize).Msg("recording stopped")
	return domain.RecordingMeta{
		SessionID:     rec.rec.SessionID,
		Status:        rec.rec.Status,
		Chunks:        rec.rec.Chunks,
		TotalDuration: rec.rec.TotalDuration,
		TotalSize:     rec.rec.TotalSize,
	}, nil
}

// Shutdown finalizes every open recording.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	ids := make([]domain.SessionID, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if _, err := r.Stop(id); err != nil {
			log.Warn().Str("module", "streaming").Str("session", string(id)).Err(err).Msg("stop on shutdown")
		}
	}
}

// Stats summarizes open recordings for health reporting.
type Stats struct {
	Open       int   `json:"open"`
	TotalBytes int64 `json:"totalBytes"`
}

func (r *Recorder) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Open: len(r.open)}
	for _, rec := range r.open {
		rec.mu.Lock()
		st.TotalBytes += rec.rec.TotalSize
		rec.mu.Unlock()
	}
	return st
}

func (r *Recorder) get(id domain.SessionID) (*recording, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.open[id]
	return rec, ok
}

// writeAtomic lands the chunk via temp file + rename so a crashed or
// failed write never leaves a partial chunk at the final path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
