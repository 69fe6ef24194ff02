// Package pipeline schedules per-chunk analysis jobs onto a bounded
// worker pool shared across all sessions. Backpressure is deliberate:
// jobs beyond capacity wait in bounded FIFO queues per modality, and
// activeWorkers never exceeds max_concurrent_processors.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/metrics"
)

var (
	ErrQueueFull = errors.New("pipeline queue full")
	ErrClosed    = errors.New("pipeline closed")
)

// Analyzer is an opaque, possibly slow, possibly failing processor for
// one modality. Implementations must honor ctx cancellation.
type Analyzer interface {
	Modality() domain.Modality
	Analyze(ctx context.Context, sessionID domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error)
}

// ResultFunc receives every finished job, DONE and FAILED alike. The
// external reporting layer plugs in here; resubmission of failed chunks
// is its call.
type ResultFunc func(job *domain.ProcessingJob)

// Pipeline owns the queues and the worker slot accounting.
type Pipeline struct {
	cfg  config.Pipeline
	sink ResultFunc

	analyzers map[domain.Modality]Analyzer
	order     []domain.Modality

	mu     sync.Mutex
	queues map[domain.Modality][]*domain.ProcessingJob
	active int
	done   map[domain.Modality]int
	failed map[domain.Modality]int
	closed bool

	wg         sync.WaitGroup
	kick       chan struct{}
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// New wires the enabled modalities. Analyzers for disabled modalities
// are ignored.
func New(cfg config.Pipeline, analyzers []Analyzer, sink ResultFunc) *Pipeline {
	if sink == nil {
		sink = func(*domain.ProcessingJob) {}
	}
	enabled := map[domain.Modality]bool{
		domain.ModalityAudio:      cfg.Modalities.Audio,
		domain.ModalityVideo:      cfg.Modalities.Video,
		domain.ModalityTranscript: cfg.Modalities.Transcript,
		domain.ModalityEmotion:    cfg.Modalities.Emotion,
	}

	p := &Pipeline{
		cfg:       cfg,
		sink:      sink,
		analyzers: make(map[domain.Modality]Analyzer),
		queues:    make(map[domain.Modality][]*domain.ProcessingJob),
		done:      make(map[domain.Modality]int),
		failed:    make(map[domain.Modality]int),
		kick:      make(chan struct{}, 1),
	}
	p.jobCtx, p.cancelJobs = context.WithCancel(context.Background())

	for _, a := range analyzers {
		m := a.Modality()
		if !enabled[m] {
			continue
		}
		if _, dup := p.analyzers[m]; dup {
			continue
		}
		p.analyzers[m] = a
		p.order = append(p.order, m)
		p.queues[m] = nil
	}
	return p
}

// Submit enqueues one job per enabled modality for the chunk. All-or-
// nothing: if any modality queue is full the whole submission is
// rejected with ErrQueueFull and nothing is enqueued.
func (p *Pipeline) Submit(sessionID domain.SessionID, chunk domain.Chunk) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	for _, m := range p.order {
		if len(p.queues[m]) >= p.cfg.QueueCapacity {
			p.mu.Unlock()
			return ErrQueueFull
		}
	}
	now := time.Now()
	for _, m := range p.order {
		job := &domain.ProcessingJob{
			SessionID:  sessionID,
			Chunk:      chunk,
			Modality:   m,
			Status:     domain.JobQueued,
			EnqueuedAt: now,
		}
		p.queues[m] = append(p.queues[m], job)
		metrics.PipelineQueued.WithLabelValues(string(m)).Inc()
	}
	p.mu.Unlock()

	p.wake()
	return nil
}

// Tick runs one dispatch round: queued jobs start until the pool is
// full, round-robin across modalities, FIFO within each. Exported so
// tests can drive dispatch deterministically.
func (p *Pipeline) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for p.active < p.cfg.MaxConcurrentProcessors {
		job := p.popLocked()
		if job == nil {
			return
		}
		job.Status = domain.JobRunning
		job.StartedAt = time.Now()
		p.active++
		metrics.PipelineActive.Set(float64(p.active))
		p.wg.Add(1)
		go p.run(job)
	}
}

// popLocked takes the head of the next non-empty queue, rotating the
// modality order so no modality starves.
func (p *Pipeline) popLocked() *domain.ProcessingJob {
	for range p.order {
		m := p.order[0]
		p.order = append(p.order[1:], m)
		q := p.queues[m]
		if len(q) == 0 {
			continue
		}
		job := q[0]
		p.queues[m] = q[1:]
		metrics.PipelineQueued.WithLabelValues(string(m)).Dec()
		return job
	}
	return nil
}

func (p *Pipeline) run(job *domain.ProcessingJob) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.finish(job, nil, errors.New("analyzer panic"))
		}
	}()

	a := p.analyzers[job.Modality]
	res, err := a.Analyze(p.jobCtx, job.SessionID, job.Chunk)
	if err != nil {
		p.finish(job, nil, err)
		return
	}
	p.finish(job, &res, nil)
}

// finish releases the worker slot and reports the job. A failed job is
// not retried here: analyzer failures may be deterministic (corrupt
// chunk), so retrying is left to the caller.
func (p *Pipeline) finish(job *domain.ProcessingJob, res *domain.AnalysisResult, err error) {
	job.FinishedAt = time.Now()
	if err != nil {
		job.Status = domain.JobFailed
		job.FailReason = err.Error()
	} else {
		job.Status = domain.JobDone
		job.Result = res
	}

	p.mu.Lock()
	p.active--
	metrics.PipelineActive.Set(float64(p.active))
	if err != nil {
		p.failed[job.Modality]++
		metrics.PipelineFailed.WithLabelValues(string(job.Modality)).Inc()
	} else {
		p.done[job.Modality]++
		metrics.PipelineDone.WithLabelValues(string(job.Modality)).Inc()
	}
	p.mu.Unlock()

	if err != nil {
		log.Warn().Str("module", "pipeline").Str("session", string(job.SessionID)).
			Str("modality", string(job.Modality)).Int("chunk", job.Chunk.Index).
			Err(err).Msg("job failed")
	}

	p.sink(job)
	p.wake()
}

func (p *Pipeline) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run drives dispatch on the processing interval, plus immediately on
// submit/completion kicks, until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.ProcessingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Tick()
		case <-p.kick:
			p.Tick()
		}
	}
}

// ModalityStats is the per-modality slice of Stats.
type ModalityStats struct {
	Queued int `json:"queued"`
	Done   int `json:"done"`
	Failed int `json:"failed"`
}

// Stats reports queue depth and pool occupancy for health checks and
// external autoscaling.
type Stats struct {
	ActiveWorkers int                               `json:"activeWorkers"`
	MaxWorkers    int                               `json:"maxWorkers"`
	Queued        int                               `json:"queued"`
	Modalities    map[domain.Modality]ModalityStats `json:"modalities"`
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		ActiveWorkers: p.active,
		MaxWorkers:    p.cfg.MaxConcurrentProcessors,
		Modalities:    make(map[domain.Modality]ModalityStats, len(p.analyzers)),
	}
	for m := range p.analyzers {
		ms := ModalityStats{
			Queued: len(p.queues[m]),
			Done:   p.done[m],
			Failed: p.failed[m],
		}
		st.Queued += ms.Queued
		st.Modalities[m] = ms
	}
	return st
}

// Close stops intake and dispatch, then waits for in-flight jobs until
// ctx expires, at which point the remaining work is force-cancelled.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		p.cancelJobs()
		<-drained
		return ctx.Err()
	}
}
