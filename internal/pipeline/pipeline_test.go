package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
)

func testPipelineConfig() config.Pipeline {
	return config.Pipeline{
		MaxConcurrentProcessors: 10,
		ProcessingInterval:      5 * time.Millisecond,
		QueueCapacity:           1024,
		ShutdownGrace:           time.Second,
		Modalities: config.Modalities{
			Audio: true, Video: true, Transcript: true, Emotion: true,
		},
	}
}

// countingAnalyzer tracks the high-water mark of concurrently running
// jobs across every instance sharing the same counters.
type countingAnalyzer struct {
	m       domain.Modality
	delay   time.Duration
	running *atomic.Int64
	peak    *atomic.Int64
}

func (a *countingAnalyzer) Modality() domain.Modality { return a.m }

func (a *countingAnalyzer) Analyze(ctx context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
	cur := a.running.Add(1)
	for {
		p := a.peak.Load()
		if cur <= p || a.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	defer a.running.Add(-1)

	select {
	case <-ctx.Done():
		return domain.AnalysisResult{}, ctx.Err()
	case <-time.After(a.delay):
	}
	return domain.AnalysisResult{Modality: a.m, ChunkIndex: chunk.Index}, nil
}

func waitFinished(t *testing.T, p *Pipeline, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := p.Stats()
		total := 0
		for _, ms := range st.Modalities {
			total += ms.Done + ms.Failed
		}
		if total >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pipeline did not finish %d jobs in time: %+v", want, p.Stats())
}

func TestConcurrencyCeilingUnderBurst(t *testing.T) {
	var running, peak atomic.Int64
	analyzers := make([]Analyzer, 0, len(domain.Modalities))
	for _, m := range domain.Modalities {
		analyzers = append(analyzers, &countingAnalyzer{m: m, delay: 2 * time.Millisecond, running: &running, peak: &peak})
	}

	var finished atomic.Int64
	p := New(testPipelineConfig(), analyzers, func(*domain.ProcessingJob) {
		finished.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Thundering herd: 50 chunks x 4 modalities = 200 jobs at once.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, p.Submit("sess", domain.Chunk{Index: i}))
		}(i)
	}
	wg.Wait()

	waitFinished(t, p, 200)

	assert.LessOrEqual(t, peak.Load(), int64(10), "worker ceiling exceeded")
	assert.Equal(t, int64(200), finished.Load())

	st := p.Stats()
	assert.Equal(t, 0, st.Queued, "no job left queued forever")
	for m, ms := range st.Modalities {
		assert.Equal(t, 50, ms.Done, string(m))
		assert.Zero(t, ms.Failed, string(m))
	}
}

func TestFIFOPerModality(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxConcurrentProcessors = 1
	cfg.Modalities = config.Modalities{Audio: true}

	var mu sync.Mutex
	var order []int
	a := AnalyzerFunc{M: domain.ModalityAudio, Fn: func(_ context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
		mu.Lock()
		order = append(order, chunk.Index)
		mu.Unlock()
		return domain.AnalysisResult{Modality: domain.ModalityAudio, ChunkIndex: chunk.Index}, nil
	}}

	p := New(cfg, []Analyzer{a}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit("sess", domain.Chunk{Index: i}))
	}
	waitFinished(t, p, 20)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, idx := range order {
		assert.Equal(t, i, idx, "chunks processed out of sequence")
	}
}

func TestAnalyzerFailureIsolated(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Modalities = config.Modalities{Audio: true, Transcript: true}

	var audioRuns atomic.Int64
	failing := AnalyzerFunc{M: domain.ModalityAudio, Fn: func(context.Context, domain.SessionID, domain.Chunk) (domain.AnalysisResult, error) {
		audioRuns.Add(1)
		return domain.AnalysisResult{}, errors.New("corrupt chunk")
	}}
	ok := AnalyzerFunc{M: domain.ModalityTranscript, Fn: func(_ context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
		return domain.AnalysisResult{Modality: domain.ModalityTranscript, ChunkIndex: chunk.Index}, nil
	}}

	var mu sync.Mutex
	byStatus := map[domain.JobStatus]int{}
	p := New(cfg, []Analyzer{failing, ok}, func(job *domain.ProcessingJob) {
		mu.Lock()
		byStatus[job.Status]++
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit("sess", domain.Chunk{Index: i}))
	}
	waitFinished(t, p, 10)

	st := p.Stats()
	assert.Equal(t, 5, st.Modalities[domain.ModalityAudio].Failed)
	assert.Equal(t, 5, st.Modalities[domain.ModalityTranscript].Done)

	// No automatic retry: each audio job ran exactly once.
	assert.Equal(t, int64(5), audioRuns.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, byStatus[domain.JobFailed])
	assert.Equal(t, 5, byStatus[domain.JobDone])
}

func TestAnalyzerPanicFailsOnlyThatJob(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Modalities = config.Modalities{Audio: true}

	bomb := AnalyzerFunc{M: domain.ModalityAudio, Fn: func(_ context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
		if chunk.Index == 0 {
			panic("boom")
		}
		return domain.AnalysisResult{Modality: domain.ModalityAudio, ChunkIndex: chunk.Index}, nil
	}}

	p := New(cfg, []Analyzer{bomb}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit("sess", domain.Chunk{Index: i}))
	}
	waitFinished(t, p, 3)

	st := p.Stats()
	assert.Equal(t, 1, st.Modalities[domain.ModalityAudio].Failed)
	assert.Equal(t, 2, st.Modalities[domain.ModalityAudio].Done)
	assert.Zero(t, st.ActiveWorkers, "pool accounting corrupted by panic")
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.QueueCapacity = 1
	cfg.Modalities = config.Modalities{Audio: true}

	p := New(cfg, DefaultAnalyzers(), nil)
	// No Run loop: nothing drains the queue.
	require.NoError(t, p.Submit("sess", domain.Chunk{Index: 0}))
	assert.ErrorIs(t, p.Submit("sess", domain.Chunk{Index: 1}), ErrQueueFull)
}

func TestCloseDrainsInFlight(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Modalities = config.Modalities{Audio: true}

	release := make(chan struct{})
	a := AnalyzerFunc{M: domain.ModalityAudio, Fn: func(ctx context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
		select {
		case <-release:
			return domain.AnalysisResult{Modality: domain.ModalityAudio, ChunkIndex: chunk.Index}, nil
		case <-ctx.Done():
			return domain.AnalysisResult{}, ctx.Err()
		}
	}}

	p := New(cfg, []Analyzer{a}, nil)
	require.NoError(t, p.Submit("sess", domain.Chunk{Index: 0}))
	p.Tick()

	// Job finishes inside the grace period.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 1, p.Stats().Modalities[domain.ModalityAudio].Done)

	assert.ErrorIs(t, p.Submit("sess", domain.Chunk{Index: 1}), ErrClosed)
}

func TestCloseForceCancelsAfterGrace(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Modalities = config.Modalities{Audio: true}

	a := AnalyzerFunc{M: domain.ModalityAudio, Fn: func(ctx context.Context, _ domain.SessionID, _ domain.Chunk) (domain.AnalysisResult, error) {
		<-ctx.Done()
		return domain.AnalysisResult{}, ctx.Err()
	}}

	p := New(cfg, []Analyzer{a}, nil)
	require.NoError(t, p.Submit("sess", domain.Chunk{Index: 0}))
	p.Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Stats().Modalities[domain.ModalityAudio].Failed)
	assert.Zero(t, p.Stats().ActiveWorkers)
}

func TestDisabledModalitiesNotScheduled(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Modalities = config.Modalities{Audio: true, Emotion: true}

	p := New(cfg, DefaultAnalyzers(), nil)
	require.NoError(t, p.Submit("sess", domain.Chunk{Index: 0}))

	st := p.Stats()
	assert.Len(t, st.Modalities, 2)
	assert.Contains(t, st.Modalities, domain.ModalityAudio)
	assert.Contains(t, st.Modalities, domain.ModalityEmotion)
	assert.Equal(t, 2, st.Queued)
}

func TestSimulatedAnalyzersProduceResults(t *testing.T) {
	p := New(testPipelineConfig(), DefaultAnalyzers(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, p.Submit("sess", domain.Chunk{Index: 7}))
	waitFinished(t, p, 4)

	for m, ms := range p.Stats().Modalities {
		assert.Equal(t, 1, ms.Done, fmt.Sprintf("modality %s", m))
	}
}
