package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/intervue/interview-rtc/internal/domain"
)

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc struct {
	M  domain.Modality
	Fn func(ctx context.Context, sessionID domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error)
}

func (a AnalyzerFunc) Modality() domain.Modality { return a.M }

func (a AnalyzerFunc) Analyze(ctx context.Context, sessionID domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
	return a.Fn(ctx, sessionID, chunk)
}

// Simulated is the stand-in analyzer used until a real inference
// backend is plugged in. It produces placeholder payloads shaped like
// the real ones so the reporting layer downstream stays exercised.
type Simulated struct {
	modality domain.Modality

	mu  sync.Mutex // jobs of one modality may run concurrently
	rng *rand.Rand
}

func NewSimulated(m domain.Modality, seed int64) *Simulated {
	return &Simulated{modality: m, rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulated) Modality() domain.Modality { return s.modality }

func (s *Simulated) Analyze(ctx context.Context, _ domain.SessionID, chunk domain.Chunk) (domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalysisResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := domain.AnalysisResult{Modality: s.modality, ChunkIndex: chunk.Index}
	switch s.modality {
	case domain.ModalityAudio:
		res.Features = map[string]float64{
			"volume": s.rng.Float64(),
			"pace":   s.rng.Float64(),
		}
	case domain.ModalityVideo:
		res.Features = map[string]float64{
			"eyeContact": s.rng.Float64(),
			"motion":     s.rng.Float64(),
		}
	case domain.ModalityTranscript:
		res.Transcript = fmt.Sprintf("[chunk %d transcript pending]", chunk.Index)
	case domain.ModalityEmotion:
		res.Scores = map[string]float64{
			"confidence": s.rng.Float64(),
			"stress":     s.rng.Float64(),
		}
	}
	return res, nil
}

// DefaultAnalyzers returns one simulated analyzer per known modality.
func DefaultAnalyzers() []Analyzer {
	out := make([]Analyzer, 0, len(domain.Modalities))
	for i, m := range domain.Modalities {
		out = append(out, NewSimulated(m, int64(i)+1))
	}
	return out
}
