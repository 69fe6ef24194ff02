package streaming

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/metrics"
)

// QualityFlag is one advisory raised by the quality monitor. Advisory
// only: nothing here stops a recording.
type QualityFlag struct {
	SessionID domain.SessionID `json:"sessionId"`
	Reason    string           `json:"reason"`
	Detail    string           `json:"detail,omitempty"`
}

// RunQualityMonitor inspects write cadence and effective bitrate on a
// fixed interval until ctx is cancelled.
func (r *Recorder) RunQualityMonitor(ctx context.Context) {
	t := time.NewTicker(r.cfg.QualityCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.CheckQuality(now)
		}
	}
}

// CheckQuality is one monitor tick, exported for deterministic tests.
// It flags recordings whose chunk cadence has stalled or whose recent
// effective byte rate fell under the configured floor, then resets the
// per-recording measurement window.
func (r *Recorder) CheckQuality(now time.Time) []QualityFlag {
	r.mu.RLock()
	recs := make([]*recording, 0, len(r.open))
	for _, rec := range r.open {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	var flags []QualityFlag
	for _, rec := range recs {
		rec.mu.Lock()
		id := rec.rec.SessionID
		switch {
		case now.Sub(rec.lastWrite) > 2*r.cfg.ChunkDuration:
			flags = append(flags, QualityFlag{
				SessionID: id,
				Reason:    "stalled",
				Detail:    "no chunk since " + rec.lastWrite.Format(time.RFC3339),
			})
		case rec.windowSpan > 0 && rec.windowBytes*int64(time.Second) < r.cfg.MinChunkBytesPerSec*int64(rec.windowSpan):
			flags = append(flags, QualityFlag{
				SessionID: id,
				Reason:    "low-bitrate",
			})
		}
		rec.windowBytes = 0
		rec.windowSpan = 0
		rec.mu.Unlock()
	}

	for _, f := range flags {
		metrics.QualityFlags.Inc()
		log.Warn().Str("module", "streaming.quality").Str("session", string(f.SessionID)).
			Str("reason", f.Reason).Msg("quality flag")
	}
	return flags
}
