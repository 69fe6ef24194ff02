// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signaling
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_sessions_active",
		Help: "Number of sessions currently held in the session table.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_sessions_created_total",
		Help: "Total sessions created.",
	})
	ConnectedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_participants_connected",
		Help: "Participants currently in CONNECTED state.",
	})
	SignalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_signal_connections",
		Help: "Open signaling websocket connections.",
	})
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_messages_relayed_total",
		Help: "Signaling frames relayed between participants.",
	})

	// ICE credentials
	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_ice_credentials_issued_total",
		Help: "Ephemeral TURN credentials minted.",
	})
	CredentialsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_ice_credentials_active",
		Help: "Credentials tracked in the bookkeeping set.",
	})

	// Recording
	RecordedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_recorded_bytes_total",
		Help: "Bytes of media persisted across all recordings.",
	})
	ChunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_chunks_written_total",
		Help: "Media chunks persisted.",
	})
	RecordingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_recording_failures_total",
		Help: "Recordings ended early by persistent storage failure.",
	})
	QualityFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtc_recording_quality_flags_total",
		Help: "Quality monitor advisories raised.",
	})

	// Pipeline
	PipelineQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtc_pipeline_queue_depth",
		Help: "Jobs waiting per modality.",
	}, []string{"modality"})
	PipelineActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtc_pipeline_active_workers",
		Help: "Jobs currently running across all modalities.",
	})
	PipelineDone = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_pipeline_jobs_done_total",
		Help: "Jobs completed successfully per modality.",
	}, []string{"modality"})
	PipelineFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtc_pipeline_jobs_failed_total",
		Help: "Jobs failed per modality.",
	}, []string{"modality"})
)
