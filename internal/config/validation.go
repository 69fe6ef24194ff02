package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects configurations that would make background sweeps or
// caps meaningless (zero or negative intervals, absent caps).
func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}

	if c.Signaling.MaxSessionDuration <= 0 {
		errs = append(errs, "signaling.max_session_duration must be positive")
	}
	if c.Signaling.HeartbeatInterval <= 0 {
		errs = append(errs, "signaling.heartbeat_interval must be positive")
	}
	if c.Signaling.ConnectionTimeout <= c.Signaling.HeartbeatInterval {
		errs = append(errs, "signaling.connection_timeout must exceed heartbeat_interval")
	}
	if c.Signaling.MaxSessions < 0 {
		errs = append(errs, "signaling.max_sessions must not be negative")
	}

	if len(c.ICE.STUNURLs) == 0 {
		errs = append(errs, "ice.stun_urls must not be empty")
	}
	if len(c.ICE.TURNURLs) > 0 && c.ICE.TURNSecret == "" {
		errs = append(errs, "ice.turn_secret required when turn_urls are set")
	}
	if c.ICE.CredentialTTL <= 0 {
		errs = append(errs, "ice.credential_ttl must be positive")
	}
	if strings.Contains(c.ICE.TURNPrefix, ":") {
		errs = append(errs, "ice.turn_user_prefix must not contain ':'")
	}

	if c.Recording.ChunkDuration <= 0 {
		errs = append(errs, "recording.chunk_duration must be positive")
	}
	if c.Recording.MaxDuration <= 0 {
		errs = append(errs, "recording.max_recording_duration must be positive")
	}
	if c.Recording.MaxFileSize <= 0 {
		errs = append(errs, "recording.max_file_size must be positive")
	}

	if c.Pipeline.MaxConcurrentProcessors <= 0 {
		errs = append(errs, "pipeline.max_concurrent_processors must be positive")
	}
	if c.Pipeline.ProcessingInterval <= 0 {
		errs = append(errs, "pipeline.processing_interval must be positive")
	}
	if c.Pipeline.QueueCapacity <= 0 {
		errs = append(errs, "pipeline.queue_capacity must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Enabled returns the configured modality names in stable order.
func (m Modalities) Enabled() []string {
	var out []string
	if m.Audio {
		out = append(out, "audio")
	}
	if m.Video {
		out = append(out, "video")
	}
	if m.Transcript {
		out = append(out, "transcript")
	}
	if m.Emotion {
		out = append(out, "emotion")
	}
	return out
}
