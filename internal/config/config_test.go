package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("RTC_PORT", "9090")
	t.Setenv("RTC_SIGNALING_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("RTC_PIPELINE_MAX_CONCURRENT_PROCESSORS", "3")
	t.Setenv("RTC_PIPELINE_MODALITIES_EMOTION", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Signaling.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrentProcessors)
	assert.False(t, cfg.Pipeline.Modalities.Emotion)
	// Untouched keys keep their defaults.
	assert.Equal(t, 256, cfg.Pipeline.QueueCapacity)
}
