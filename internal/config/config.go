package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string   `mapstructure:"mode"`
	Port        int      `mapstructure:"port"`
	Secret      string   `mapstructure:"secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	Signaling Signaling `mapstructure:"signaling"`
	ICE       ICE       `mapstructure:"ice"`
	Recording Recording `mapstructure:"recording"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
}

type Signaling struct {
	MaxSessions        int           `mapstructure:"max_sessions"`
	MaxSessionDuration time.Duration `mapstructure:"max_session_duration"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ConnectionTimeout  time.Duration `mapstructure:"connection_timeout"`
	SessionRetention   time.Duration `mapstructure:"session_retention"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
}

type ICE struct {
	STUNURLs      []string      `mapstructure:"stun_urls"`
	TURNURLs      []string      `mapstructure:"turn_urls"`
	TURNSecret    string        `mapstructure:"turn_secret"`
	TURNPrefix    string        `mapstructure:"turn_user_prefix"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
	CleanupEvery  time.Duration `mapstructure:"cleanup_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type Recording struct {
	StorageRoot          string        `mapstructure:"storage_root"`
	ChunkDuration        time.Duration `mapstructure:"chunk_duration"`
	MaxDuration          time.Duration `mapstructure:"max_recording_duration"`
	MaxFileSize          int64         `mapstructure:"max_file_size"`
	QualityCheckInterval time.Duration `mapstructure:"quality_check_interval"`
	MinChunkBytesPerSec  int64         `mapstructure:"min_chunk_bytes_per_sec"`
}

type Pipeline struct {
	MaxConcurrentProcessors int           `mapstructure:"max_concurrent_processors"`
	ProcessingInterval      time.Duration `mapstructure:"processing_interval"`
	QueueCapacity           int           `mapstructure:"queue_capacity"`
	ShutdownGrace           time.Duration `mapstructure:"shutdown_grace"`
	Modalities              Modalities    `mapstructure:"modalities"`
}

type Modalities struct {
	Audio      bool `mapstructure:"audio"`
	Video      bool `mapstructure:"video"`
	Transcript bool `mapstructure:"transcript"`
	Emotion    bool `mapstructure:"emotion"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RTC")
	// Nested keys map to env vars as RTC_SECTION_KEY.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("signaling.max_sessions", 0)
	v.SetDefault("signaling.max_session_duration", "2h")
	v.SetDefault("signaling.heartbeat_interval", "10s")
	v.SetDefault("signaling.connection_timeout", "60s")
	v.SetDefault("signaling.session_retention", "5m")
	v.SetDefault("signaling.read_limit", 32768)
	v.SetDefault("signaling.ping_period", "54s")

	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn_user_prefix", "intervue")
	v.SetDefault("ice.credential_ttl", "1h")
	v.SetDefault("ice.cleanup_interval", "5m")
	v.SetDefault("ice.probe_timeout", "3s")

	v.SetDefault("recording.storage_root", "./recordings")
	v.SetDefault("recording.chunk_duration", "10s")
	v.SetDefault("recording.max_recording_duration", "2h")
	v.SetDefault("recording.max_file_size", 2<<30)
	v.SetDefault("recording.quality_check_interval", "30s")
	v.SetDefault("recording.min_chunk_bytes_per_sec", 8192)

	v.SetDefault("pipeline.max_concurrent_processors", 10)
	v.SetDefault("pipeline.processing_interval", "500ms")
	v.SetDefault("pipeline.queue_capacity", 256)
	v.SetDefault("pipeline.shutdown_grace", "10s")
	v.SetDefault("pipeline.modalities.audio", true)
	v.SetDefault("pipeline.modalities.video", true)
	v.SetDefault("pipeline.modalities.transcript", true)
	v.SetDefault("pipeline.modalities.emotion", true)
}
