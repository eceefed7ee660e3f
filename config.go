package avplay

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before they override
// config file values, e.g. AVPLAY_SYNC_LATE_THRESHOLD.
const envPrefix = "AVPLAY_"

// EngineConfig carries the tuning constants of the engine. Zero values are
// replaced by defaults in [NewController]; most embedders never touch this.
type EngineConfig struct {
	// Allowed range for Settings.PlaybackSpeedFactor.
	MinPlaybackSpeedFactor float64 `koanf:"min_playback_speed_factor"`
	MaxPlaybackSpeedFactor float64 `koanf:"max_playback_speed_factor"`

	// A/V sync correction window: video frames later than the audio clock by
	// more than SyncLateThreshold are dropped, frames earlier by more than
	// SyncEarlyThreshold wait.
	SyncLateThreshold  time.Duration `koanf:"sync_late_threshold"`
	SyncEarlyThreshold time.Duration `koanf:"sync_early_threshold"`

	// How often the audio-driven playback loops report playbackTimestamp.
	AudioReportInterval time.Duration `koanf:"audio_report_interval"`

	// How long the supervisor waits for a removed loop before declaring it
	// hung.
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinPlaybackSpeedFactor: 0.25,
		MaxPlaybackSpeedFactor: 4.0,
		SyncLateThreshold:      120 * time.Millisecond,
		SyncEarlyThreshold:     15 * time.Millisecond,
		AudioReportInterval:    100 * time.Millisecond,
		StopTimeout:            10 * time.Second,
	}
}

// LoadEngineConfig reads an [EngineConfig] from an optional YAML file and the
// AVPLAY_* environment. A missing file is not an error: defaults plus
// environment overrides are returned.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("loading %s: %w", path, err)
			}
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return key, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return cfg, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshaling engine config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c EngineConfig) validate() error {
	if c.MinPlaybackSpeedFactor <= 0 || c.MaxPlaybackSpeedFactor < c.MinPlaybackSpeedFactor {
		return fmt.Errorf("invalid playback speed range [%v, %v]", c.MinPlaybackSpeedFactor, c.MaxPlaybackSpeedFactor)
	}
	if c.SyncLateThreshold < 0 || c.SyncEarlyThreshold < 0 {
		return fmt.Errorf("sync thresholds must be non-negative")
	}
	if c.AudioReportInterval <= 0 {
		return fmt.Errorf("audio report interval must be positive")
	}
	return nil
}

// withDefaults fills zero fields so a partially specified config stays usable.
func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.MinPlaybackSpeedFactor == 0 {
		c.MinPlaybackSpeedFactor = def.MinPlaybackSpeedFactor
	}
	if c.MaxPlaybackSpeedFactor == 0 {
		c.MaxPlaybackSpeedFactor = def.MaxPlaybackSpeedFactor
	}
	if c.SyncLateThreshold == 0 {
		c.SyncLateThreshold = def.SyncLateThreshold
	}
	if c.SyncEarlyThreshold == 0 {
		c.SyncEarlyThreshold = def.SyncEarlyThreshold
	}
	if c.AudioReportInterval == 0 {
		c.AudioReportInterval = def.AudioReportInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = def.StopTimeout
	}
	return c
}
