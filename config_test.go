package avplay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), cfg)
}

func TestLoadEngineConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avplay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_playback_speed_factor: 8.0\nsync_late_threshold: 250ms\n"), 0o644))

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8.0, cfg.MaxPlaybackSpeedFactor)
	assert.Equal(t, 250*time.Millisecond, cfg.SyncLateThreshold)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultEngineConfig().MinPlaybackSpeedFactor, cfg.MinPlaybackSpeedFactor)
}

func TestLoadEngineConfigEnvOverride(t *testing.T) {
	t.Setenv("AVPLAY_MAX_PLAYBACK_SPEED_FACTOR", "2.5")
	cfg, err := LoadEngineConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.MaxPlaybackSpeedFactor)
}

func TestEngineConfigValidation(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MinPlaybackSpeedFactor = 3
	cfg.MaxPlaybackSpeedFactor = 2
	assert.Error(t, cfg.validate())

	cfg = DefaultEngineConfig()
	cfg.AudioReportInterval = 0
	assert.Error(t, cfg.validate())

	assert.NoError(t, DefaultEngineConfig().validate())
}

func TestEngineConfigWithDefaultsFillsZeroes(t *testing.T) {
	cfg := EngineConfig{MaxPlaybackSpeedFactor: 16}.withDefaults()
	assert.Equal(t, 16.0, cfg.MaxPlaybackSpeedFactor)
	assert.Equal(t, DefaultEngineConfig().MinPlaybackSpeedFactor, cfg.MinPlaybackSpeedFactor)
	assert.Equal(t, DefaultEngineConfig().StopTimeout, cfg.StopTimeout)
}
