package avplay

// Settings are the user-tunable playback parameters. They are observed by the
// playback loop as per-frame snapshots, so changes take effect on subsequent
// frames without resynchronization.
type Settings struct {
	// Volume in [0, 1].
	Volume float64

	// Muted forces an effective gain of 0 while keeping Volume intact.
	Muted bool

	// PlaybackSpeedFactor scales the mapping from media timestamps to wall
	// time. Must stay within the engine config's min/max range.
	PlaybackSpeedFactor float64
}

// DefaultSettings returns full volume, unmuted, 1x speed.
func DefaultSettings() Settings {
	return Settings{Volume: 1.0, PlaybackSpeedFactor: 1.0}
}

// EffectiveGain returns 0 when muted and the volume otherwise.
func (s Settings) EffectiveGain() float64 {
	if s.Muted {
		return 0
	}
	return s.Volume
}

func (s Settings) validate(cfg EngineConfig) error {
	if s.Volume < 0 || s.Volume > 1 {
		return ErrBadVolume
	}
	if s.PlaybackSpeedFactor < cfg.MinPlaybackSpeedFactor || s.PlaybackSpeedFactor > cfg.MaxPlaybackSpeedFactor {
		return ErrBadSpeedFactor
	}
	return nil
}
