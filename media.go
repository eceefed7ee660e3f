package avplay

import "time"

// AudioFormat describes the PCM layout of a decoded audio stream.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// VideoFormat describes a decoded video stream. BufferCapacity is the number
// of bytes a single decoded frame occupies, which sizes the blocks of the
// frame-data pool.
type VideoFormat struct {
	Width          int
	Height         int
	FrameRate      float64
	BufferCapacity int
}

// Media describes a probed media source. At least one of Audio or Video is
// non-nil. Single-image streams and other sources without a meaningful
// duration are valid, but playback commands no-op on them (see
// [Media.Continuous]).
type Media struct {
	Location string
	Duration time.Duration
	Audio    *AudioFormat
	Video    *VideoFormat
}

// Returns whether the media carries an audio stream.
func (m Media) HasAudio() bool { return m.Audio != nil }

// Returns whether the media carries a video stream.
func (m Media) HasVideo() bool { return m.Video != nil }

// Continuous reports whether the media can actually be played, paused and
// seeked. Non-continuous media (duration == 0, e.g. single images) can still
// be prepared and rendered, but playback commands are dropped.
func (m Media) Continuous() bool { return m.Duration > 0 }

// FrameDuration returns the nominal duration of one video frame, or zero if
// the media has no video stream or an unknown frame rate.
func (m Media) FrameDuration() time.Duration {
	if m.Video == nil || m.Video.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / m.Video.FrameRate)
}
