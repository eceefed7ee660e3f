package avplay

import "context"

// A Sampler is the audio presentation sink. It owns the audio clock: Write
// blocks while the device-side buffer is full, which is what paces audio-only
// playback. [otosampler] provides an implementation on top of oto.
type Sampler interface {
	// Start opens the output for playback, resuming from a prior Stop.
	Start(ctx context.Context) error

	// Stop halts playback without discarding queued samples.
	Stop(ctx context.Context) error

	// Flush discards queued samples that have not reached the device yet.
	Flush(ctx context.Context) error

	// Write queues one audio frame for playback, blocking while the sampler
	// is saturated. gain is the effective volume in [0, 1] (0 when muted)
	// and speed the playback speed factor, both sampled per frame.
	Write(ctx context.Context, frame AudioFrame, gain, speed float64) error

	// Close releases the output device. The sampler becomes unusable.
	Close() error
}

// A SamplerFactory builds a sampler for the audio format of a freshly
// prepared media. Invoked under Prepare; a failure aborts the prepare.
type SamplerFactory func(format AudioFormat) (Sampler, error)
