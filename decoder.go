package avplay

import (
	"context"
	"time"
)

// A Decoder is the engine's view of a demuxer+codec pair for one media
// source. Implementations live outside the core; [reisendec] provides one on
// top of FFmpeg. Decode calls perform I/O and must honor context
// cancellation.
//
// A decoder opened for audio+video serves both Decode methods; the engine
// opens two independent decoders for audio/video media so the streams can be
// drained and seeked concurrently.
type Decoder interface {
	// DecodeAudio returns the next [AudioFrame], or [EndOfStream] once the
	// audio stream is exhausted.
	DecodeAudio(ctx context.Context) (Frame, error)

	// DecodeVideo decodes the next picture into dest, which is a pool-owned
	// block of at least the probed BufferCapacity bytes. Returns a
	// [VideoFrame] whose Data aliases dest, or [EndOfStream].
	DecodeVideo(ctx context.Context, dest []byte) (Frame, error)

	// SeekTo repositions the decoder and returns the timestamp it actually
	// landed on, which for keyframe seeks may precede the requested one.
	SeekTo(ctx context.Context, position time.Duration, keyframesOnly bool) (time.Duration, error)

	// Reset rewinds the decoder to the start of the media.
	Reset(ctx context.Context) error

	// Close releases the decoder. The decoder becomes unusable afterwards.
	Close() error
}

// A DecoderFactory probes media sources and opens decoders for them. The
// controller uses one factory for the lifetime of all its prepares.
type DecoderFactory interface {
	// Probe inspects the media at location and describes the streams the
	// caller asked for. Probe does not keep the media open.
	Probe(ctx context.Context, location string, findAudio, findVideo bool) (Media, error)

	// Open creates a decoder for the given probed media, limited to the
	// requested streams. hardwareCandidates lists acceleration backends to
	// try in order; implementations may ignore it.
	Open(ctx context.Context, media Media, audio, video bool, hardwareCandidates []string) (Decoder, error)
}
