package avplay

import "time"

// A Frame is a single unit of decoded media flowing from a decoder to a
// presentation sink. It is one of [AudioFrame], [VideoFrame] or [EndOfStream].
type Frame interface {
	isFrame()
}

// AudioFrame holds interleaved PCM samples decoded from the audio stream.
// Timestamps are monotonic within a single stream.
type AudioFrame struct {
	Timestamp time.Duration
	Bytes     []byte
}

// VideoFrame holds one decoded picture. Data is backed by a [BlockPool] block
// and must be returned to the pool once the frame has been presented or
// discarded.
type VideoFrame struct {
	Timestamp time.Duration
	Data      []byte
}

// EndOfStream marks the end of a decoded stream. It is enqueued as a sentinel
// by the buffer loop so the playback loop can terminate in order.
type EndOfStream struct{}

func (AudioFrame) isFrame()  {}
func (VideoFrame) isFrame()  {}
func (EndOfStream) isFrame() {}
