// Package reisendec implements the engine's decoder contract on top of
// [erparts/reisen], the FFmpeg bindings used to make media decoding possible
// from Go. One Factory probes containers and opens per-stream decoders; the
// engine opens two independent decoders for audio+video media so both
// streams can be drained and seeked concurrently.
//
// [erparts/reisen]: https://github.com/erparts/reisen
package reisendec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/erparts/reisen"

	avplay "github.com/erparts/go-avplay"
)

// A collection of errors defined by this package. Other format-specific
// errors from the underlying FFmpeg bindings are also possible.
var (
	ErrNoStreams       = errors.New("media contains no audio or video streams")
	ErrDecoderClosed   = errors.New("decoder is closed")
	ErrTooManyChannels = errors.New("audio streams with more than 2 channels are not supported")
)

// bytesPerPixel is what reisen hands back per decoded video sample (RGBA).
const bytesPerPixel = 4

// Factory probes and opens reisen-backed decoders. The zero value is ready
// to use.
type Factory struct{}

var _ avplay.DecoderFactory = Factory{}

// Probe opens the container at location just long enough to describe the
// requested streams. When a media has multiple streams of a kind, the first
// one is used, like the underlying bindings recommend.
func (Factory) Probe(ctx context.Context, location string, findAudio, findVideo bool) (avplay.Media, error) {
	if err := ctx.Err(); err != nil {
		return avplay.Media{}, err
	}
	container, err := reisen.NewMedia(location)
	if err != nil {
		return avplay.Media{}, err
	}
	defer container.Close()

	media := avplay.Media{Location: location}

	if findAudio {
		audioStreams := container.AudioStreams()
		if len(audioStreams) > 1 {
			warnMultiStream(location, "audio")
		}
		if len(audioStreams) > 0 {
			stream := audioStreams[0]
			if stream.ChannelCount() > 2 {
				return avplay.Media{}, ErrTooManyChannels
			}
			duration, err := stream.Duration()
			if err != nil {
				return avplay.Media{}, err
			}
			media.Audio = &avplay.AudioFormat{
				SampleRate: stream.SampleRate(),
				Channels:   stream.ChannelCount(),
			}
			media.Duration = max(media.Duration, duration)
		}
	}

	if findVideo {
		videoStreams := container.VideoStreams()
		if len(videoStreams) > 1 {
			warnMultiStream(location, "video")
		}
		if len(videoStreams) > 0 {
			stream := videoStreams[0]
			duration, err := stream.Duration()
			if err != nil {
				return avplay.Media{}, err
			}
			frNum, frDenom := stream.FrameRate()
			var frameRate float64
			if frDenom > 0 {
				frameRate = float64(frNum) / float64(frDenom)
			}
			media.Video = &avplay.VideoFormat{
				Width:          stream.Width(),
				Height:         stream.Height(),
				FrameRate:      frameRate,
				BufferCapacity: stream.Width() * stream.Height() * bytesPerPixel,
			}
			media.Duration = max(media.Duration, duration)
		}
	}

	if media.Audio == nil && media.Video == nil {
		return avplay.Media{}, ErrNoStreams
	}
	return media, nil
}

// Open creates a decoder over the probed media, limited to the requested
// streams. reisen decodes in software; hardwareCandidates is accepted for
// contract compatibility and ignored.
func (Factory) Open(ctx context.Context, media avplay.Media, audio, video bool, hardwareCandidates []string) (avplay.Decoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	container, err := reisen.NewMedia(media.Location)
	if err != nil {
		return nil, err
	}
	if err := container.OpenDecode(); err != nil {
		container.Close()
		return nil, err
	}

	dec := &decoder{media: container}
	fail := func(cause error) (avplay.Decoder, error) {
		dec.closeStreams()
		container.CloseDecode()
		container.Close()
		return nil, cause
	}

	if audio {
		streams := container.AudioStreams()
		if len(streams) == 0 {
			return fail(fmt.Errorf("open %s: no audio stream", media.Location))
		}
		dec.audio = streams[0]
		if err := dec.audio.Open(); err != nil {
			dec.audio = nil
			return fail(err)
		}
	}
	if video {
		streams := container.VideoStreams()
		if len(streams) == 0 {
			return fail(fmt.Errorf("open %s: no video stream", media.Location))
		}
		dec.video = streams[0]
		if err := dec.video.Open(); err != nil {
			dec.video = nil
			return fail(err)
		}
	}
	if dec.audio == nil && dec.video == nil {
		return fail(ErrNoStreams)
	}
	return dec, nil
}

type decoder struct {
	mu     sync.Mutex
	media  *reisen.Media
	audio  *reisen.AudioStream
	video  *reisen.VideoStream
	eof    bool
	closed bool

	pendingAudio []*reisen.AudioFrame
	pendingVideo []*reisen.VideoFrame
}

// DecodeAudio returns the next audio frame, reading container packets as
// needed and queueing any video frames that come out in between.
func (d *decoder) DecodeAudio(ctx context.Context) (avplay.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDecoderClosed
	}
	if d.audio == nil {
		return nil, errors.New("decoder has no audio stream")
	}

	for {
		if len(d.pendingAudio) > 0 {
			frame := d.pendingAudio[0]
			d.pendingAudio = d.pendingAudio[1:]
			return audioFrame(frame)
		}
		if d.eof {
			return avplay.EndOfStream{}, nil
		}
		if err := d.readPacket(ctx); err != nil {
			return nil, err
		}
	}
}

// DecodeVideo decodes the next picture into dest.
func (d *decoder) DecodeVideo(ctx context.Context, dest []byte) (avplay.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDecoderClosed
	}
	if d.video == nil {
		return nil, errors.New("decoder has no video stream")
	}

	for {
		if len(d.pendingVideo) > 0 {
			frame := d.pendingVideo[0]
			d.pendingVideo = d.pendingVideo[1:]
			return videoFrame(frame, dest)
		}
		if d.eof {
			return avplay.EndOfStream{}, nil
		}
		if err := d.readPacket(ctx); err != nil {
			return nil, err
		}
	}
}

// readPacket pulls one container packet and routes its frame to the matching
// pending queue. Packets of streams this decoder doesn't manage are skipped,
// which is how each of the two independent decoders opened for audio+video
// media reads only its own stream from its own container.
func (d *decoder) readPacket(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	packet, found, err := d.media.ReadPacket()
	if err != nil {
		return err
	}
	if !found {
		d.eof = true
		return nil
	}

	switch packet.Type() {
	case reisen.StreamAudio:
		if d.audio == nil || packet.StreamIndex() != d.audio.Index() {
			return nil
		}
		frame, _, err := d.audio.ReadAudioFrame()
		if err != nil {
			return err
		}
		// a found-but-nil frame is a frame skip
		if frame != nil {
			d.pendingAudio = append(d.pendingAudio, frame)
		}
	case reisen.StreamVideo:
		if d.video == nil || packet.StreamIndex() != d.video.Index() {
			return nil
		}
		frame, _, err := d.video.ReadVideoFrame()
		if err != nil {
			return err
		}
		if frame != nil {
			d.pendingVideo = append(d.pendingVideo, frame)
		}
	default:
		// other packet kinds exist; they are not ours to decode
	}
	return nil
}

// SeekTo rewinds the managed streams to the requested position and returns
// that requested position. The position reisen actually lands on (which may
// be an earlier keyframe) is not reported, and keyframesOnly is not used.
func (d *decoder) SeekTo(ctx context.Context, position time.Duration, keyframesOnly bool) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDecoderClosed
	}
	if err := d.rewind(position); err != nil {
		return 0, err
	}
	return position, nil
}

// Reset rewinds to the start of the media.
func (d *decoder) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	return d.rewind(0)
}

func (d *decoder) rewind(position time.Duration) error {
	if d.audio != nil {
		if err := d.audio.Rewind(position); err != nil {
			return err
		}
	}
	if d.video != nil {
		if err := d.video.Rewind(position); err != nil {
			return err
		}
	}
	d.pendingAudio = d.pendingAudio[:0]
	d.pendingVideo = d.pendingVideo[:0]
	d.eof = false
	return nil
}

// Close releases the streams and the container. The resources are allocated
// through cgo, so this should be treated like a C free() operation.
func (d *decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.closeStreams()
	err := d.media.CloseDecode()
	d.media.Close()
	return err
}

func (d *decoder) closeStreams() {
	if d.audio != nil {
		_ = d.audio.Close()
	}
	if d.video != nil {
		_ = d.video.Close()
	}
}

func audioFrame(frame *reisen.AudioFrame) (avplay.Frame, error) {
	offset, err := frame.PresentationOffset()
	if err != nil {
		return nil, err
	}
	data := frame.Data()
	out := make([]byte, len(data))
	copy(out, data)
	return avplay.AudioFrame{Timestamp: offset, Bytes: out}, nil
}

func videoFrame(frame *reisen.VideoFrame, dest []byte) (avplay.Frame, error) {
	offset, err := frame.PresentationOffset()
	if err != nil {
		return nil, err
	}
	n := copy(dest, frame.Data())
	return avplay.VideoFrame{Timestamp: offset, Data: dest[:n]}, nil
}

func warnMultiStream(location, kind string) {
	slog.Warn("media has multiple streams; defaulting to the first",
		"media", filepath.Base(location), "kind", kind)
}
