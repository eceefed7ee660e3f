// Package otosampler implements the engine's sampler contract on top of
// [ebitengine/oto]: decoded PCM frames are queued into a blocking pipe that
// the oto player drains on its own clock, which is what paces audio-driven
// playback.
//
// Samples are expected as interleaved signed 16-bit little-endian PCM, the
// layout FFmpeg-based decoders produce by default.
//
// [ebitengine/oto]: https://github.com/ebitengine/oto
package otosampler

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"

	avplay "github.com/erparts/go-avplay"
)

var (
	ErrSamplerClosed = errors.New("sampler is closed")
	ErrBadFormat     = errors.New("sample rate and channel count must be positive")
)

// oto supports a single context per process, so all samplers share one. The
// first format wins; media with a different sample rate needs resampling
// upstream, which the engine treats as out of scope.
var (
	ctxOnce   sync.Once
	sharedCtx *oto.Context
	ctxErr    error
)

func sharedContext(format avplay.AudioFormat) (*oto.Context, error) {
	ctxOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			ctxErr = err
			return
		}
		<-ready
		sharedCtx = ctx
	})
	return sharedCtx, ctxErr
}

// New creates a sampler for the given format. Usable as an
// [avplay.SamplerFactory].
func New(format avplay.AudioFormat) (avplay.Sampler, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, ErrBadFormat
	}
	otoCtx, err := sharedContext(format)
	if err != nil {
		return nil, err
	}
	s := &sampler{pipe: newPCMPipe()}
	s.player = otoCtx.NewPlayer(s.pipe)
	return s, nil
}

var _ avplay.SamplerFactory = New

type sampler struct {
	mu     sync.Mutex
	player *oto.Player
	pipe   *pcmPipe
	closed bool
}

func (s *sampler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSamplerClosed
	}
	s.player.Play()
	return nil
}

func (s *sampler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSamplerClosed
	}
	s.player.Pause()
	return nil
}

func (s *sampler) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSamplerClosed
	}
	s.pipe.clear()
	return nil
}

// Write queues one frame, blocking while the pipe is saturated. Gain and
// speed are baked into the queued samples, so per-frame changes apply
// exactly at frame granularity.
func (s *sampler) Write(ctx context.Context, frame avplay.AudioFrame, gain, speed float64) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSamplerClosed
	}
	return s.pipe.write(ctx, processSamples(frame.Bytes, gain, speed))
}

func (s *sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pipe.close()
	return s.player.Close()
}

// processSamples applies gain and a nearest-sample speed change to
// interleaved s16le data. The naive resampling audibly shifts pitch with the
// speed factor, matching how the engine's temporal mapping is defined.
func processSamples(src []byte, gain, speed float64) []byte {
	if gain == 1 && speed == 1 {
		out := make([]byte, len(src)&^1)
		copy(out, src)
		return out
	}
	if speed <= 0 {
		speed = 1
	}

	samples := len(src) / 2
	outSamples := samples
	if speed != 1 {
		outSamples = int(float64(samples) / speed)
	}
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		j := i
		if speed != 1 {
			j = int(float64(i) * speed)
			if j >= samples {
				j = samples - 1
			}
		}
		v := int16(uint16(src[2*j]) | uint16(src[2*j+1])<<8)
		scaled := int32(float64(v) * gain)
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out[2*i] = byte(uint16(scaled))
		out[2*i+1] = byte(uint16(scaled) >> 8)
	}
	return out
}

// pcmPipe is the bounded byte queue between Write and the oto player's
// reader goroutine. Read blocks while empty so the player never starves into
// EOF; write blocks while full so the engine's playback loop is paced by the
// audio clock.
const pipeChunks = 16

type pcmPipe struct {
	mu       sync.Mutex
	chunks   chan []byte
	leftover []byte
	done     chan struct{}
	once     sync.Once
}

func newPCMPipe() *pcmPipe {
	return &pcmPipe{
		chunks: make(chan []byte, pipeChunks),
		done:   make(chan struct{}),
	}
}

func (p *pcmPipe) write(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case p.chunks <- chunk:
		return nil
	case <-p.done:
		return ErrSamplerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pcmPipe) clear() {
	p.mu.Lock()
	p.leftover = nil
	p.mu.Unlock()
	for {
		select {
		case <-p.chunks:
		default:
			return
		}
	}
}

func (p *pcmPipe) close() {
	p.once.Do(func() { close(p.done) })
}

// Read implements io.Reader for the oto player.
func (p *pcmPipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.leftover) > 0 {
		n := copy(buf, p.leftover)
		p.leftover = p.leftover[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	select {
	case chunk := <-p.chunks:
		n := copy(buf, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.leftover = chunk[n:]
			p.mu.Unlock()
		}
		return n, nil
	case <-p.done:
		// serve what's already queued before reporting EOF
		select {
		case chunk := <-p.chunks:
			n := copy(buf, chunk)
			if n < len(chunk) {
				p.mu.Lock()
				p.leftover = chunk[n:]
				p.mu.Unlock()
			}
			return n, nil
		default:
			return 0, io.EOF
		}
	}
}
