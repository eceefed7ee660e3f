package avplay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// shared fakes for the loop and controller tests

func newTestSupervisor(t *testing.T) *suture.Supervisor {
	t.Helper()
	sup := suture.NewSimple("test")
	ctx, cancel := context.WithCancel(context.Background())
	sup.ServeBackground(ctx)
	t.Cleanup(cancel)
	return sup
}

type scriptedFrame struct {
	ts   time.Duration
	data []byte
}

type fakeDecoder struct {
	mu          sync.Mutex
	audio       []scriptedFrame
	video       []scriptedFrame
	audioIdx    int
	videoIdx    int
	failAudioAt int
	failVideoAt int
	decodeDelay time.Duration
	seekReturns time.Duration
	seeks       []time.Duration
	resets      int
	closes      int
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{failAudioAt: -1, failVideoAt: -1}
}

func (d *fakeDecoder) DecodeAudio(ctx context.Context) (Frame, error) {
	if d.decodeDelay > 0 {
		if err := sleepCtx(ctx, d.decodeDelay); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAudioAt >= 0 && d.audioIdx == d.failAudioAt {
		return nil, errors.New("scripted audio decode failure")
	}
	if d.audioIdx >= len(d.audio) {
		return EndOfStream{}, nil
	}
	f := d.audio[d.audioIdx]
	d.audioIdx++
	return AudioFrame{Timestamp: f.ts, Bytes: f.data}, nil
}

func (d *fakeDecoder) DecodeVideo(ctx context.Context, dest []byte) (Frame, error) {
	if d.decodeDelay > 0 {
		if err := sleepCtx(ctx, d.decodeDelay); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failVideoAt >= 0 && d.videoIdx == d.failVideoAt {
		return nil, errors.New("scripted video decode failure")
	}
	if d.videoIdx >= len(d.video) {
		return EndOfStream{}, nil
	}
	f := d.video[d.videoIdx]
	d.videoIdx++
	n := copy(dest, f.data)
	return VideoFrame{Timestamp: f.ts, Data: dest[:n]}, nil
}

func (d *fakeDecoder) SeekTo(_ context.Context, position time.Duration, _ bool) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, position)
	d.audioIdx = 0
	d.videoIdx = 0
	if d.seekReturns != 0 {
		return d.seekReturns, nil
	}
	return position, nil
}

func (d *fakeDecoder) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	d.audioIdx = 0
	d.videoIdx = 0
	return nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDecoder) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *fakeDecoder) resetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

func (d *fakeDecoder) seekPositions() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, len(d.seeks))
	copy(out, d.seeks)
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	media      Media
	probeErr   error
	probeDelay time.Duration
	openErr    error
	audioDec   *fakeDecoder
	videoDec   *fakeDecoder
	opened     []*fakeDecoder
}

func (f *fakeFactory) Probe(ctx context.Context, location string, _, _ bool) (Media, error) {
	if f.probeDelay > 0 {
		if err := sleepCtx(ctx, f.probeDelay); err != nil {
			return Media{}, err
		}
	}
	if f.probeErr != nil {
		return Media{}, f.probeErr
	}
	m := f.media
	m.Location = location
	return m, nil
}

func (f *fakeFactory) Open(_ context.Context, _ Media, audio, _ bool, _ []string) (Decoder, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var d *fakeDecoder
	if audio {
		if f.audioDec == nil {
			f.audioDec = newFakeDecoder()
		}
		d = f.audioDec
	} else {
		if f.videoDec == nil {
			f.videoDec = newFakeDecoder()
		}
		d = f.videoDec
	}
	f.opened = append(f.opened, d)
	return d, nil
}

func (f *fakeFactory) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeSampler struct {
	mu       sync.Mutex
	writes   []AudioFrame
	gains    []float64
	speeds   []float64
	starts   int
	stops    int
	flushes  int
	closes   int
	writeErr error
}

func (s *fakeSampler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *fakeSampler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSampler) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *fakeSampler) Write(_ context.Context, frame AudioFrame, gain, speed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, frame)
	s.gains = append(s.gains, gain)
	s.speeds = append(s.speeds, speed)
	return nil
}

func (s *fakeSampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSampler) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *fakeSampler) writtenTimestamps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.Timestamp
	}
	return out
}

type fakeRenderer struct {
	mu        sync.Mutex
	presented []time.Duration
	err       error
}

func (r *fakeRenderer) Present(frame VideoFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.presented = append(r.presented, frame.Timestamp)
	return nil
}

func (r *fakeRenderer) presentedTimestamps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.presented))
	copy(out, r.presented)
	return out
}

// media fixtures

func audioTestMedia(duration time.Duration) Media {
	return Media{
		Location: "test.wav",
		Duration: duration,
		Audio:    &AudioFormat{SampleRate: 44100, Channels: 2},
	}
}

func videoTestMedia(duration time.Duration) Media {
	return Media{
		Location: "test.mp4",
		Duration: duration,
		Video:    &VideoFormat{Width: 4, Height: 4, FrameRate: 25, BufferCapacity: 64},
	}
}

func avTestMedia(duration time.Duration) Media {
	m := audioTestMedia(duration)
	m.Video = &VideoFormat{Width: 4, Height: 4, FrameRate: 25, BufferCapacity: 64}
	m.Location = "test.mkv"
	return m
}
