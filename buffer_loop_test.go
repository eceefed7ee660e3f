package avplay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectTimestamps() (func(time.Duration), func() []time.Duration) {
	var mu sync.Mutex
	var out []time.Duration
	record := func(ts time.Duration) {
		mu.Lock()
		out = append(out, ts)
		mu.Unlock()
	}
	snapshot := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]time.Duration, len(out))
		copy(cp, out)
		return cp
	}
	return record, snapshot
}

func TestBufferLoopAudioFillsBufferInOrder(t *testing.T) {
	dec := newFakeDecoder()
	dec.audio = []scriptedFrame{
		{ts: 10 * time.Millisecond, data: []byte{1}},
		{ts: 20 * time.Millisecond, data: []byte{2}},
		{ts: 30 * time.Millisecond, data: []byte{3}},
	}
	buf := NewFrameBuffer[Frame](8)
	smp := &fakeSampler{}
	loop := newBufferLoop(newTestSupervisor(t), &audioPipeline{decoder: dec, buffer: buf, sampler: smp}, nil)

	record, snapshot := collectTimestamps()
	done := make(chan struct{})
	require.NoError(t, loop.start(
		func(err error) { t.Errorf("unexpected loop failure: %v", err) },
		record,
		func() { close(done) },
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffer loop never reported end of media")
	}

	assert.False(t, loop.isBuffering())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, snapshot())

	// buffer contains the frames in decode order, then the sentinel
	ctx := context.Background()
	for i := byte(1); i <= 3; i++ {
		frame, err := buf.Take(ctx)
		require.NoError(t, err)
		audio, ok := frame.(AudioFrame)
		require.True(t, ok)
		assert.Equal(t, []byte{i}, audio.Bytes)
	}
	frame, err := buf.Take(ctx)
	require.NoError(t, err)
	assert.IsType(t, EndOfStream{}, frame)
}

func TestBufferLoopStartWhileRunningFails(t *testing.T) {
	dec := newFakeDecoder()
	dec.decodeDelay = 50 * time.Millisecond
	dec.audio = []scriptedFrame{{ts: time.Millisecond, data: []byte{1}}}
	buf := NewFrameBuffer[Frame](2)
	loop := newBufferLoop(newTestSupervisor(t), &audioPipeline{decoder: dec, buffer: buf, sampler: &fakeSampler{}}, nil)

	require.NoError(t, loop.start(func(error) {}, func(time.Duration) {}, func() {}))
	assert.True(t, loop.isBuffering())
	assert.ErrorIs(t, loop.start(func(error) {}, func(time.Duration) {}, func() {}), ErrLoopRunning)
	loop.stop()
	assert.False(t, loop.isBuffering())
}

func TestBufferLoopVideoReleasesBlockOnDecodeError(t *testing.T) {
	dec := newFakeDecoder()
	dec.failVideoAt = 0
	buf := NewFrameBuffer[Frame](2)
	pool := NewBlockPool(16, 2)
	loop := newBufferLoop(newTestSupervisor(t), &videoPipeline{decoder: dec, pool: pool, buffer: buf}, nil)

	failed := make(chan error, 1)
	require.NoError(t, loop.start(
		func(err error) { failed <- err },
		func(time.Duration) {},
		func() { t.Error("end of media on a failing decoder") },
	))

	select {
	case err := <-failed:
		var loopErr *BufferLoopError
		require.ErrorAs(t, err, &loopErr)
	case <-time.After(2 * time.Second):
		t.Fatal("decode failure never surfaced")
	}

	// the block acquired for the failed decode went back to the pool
	require.Eventually(t, func() bool { return pool.FreeBlocks() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestBufferLoopAudioVideoCoalescesTimestamps(t *testing.T) {
	dec := newFakeDecoder()
	dec.audio = []scriptedFrame{
		{ts: 10 * time.Millisecond, data: []byte{1}},
		{ts: 30 * time.Millisecond, data: []byte{2}},
		{ts: 50 * time.Millisecond, data: []byte{3}},
	}
	dec.video = []scriptedFrame{
		{ts: 5 * time.Millisecond, data: []byte{1}},
		{ts: 25 * time.Millisecond, data: []byte{2}},
		{ts: 45 * time.Millisecond, data: []byte{3}},
	}
	pipe := &audioVideoPipeline{
		audioDecoder: dec, videoDecoder: dec,
		audioBuffer: NewFrameBuffer[Frame](8), videoBuffer: NewFrameBuffer[Frame](8),
		videoPool: NewBlockPool(16, 8), sampler: &fakeSampler{},
	}
	loop := newBufferLoop(newTestSupervisor(t), pipe, nil)

	record, snapshot := collectTimestamps()
	done := make(chan struct{})
	require.NoError(t, loop.start(
		func(err error) { t.Errorf("unexpected loop failure: %v", err) },
		record,
		func() { close(done) },
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffer loop never reported end of media")
	}

	reported := snapshot()
	require.NotEmpty(t, reported)
	for i := 1; i < len(reported); i++ {
		assert.Greater(t, reported[i], reported[i-1], "buffer timestamps must be strictly increasing")
	}
}
