package avplay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBufferFIFO(t *testing.T) {
	buf := NewFrameBuffer[int](4)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Put(ctx, i))
	}
	assert.Equal(t, 4, buf.Len())

	for i := 1; i <= 4; i++ {
		v, err := buf.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestFrameBufferPutBlocksUntilTake(t *testing.T) {
	buf := NewFrameBuffer[int](1)
	ctx := context.Background()
	require.NoError(t, buf.Put(ctx, 1))

	unblocked := make(chan error, 1)
	go func() { unblocked <- buf.Put(ctx, 2) }()

	select {
	case <-unblocked:
		t.Fatal("put on a full buffer should block")
	case <-time.After(30 * time.Millisecond):
	}

	_, err := buf.Take(ctx)
	require.NoError(t, err)
	require.NoError(t, <-unblocked)
}

func TestFrameBufferClearUnblocksProducer(t *testing.T) {
	buf := NewFrameBuffer[int](1)
	ctx := context.Background()
	require.NoError(t, buf.Put(ctx, 1))

	unblocked := make(chan error, 1)
	go func() { unblocked <- buf.Put(ctx, 2) }()

	time.Sleep(10 * time.Millisecond)
	buf.Clear()

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer stayed blocked after clear")
	}
}

func TestFrameBufferCloseWakesBlockedCallers(t *testing.T) {
	buf := NewFrameBuffer[int](1)
	ctx := context.Background()

	takeErr := make(chan error, 1)
	go func() {
		_, err := buf.Take(ctx)
		takeErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()
	buf.Close() // idempotent

	select {
	case err := <-takeErr:
		assert.ErrorIs(t, err, ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer stayed blocked after close")
	}

	assert.ErrorIs(t, buf.Put(ctx, 1), ErrBufferClosed)
}

func TestFrameBufferTakeDrainsAfterClose(t *testing.T) {
	buf := NewFrameBuffer[int](2)
	ctx := context.Background()
	require.NoError(t, buf.Put(ctx, 7))
	buf.Close()

	v, err := buf.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = buf.Take(ctx)
	assert.ErrorIs(t, err, ErrBufferClosed)
}

func TestFrameBufferTakeHonorsContext(t *testing.T) {
	buf := NewFrameBuffer[int](1)
	ctx, cancel := context.WithCancel(context.Background())

	takeErr := make(chan error, 1)
	go func() {
		_, err := buf.Take(ctx)
		takeErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-takeErr, context.Canceled)
}
