package avplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"
)

// loopService adapts a plain run function to a suture service. Loops always
// return [suture.ErrDoNotRestart]: failures are surfaced through callbacks
// and handled by the controller, never by restarting a half-torn-down loop.
type loopService struct {
	name string
	run  func(ctx context.Context) error
}

func (s loopService) Serve(ctx context.Context) error { return s.run(ctx) }
func (s loopService) String() string                  { return s.name }

// coalescedReporter merges the timestamps of the audio and video buffering
// tasks into one strictly increasing sequence.
type coalescedReporter struct {
	mu      sync.Mutex
	started bool
	last    time.Duration
	report  func(time.Duration)
}

func (r *coalescedReporter) offer(ts time.Duration) {
	r.mu.Lock()
	if r.started && ts <= r.last {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.last = ts
	r.mu.Unlock()
	r.report(ts)
}

// The bufferLoop drives the pipeline's decoder(s) and fills its bounded
// buffer(s) until end-of-stream, failure or cancellation.
type bufferLoop struct {
	sup     *suture.Supervisor
	pipe    pipeline
	metrics *Metrics

	mu        sync.Mutex
	running   bool
	token     suture.ServiceToken
	buffering atomic.Bool
}

func newBufferLoop(sup *suture.Supervisor, pipe pipeline, metrics *Metrics) *bufferLoop {
	return &bufferLoop{sup: sup, pipe: pipe, metrics: metrics}
}

func (l *bufferLoop) isBuffering() bool { return l.buffering.Load() }

// start launches the loop under the shared supervisor. Fails with
// [ErrLoopRunning] if the loop is already buffering. Errors are delivered via
// onException on a fresh goroutine; onEndOfMedia fires after every relevant
// stream reached end-of-stream.
func (l *bufferLoop) start(onException func(error), onTimestamp func(time.Duration), onEndOfMedia func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrLoopRunning
	}
	l.running = true
	l.buffering.Store(true)

	l.token = l.sup.Add(loopService{name: "buffer-loop", run: func(ctx context.Context) error {
		err := l.run(ctx, onTimestamp)

		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		l.buffering.Store(false)

		switch {
		case err == nil:
			onEndOfMedia()
		case errors.Is(err, context.Canceled):
			// cancellation unwinds cleanly, not an error
		default:
			go onException(&BufferLoopError{Err: err})
		}
		return suture.ErrDoNotRestart
	}})
	return nil
}

// stop cancels the running work and blocks until it has terminated.
func (l *bufferLoop) stop() {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	_ = l.sup.RemoveAndWait(token, 0)
}

// close cancels without blocking. Idempotent.
func (l *bufferLoop) close() {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	_ = l.sup.Remove(token)
}

func (l *bufferLoop) run(ctx context.Context, onTimestamp func(time.Duration)) error {
	switch p := l.pipe.(type) {
	case *audioPipeline:
		return l.runAudio(ctx, p.decoder, p.buffer, onTimestamp)
	case *videoPipeline:
		return l.runVideo(ctx, p.decoder, p.pool, p.buffer, onTimestamp)
	case *audioVideoPipeline:
		// two cooperating tasks sharing one monotonic timestamp reporter;
		// end-of-media requires both streams to finish
		rep := &coalescedReporter{report: onTimestamp}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return l.runAudio(gctx, p.audioDecoder, p.audioBuffer, rep.offer) })
		g.Go(func() error { return l.runVideo(gctx, p.videoDecoder, p.videoPool, p.videoBuffer, rep.offer) })
		return g.Wait()
	default:
		return fmt.Errorf("unknown pipeline shape %T", l.pipe)
	}
}

func (l *bufferLoop) runAudio(ctx context.Context, dec Decoder, buf *FrameBuffer[Frame], report func(time.Duration)) error {
	for {
		frame, err := dec.DecodeAudio(ctx)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case AudioFrame:
			if err := buf.Put(ctx, f); err != nil {
				return err
			}
			l.metrics.frameDecoded("audio")
			l.metrics.bufferDepth("audio", buf.Len())
			// explicit yield between put and report so cancellation is
			// observed even when the decoder never blocks
			if err := ctx.Err(); err != nil {
				return err
			}
			report(f.Timestamp)
		case EndOfStream:
			return buf.Put(ctx, frame)
		default:
			return fmt.Errorf("decoder returned unexpected audio frame %T", frame)
		}
	}
}

func (l *bufferLoop) runVideo(ctx context.Context, dec Decoder, pool *BlockPool, buf *FrameBuffer[Frame], report func(time.Duration)) error {
	for {
		block, err := pool.Acquire(ctx)
		if err != nil {
			return err
		}
		l.metrics.poolFree(pool.FreeBlocks())

		frame, err := dec.DecodeVideo(ctx, block)
		if err != nil {
			_ = pool.Release(block)
			return err
		}
		switch f := frame.(type) {
		case VideoFrame:
			if err := buf.Put(ctx, f); err != nil {
				_ = pool.Release(block)
				return err
			}
			l.metrics.frameDecoded("video")
			l.metrics.bufferDepth("video", buf.Len())
			if err := ctx.Err(); err != nil {
				return err
			}
			report(f.Timestamp)
		case EndOfStream:
			_ = pool.Release(block)
			return buf.Put(ctx, frame)
		default:
			_ = pool.Release(block)
			return fmt.Errorf("decoder returned unexpected video frame %T", frame)
		}
	}
}
