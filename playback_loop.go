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

// playbackInputs are the live accessors handed to the playback loop at start
// time. gain, speed and renderer are sampled between frames, so settings
// changes and renderer swaps take effect without restarting the loop.
type playbackInputs struct {
	onException  func(error)
	onTimestamp  func(time.Duration)
	onEndOfMedia func()
	gain         func() float64
	speed        func() float64
	renderer     func() Renderer
}

// avClock is the master clock of audio+video playback: it tracks the last
// audio timestamp written to the sampler. When the audio stream ends before
// the video one, the clock keeps advancing on wall time so trailing video
// frames still get paced.
type avClock struct {
	ts    atomic.Int64 // last written audio timestamp
	ended atomic.Int64 // wall nanos at audio end-of-stream, 0 while running
}

func (c *avClock) advance(ts time.Duration) { c.ts.Store(int64(ts)) }
func (c *avClock) markEnded()               { c.ended.Store(time.Now().UnixNano()) }

func (c *avClock) now() time.Duration {
	ts := time.Duration(c.ts.Load())
	if e := c.ended.Load(); e != 0 {
		ts += time.Duration(time.Now().UnixNano() - e)
	}
	return ts
}

// maxSyncWait bounds a single early-frame wait so the video task re-reads the
// audio clock (and observes cancellation) at a reasonable rate.
const maxSyncWait = 20 * time.Millisecond

// The playbackLoop drains the pipeline's buffer(s) in wall-clock order,
// handing audio to the sampler and video to the currently attached renderer.
type playbackLoop struct {
	sup     *suture.Supervisor
	pipe    pipeline
	cfg     EngineConfig
	metrics *Metrics

	mu      sync.Mutex
	running bool
	token   suture.ServiceToken
}

func newPlaybackLoop(sup *suture.Supervisor, pipe pipeline, cfg EngineConfig, metrics *Metrics) *playbackLoop {
	return &playbackLoop{sup: sup, pipe: pipe, cfg: cfg, metrics: metrics}
}

func (l *playbackLoop) start(in playbackInputs) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrLoopRunning
	}
	l.running = true

	l.token = l.sup.Add(loopService{name: "playback-loop", run: func(ctx context.Context) error {
		err := l.run(ctx, in)

		l.mu.Lock()
		l.running = false
		l.mu.Unlock()

		switch {
		case err == nil:
			in.onEndOfMedia()
		case errors.Is(err, context.Canceled):
			// cancellation unwinds cleanly, not an error
		default:
			go in.onException(&PlaybackLoopError{Err: err})
		}
		return suture.ErrDoNotRestart
	}})
	return nil
}

// stop cancels the loop and blocks until in-flight pooled blocks have been
// returned and the loop has terminated.
func (l *playbackLoop) stop() {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	_ = l.sup.RemoveAndWait(token, 0)
}

// close cancels without blocking. Idempotent.
func (l *playbackLoop) close() {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()
	_ = l.sup.Remove(token)
}

func (l *playbackLoop) run(ctx context.Context, in playbackInputs) error {
	switch p := l.pipe.(type) {
	case *audioPipeline:
		return l.runAudio(ctx, p.buffer, p.sampler, in, nil)
	case *videoPipeline:
		return l.runVideoWallClock(ctx, p.buffer, p.pool, in)
	case *audioVideoPipeline:
		// audio drives the master clock; the video task compares against it
		clock := &avClock{}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return l.runAudio(gctx, p.audioBuffer, p.sampler, in, clock) })
		g.Go(func() error { return l.runVideoSynced(gctx, p.videoBuffer, p.videoPool, in, clock) })
		return g.Wait()
	default:
		return fmt.Errorf("unknown pipeline shape %T", l.pipe)
	}
}

// runAudio serves both the audio-only loop and the audio task of the A/V
// loop. The sampler's own blocking write paces consumption; timestamps are
// reported at most once per AudioReportInterval of media time.
func (l *playbackLoop) runAudio(ctx context.Context, buf *FrameBuffer[Frame], sampler Sampler, in playbackInputs, clock *avClock) error {
	var lastReport time.Duration
	var reported bool
	for {
		frame, err := buf.Take(ctx)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case AudioFrame:
			if err := sampler.Write(ctx, f, in.gain(), in.speed()); err != nil {
				return err
			}
			if clock != nil {
				clock.advance(f.Timestamp)
			}
			l.metrics.bufferDepth("audio", buf.Len())
			if !reported || f.Timestamp-lastReport >= l.cfg.AudioReportInterval {
				reported = true
				lastReport = f.Timestamp
				in.onTimestamp(f.Timestamp)
			}
		case EndOfStream:
			if clock != nil {
				clock.markEnded()
			}
			return nil
		default:
			return fmt.Errorf("unexpected frame %T in audio buffer", frame)
		}
	}
}

// runVideoWallClock paces video-only playback: each frame's presentation time
// is computed from its timestamp and the speed factor, anchored at the first
// frame taken.
func (l *playbackLoop) runVideoWallClock(ctx context.Context, buf *FrameBuffer[Frame], pool *BlockPool, in playbackInputs) error {
	var anchored bool
	var base time.Duration
	var startWall time.Time
	for {
		frame, err := buf.Take(ctx)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case VideoFrame:
			if !anchored {
				anchored = true
				base = f.Timestamp
				startWall = time.Now()
			}
			target := time.Duration(float64(f.Timestamp-base) / in.speed())
			if wait := target - time.Since(startWall); wait > 0 {
				if err := sleepCtx(ctx, wait); err != nil {
					_ = pool.Release(f.Data)
					return err
				}
			}
			if err := l.present(f, in); err != nil {
				_ = pool.Release(f.Data)
				return err
			}
			_ = pool.Release(f.Data)
			l.metrics.poolFree(pool.FreeBlocks())
			in.onTimestamp(f.Timestamp)
		case EndOfStream:
			return nil
		default:
			return fmt.Errorf("unexpected frame %T in video buffer", frame)
		}
	}
}

// runVideoSynced is the video task of the A/V loop: late frames (beyond
// SyncLateThreshold) are dropped back into the pool, early frames wait in
// bounded, cancellable sleeps.
func (l *playbackLoop) runVideoSynced(ctx context.Context, buf *FrameBuffer[Frame], pool *BlockPool, in playbackInputs, clock *avClock) error {
	for {
		frame, err := buf.Take(ctx)
		if err != nil {
			return err
		}
		switch f := frame.(type) {
		case VideoFrame:
			if err := l.syncAndPresent(ctx, f, pool, in, clock); err != nil {
				return err
			}
			l.metrics.bufferDepth("video", buf.Len())
		case EndOfStream:
			return nil
		default:
			return fmt.Errorf("unexpected frame %T in video buffer", frame)
		}
	}
}

func (l *playbackLoop) syncAndPresent(ctx context.Context, f VideoFrame, pool *BlockPool, in playbackInputs, clock *avClock) error {
	for {
		diff := f.Timestamp - clock.now()
		if diff < -l.cfg.SyncLateThreshold {
			_ = pool.Release(f.Data)
			l.metrics.frameDropped()
			l.metrics.poolFree(pool.FreeBlocks())
			return nil
		}
		if diff > l.cfg.SyncEarlyThreshold {
			wait := min(diff, maxSyncWait)
			if err := sleepCtx(ctx, wait); err != nil {
				_ = pool.Release(f.Data)
				return err
			}
			continue
		}
		err := l.present(f, in)
		_ = pool.Release(f.Data)
		l.metrics.poolFree(pool.FreeBlocks())
		return err
	}
}

// present hands the frame to the currently attached renderer, if any. A
// detached renderer is not an error: the frame is simply skipped.
func (l *playbackLoop) present(f VideoFrame, in playbackInputs) error {
	r := in.renderer()
	if r == nil {
		return nil
	}
	return r.Present(f)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
