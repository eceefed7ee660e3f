package avplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"
)

// A Controller is the player's state machine. It owns at most one prepared
// media session at a time (pipeline plus buffer and playback loops), attaches
// and detaches the renderer, and exposes its state, settings, timestamps and
// events as observables.
//
// All state-mutating entry points are serialized by a single command mutex:
// exactly one command executes at a time, and asynchronous loop completions
// queue behind it like any other mutation.
type Controller struct {
	cfg      EngineConfig
	log      *slog.Logger
	metrics  *Metrics
	decoders DecoderFactory
	samplers SamplerFactory

	cmdMu sync.Mutex
	ready *session // guarded by cmdMu, nil unless StageReady

	jobMu      sync.Mutex
	currentJob context.CancelFunc

	rendererMu sync.Mutex
	renderer   Renderer

	sup       *suture.Supervisor
	supCancel context.CancelFunc

	initial  Settings
	state    *Observable[State]
	settings *Observable[Settings]
	bufferTS *Observable[time.Duration]
	playTS   *Observable[time.Duration]
	events   *eventBus

	closed atomic.Bool
}

// session is the resource bundle of one prepared media.
type session struct {
	id       uuid.UUID
	media    Media
	pipe     pipeline
	bufLoop  *bufferLoop
	playLoop *playbackLoop

	// borrowed views into the pipeline, nil when the shape lacks them
	audioDecoder Decoder
	videoDecoder Decoder
	sampler      Sampler
	pool         *BlockPool
	buffers      []*FrameBuffer[Frame]
}

func (s *session) decoders() []Decoder {
	var out []Decoder
	if s.audioDecoder != nil {
		out = append(out, s.audioDecoder)
	}
	if s.videoDecoder != nil {
		out = append(out, s.videoDecoder)
	}
	return out
}

// An Option tweaks controller construction.
type Option func(*Controller)

// WithConfig overrides the engine config. Zero fields keep their defaults.
func WithConfig(cfg EngineConfig) Option {
	return func(c *Controller) { c.cfg = cfg.withDefaults() }
}

// WithLogger sets the controller's logger instead of the package one.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.log = logger }
}

// WithMetrics wires prometheus collectors into the loops.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithInitialSettings sets the settings ResetSettings reinstates.
func WithInitialSettings(s Settings) Option {
	return func(c *Controller) { c.initial = s }
}

// NewController creates an idle controller in [StageEmpty]. The decoder
// factory is mandatory; the sampler factory may be nil only if no prepared
// media will ever carry audio.
func NewController(decoders DecoderFactory, samplers SamplerFactory, opts ...Option) (*Controller, error) {
	if decoders == nil {
		return nil, errors.New("nil decoder factory")
	}
	c := &Controller{
		cfg:      DefaultEngineConfig(),
		log:      pkgLogger,
		decoders: decoders,
		samplers: samplers,
		initial:  DefaultSettings(),
		events:   newEventBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initial.validate(c.cfg); err != nil {
		return nil, err
	}

	c.state = newObservable(State{Stage: StageEmpty})
	c.settings = newObservable(c.initial)
	c.bufferTS = newObservable(time.Duration(0))
	c.playTS = newObservable(time.Duration(0))

	// single supervisor shared by the buffer and playback scopes, so one
	// failing child never poisons its sibling
	c.sup = suture.New("avplay", suture.Spec{
		Timeout: c.cfg.StopTimeout,
		EventHook: func(e suture.Event) {
			c.log.Debug("supervisor event", "event", e.String())
		},
	})
	supCtx, cancel := context.WithCancel(context.Background())
	c.supCancel = cancel
	c.sup.ServeBackground(supCtx)
	return c, nil
}

// --- observables ---

// State returns the live controller state.
func (c *Controller) State() *Observable[State] { return c.state }

// Settings returns the live playback settings.
func (c *Controller) Settings() *Observable[Settings] { return c.settings }

// BufferTimestamp returns the live decode-ahead position. It only advances
// in [StatusPlaying] and [StatusPaused].
func (c *Controller) BufferTimestamp() *Observable[time.Duration] { return c.bufferTS }

// PlaybackTimestamp returns the live presentation position. It only advances
// in [StatusPlaying].
func (c *Controller) PlaybackTimestamp() *Observable[time.Duration] { return c.playTS }

// Events subscribes to the controller's event bus. The cancel function must
// be called to release the subscription.
func (c *Controller) Events() (<-chan PlayerEvent, func()) { return c.events.subscribe() }

// --- renderer binding ---

// AttachRenderer binds the video sink. Fails with [ErrRendererAttached] if
// one is already bound; detach it first.
func (c *Controller) AttachRenderer(r Renderer) error {
	if r == nil {
		return errors.New("nil renderer")
	}
	c.rendererMu.Lock()
	defer c.rendererMu.Unlock()
	if c.renderer != nil {
		return ErrRendererAttached
	}
	c.renderer = r
	return nil
}

// DetachRenderer unbinds and returns the current video sink, or nil if none
// is attached. The playback loop observes the change between frames.
func (c *Controller) DetachRenderer() Renderer {
	c.rendererMu.Lock()
	defer c.rendererMu.Unlock()
	prev := c.renderer
	c.renderer = nil
	return prev
}

func (c *Controller) currentRenderer() Renderer {
	c.rendererMu.Lock()
	defer c.rendererMu.Unlock()
	return c.renderer
}

// --- settings ---

// ChangeSettings validates and atomically replaces the playback settings.
// Changes take effect on subsequent frames.
func (c *Controller) ChangeSettings(s Settings) error {
	if err := s.validate(c.cfg); err != nil {
		return err
	}
	c.settings.set(s)
	return nil
}

// ResetSettings reinstates the initial settings.
func (c *Controller) ResetSettings() {
	c.settings.set(c.initial)
}

// --- command execution ---

// Execute runs one command to completion. Commands are serialized; a command
// arriving in a status it is not defined for returns nil without side
// effects. Release additionally cancels the currently executing command
// before taking its turn.
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	if c.closed.Load() {
		return ErrControllerClosed
	}
	if _, isRelease := cmd.(Release); isRelease {
		c.cancelCurrentJob()
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.closed.Load() {
		return ErrControllerClosed
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.jobMu.Lock()
	c.currentJob = cancel
	c.jobMu.Unlock()
	defer func() {
		c.jobMu.Lock()
		c.currentJob = nil
		c.jobMu.Unlock()
	}()

	switch cmd := cmd.(type) {
	case Prepare:
		return c.prepare(jobCtx, cmd)
	case Play:
		return c.play(jobCtx)
	case Pause:
		return c.pause(jobCtx)
	case Resume:
		return c.resume(jobCtx)
	case Stop:
		return c.stopPlayback(jobCtx)
	case SeekTo:
		return c.seekTo(jobCtx, cmd)
	case Release:
		return c.releaseLocked(jobCtx)
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

// Close releases the current session (if any) and shuts the supervisor down.
// The controller becomes unusable. Idempotent.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancelCurrentJob()
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	err := c.releaseLocked(context.Background())
	c.supCancel()
	return err
}

func (c *Controller) cancelCurrentJob() {
	c.jobMu.Lock()
	cancel := c.currentJob
	c.jobMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// --- state helpers ---

func (c *Controller) status() Status {
	return c.state.Get().Status
}

func (c *Controller) setStatus(st Status) {
	cur := c.state.Get()
	cur.Status = st
	c.state.set(cur)
}

// sessionStatus returns the status if sess is still the live session.
func (c *Controller) sessionStatus(sess *session) (Status, bool) {
	st := c.state.Get()
	if st.Stage != StageReady || st.Session != sess.id {
		return 0, false
	}
	return st.Status, true
}

// --- prepare ---

func (c *Controller) prepare(ctx context.Context, cmd Prepare) (err error) {
	if c.state.Get().Stage != StageEmpty {
		return nil
	}
	c.state.set(State{Stage: StagePreparing})
	defer func() {
		if err != nil {
			c.state.set(State{Stage: StageEmpty})
		}
	}()

	media, err := c.decoders.Probe(ctx, cmd.Location, true, true)
	if err != nil {
		return fmt.Errorf("probing %s: %w", cmd.Location, err)
	}
	if !media.HasAudio() && !media.HasVideo() {
		return fmt.Errorf("media %s has no decodable streams", cmd.Location)
	}
	if media.HasAudio() && cmd.AudioBufferSize < 1 {
		return fmt.Errorf("media has audio but audio buffer size is %d", cmd.AudioBufferSize)
	}
	if media.HasVideo() && cmd.VideoBufferSize < 1 {
		return fmt.Errorf("media has video but video buffer size is %d", cmd.VideoBufferSize)
	}
	if media.HasAudio() && c.samplers == nil {
		return errors.New("media has audio but no sampler factory is configured")
	}

	// every constructed resource registers a closer; any later failure
	// unwinds them in reverse so a failed Prepare leaks nothing
	var closers []func() error
	fail := func(cause error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return cause
	}

	sess := &session{id: uuid.New(), media: media}

	switch {
	case media.HasAudio() && media.HasVideo():
		audioDec, err := c.decoders.Open(ctx, media, true, false, cmd.HardwareAccelerationCandidates)
		if err != nil {
			return fail(fmt.Errorf("opening audio decoder: %w", err))
		}
		closers = append(closers, audioDec.Close)

		videoDec, err := c.decoders.Open(ctx, media, false, true, cmd.HardwareAccelerationCandidates)
		if err != nil {
			return fail(fmt.Errorf("opening video decoder: %w", err))
		}
		closers = append(closers, videoDec.Close)

		audioBuf := NewFrameBuffer[Frame](cmd.AudioBufferSize)
		closers = append(closers, func() error { audioBuf.Close(); return nil })
		videoBuf := NewFrameBuffer[Frame](cmd.VideoBufferSize)
		closers = append(closers, func() error { videoBuf.Close(); return nil })
		pool := NewBlockPool(media.Video.BufferCapacity, cmd.VideoBufferSize)
		closers = append(closers, func() error { pool.Close(); return nil })

		smp, err := c.samplers(*media.Audio)
		if err != nil {
			return fail(fmt.Errorf("creating sampler: %w", err))
		}

		sess.pipe = &audioVideoPipeline{
			audioDecoder: audioDec, videoDecoder: videoDec,
			audioBuffer: audioBuf, videoBuffer: videoBuf,
			videoPool: pool, sampler: smp,
		}
		sess.audioDecoder, sess.videoDecoder = audioDec, videoDec
		sess.sampler, sess.pool = smp, pool
		sess.buffers = []*FrameBuffer[Frame]{audioBuf, videoBuf}

	case media.HasAudio():
		dec, err := c.decoders.Open(ctx, media, true, false, cmd.HardwareAccelerationCandidates)
		if err != nil {
			return fail(fmt.Errorf("opening audio decoder: %w", err))
		}
		closers = append(closers, dec.Close)

		buf := NewFrameBuffer[Frame](cmd.AudioBufferSize)
		closers = append(closers, func() error { buf.Close(); return nil })

		smp, err := c.samplers(*media.Audio)
		if err != nil {
			return fail(fmt.Errorf("creating sampler: %w", err))
		}

		sess.pipe = &audioPipeline{decoder: dec, buffer: buf, sampler: smp}
		sess.audioDecoder = dec
		sess.sampler = smp
		sess.buffers = []*FrameBuffer[Frame]{buf}

	default: // video only
		dec, err := c.decoders.Open(ctx, media, false, true, cmd.HardwareAccelerationCandidates)
		if err != nil {
			return fail(fmt.Errorf("opening video decoder: %w", err))
		}
		closers = append(closers, dec.Close)

		buf := NewFrameBuffer[Frame](cmd.VideoBufferSize)
		closers = append(closers, func() error { buf.Close(); return nil })
		pool := NewBlockPool(media.Video.BufferCapacity, cmd.VideoBufferSize)
		closers = append(closers, func() error { pool.Close(); return nil })

		sess.pipe = &videoPipeline{decoder: dec, pool: pool, buffer: buf}
		sess.videoDecoder = dec
		sess.pool = pool
		sess.buffers = []*FrameBuffer[Frame]{buf}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	sess.bufLoop = newBufferLoop(c.sup, sess.pipe, c.metrics)
	sess.playLoop = newPlaybackLoop(c.sup, sess.pipe, c.cfg, c.metrics)

	c.ready = sess
	mediaCopy := media
	c.state.set(State{Stage: StageReady, Status: StatusStopped, Media: &mediaCopy, Session: sess.id})
	c.events.publish(EventMediaPrepared{Session: sess.id, Media: media})
	c.log.Debug("media prepared", "session", sess.id, "location", media.Location,
		"duration", media.Duration, "audio", media.HasAudio(), "video", media.HasVideo())
	return nil
}

// --- playback transitions ---

func (c *Controller) play(ctx context.Context) error {
	sess := c.ready
	if sess == nil || c.status() != StatusStopped || !sess.media.Continuous() {
		return nil
	}
	c.setStatus(StatusTransition)

	// playback loop first: the buffer loop must never run ahead of a
	// consumer that hasn't started yet
	if sess.sampler != nil {
		if err := sess.sampler.Start(ctx); err != nil {
			c.setStatus(StatusStopped)
			return err
		}
	}
	if err := sess.playLoop.start(c.playbackInputs(sess)); err != nil {
		c.setStatus(StatusStopped)
		return err
	}
	if err := sess.bufLoop.start(c.bufferCallbacks(sess)); err != nil {
		sess.playLoop.stop()
		c.setStatus(StatusStopped)
		return err
	}
	c.setStatus(StatusPlaying)
	c.log.Debug("playing", "session", sess.id)
	return nil
}

func (c *Controller) pause(ctx context.Context) error {
	sess := c.ready
	if sess == nil || c.status() != StatusPlaying {
		return nil
	}
	c.setStatus(StatusTransition)

	sess.playLoop.stop()
	if sess.sampler != nil {
		if err := sess.sampler.Stop(ctx); err != nil {
			c.setStatus(StatusPaused)
			return err
		}
	}
	// the buffer loop keeps decoding ahead while paused
	c.setStatus(StatusPaused)
	c.log.Debug("paused", "session", sess.id)
	return nil
}

func (c *Controller) resume(ctx context.Context) error {
	sess := c.ready
	if sess == nil || c.status() != StatusPaused {
		return nil
	}
	c.setStatus(StatusTransition)

	if sess.sampler != nil {
		if err := sess.sampler.Start(ctx); err != nil {
			c.setStatus(StatusPaused)
			return err
		}
	}
	if err := sess.playLoop.start(c.playbackInputs(sess)); err != nil {
		c.setStatus(StatusPaused)
		return err
	}
	c.setStatus(StatusPlaying)
	c.log.Debug("resumed", "session", sess.id)
	return nil
}

func (c *Controller) stopPlayback(ctx context.Context) error {
	sess := c.ready
	if sess == nil {
		return nil
	}
	switch c.status() {
	case StatusPlaying, StatusPaused, StatusCompleted, StatusSeeking:
	default:
		return nil
	}
	c.setStatus(StatusTransition)

	sess.playLoop.stop()
	sess.bufLoop.stop()
	err := c.flushAndReset(ctx, sess)

	c.bufferTS.set(0)
	c.playTS.set(0)
	c.setStatus(StatusStopped)
	c.log.Debug("stopped", "session", sess.id)
	return err
}

// flushAndReset quiesces the pipeline after the loops have been stopped:
// sampler flushed, buffers cleared, pool reset, decoders rewound. Sampler and
// decoder work fans out in parallel.
func (c *Controller) flushAndReset(ctx context.Context, sess *session) error {
	g, gctx := errgroup.WithContext(ctx)
	if sess.sampler != nil {
		g.Go(func() error {
			if err := sess.sampler.Flush(gctx); err != nil {
				return err
			}
			return sess.sampler.Stop(gctx)
		})
	}
	for _, dec := range sess.decoders() {
		dec := dec
		g.Go(func() error { return dec.Reset(gctx) })
	}
	err := g.Wait()

	for _, buf := range sess.buffers {
		buf.Clear()
	}
	if sess.pool != nil {
		sess.pool.Reset()
	}
	return err
}

func (c *Controller) seekTo(ctx context.Context, cmd SeekTo) error {
	sess := c.ready
	if sess == nil || !sess.media.Continuous() {
		return nil
	}
	switch c.status() {
	case StatusPlaying, StatusPaused, StatusStopped, StatusCompleted, StatusSeeking:
	default:
		return nil
	}
	c.setStatus(StatusTransition)

	sess.playLoop.stop()
	sess.bufLoop.stop()

	position := max(min(cmd.Position, sess.media.Duration), 0)

	if sess.sampler != nil {
		if err := sess.sampler.Flush(ctx); err != nil {
			c.setStatus(StatusStopped)
			return err
		}
		if err := sess.sampler.Stop(ctx); err != nil {
			c.setStatus(StatusStopped)
			return err
		}
	}
	for _, buf := range sess.buffers {
		buf.Clear()
	}
	if sess.pool != nil {
		sess.pool.Reset()
	}

	c.setStatus(StatusSeeking)

	// for audio+video the two decoders seek in parallel and the session
	// adopts the later of the two landing points
	var audioTs, videoTs time.Duration
	g, gctx := errgroup.WithContext(ctx)
	if sess.audioDecoder != nil {
		g.Go(func() error {
			var err error
			audioTs, err = sess.audioDecoder.SeekTo(gctx, position, cmd.KeyframesOnly)
			return err
		})
	}
	if sess.videoDecoder != nil {
		g.Go(func() error {
			var err error
			videoTs, err = sess.videoDecoder.SeekTo(gctx, position, cmd.KeyframesOnly)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.setStatus(StatusStopped)
		return err
	}
	actual := max(audioTs, videoTs)

	if err := sess.bufLoop.start(c.bufferCallbacks(sess)); err != nil {
		c.setStatus(StatusStopped)
		return err
	}

	// forced regardless of status gating
	c.bufferTS.set(actual)
	c.playTS.set(actual)
	c.metrics.seeked()
	c.events.publish(EventSeeked{Session: sess.id, Position: actual})
	c.setStatus(StatusPaused)
	c.log.Debug("seeked", "session", sess.id, "requested", position, "actual", actual)
	return nil
}

// releaseLocked is the single place where a session's pipeline is destroyed.
// Requires cmdMu. No-op when already Empty.
func (c *Controller) releaseLocked(context.Context) error {
	sess := c.ready
	if sess == nil {
		if c.state.Get().Stage != StageEmpty {
			c.state.set(State{Stage: StageEmpty})
		}
		return nil
	}
	c.setStatus(StatusReleasing)

	sess.playLoop.stop()
	sess.bufLoop.stop()
	err := sess.pipe.close()

	c.ready = nil
	c.bufferTS.set(0)
	c.playTS.set(0)
	c.state.set(State{Stage: StageEmpty})
	c.events.publish(EventReleased{Session: sess.id})
	c.log.Debug("released", "session", sess.id)
	return err
}

// --- loop callbacks ---

func (c *Controller) bufferCallbacks(sess *session) (func(error), func(time.Duration), func()) {
	onException := func(err error) { c.handleLoopFailure(sess, err) }
	onTimestamp := func(ts time.Duration) {
		if st, ok := c.sessionStatus(sess); ok && (st == StatusPlaying || st == StatusPaused) {
			c.bufferTS.set(ts)
		}
	}
	onEndOfMedia := func() {
		c.events.publish(EventBufferComplete{Session: sess.id})
	}
	return onException, onTimestamp, onEndOfMedia
}

func (c *Controller) playbackInputs(sess *session) playbackInputs {
	return playbackInputs{
		onException: func(err error) { c.handleLoopFailure(sess, err) },
		onTimestamp: func(ts time.Duration) {
			if st, ok := c.sessionStatus(sess); ok && st == StatusPlaying {
				c.playTS.set(ts)
			}
		},
		// a fresh goroutine: the loop's own task must not block on the
		// command mutex or it could deadlock against stop()
		onEndOfMedia: func() { go c.handlePlaybackComplete(sess) },
		gain:         func() float64 { return c.settings.Get().EffectiveGain() },
		speed:        func() float64 { return c.settings.Get().PlaybackSpeedFactor },
		renderer:     c.currentRenderer,
	}
}

func (c *Controller) handlePlaybackComplete(sess *session) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.ready != sess {
		return
	}
	if st, ok := c.sessionStatus(sess); !ok || st != StatusPlaying {
		return
	}
	if sess.sampler != nil {
		_ = sess.sampler.Stop(context.Background())
	}
	c.playTS.set(sess.media.Duration)
	c.setStatus(StatusCompleted)
	c.log.Debug("playback completed", "session", sess.id)
}

// handleLoopFailure publishes the error and auto-releases the session. Runs
// on a fresh goroutine spawned by the failing loop.
func (c *Controller) handleLoopFailure(sess *session, err error) {
	c.events.publish(EventError{Session: sess.id, Err: err})

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.ready != sess {
		return
	}
	c.log.Warn("loop failure, releasing session", "session", sess.id, "error", err)
	_ = c.releaseLocked(context.Background())
}
