package avplay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// A PlayerEvent is published on the controller's event bus. Subscribers get
// [EventError] for loop failures, [EventBufferComplete] when a buffer loop
// run drains its decoders, and informational events about session
// transitions.
type PlayerEvent interface {
	isPlayerEvent()
}

// EventError reports an asynchronous loop failure. After publishing it the
// controller auto-releases back to [StageEmpty].
type EventError struct {
	Session uuid.UUID
	Err     error
}

// EventBufferComplete signals that the buffer loop decoded everything up to
// end-of-stream. It fires once per buffer-loop run, so a seek (which restarts
// the loop) may cause it to refire.
type EventBufferComplete struct {
	Session uuid.UUID
}

// EventMediaPrepared signals a successful Prepare.
type EventMediaPrepared struct {
	Session uuid.UUID
	Media   Media
}

// EventSeeked signals a completed SeekTo with the timestamp the decoders
// actually landed on.
type EventSeeked struct {
	Session  uuid.UUID
	Position time.Duration
}

// EventReleased signals that a session's resources have been torn down.
type EventReleased struct {
	Session uuid.UUID
}

func (EventError) isPlayerEvent()          {}
func (EventBufferComplete) isPlayerEvent() {}
func (EventMediaPrepared) isPlayerEvent()  {}
func (EventSeeked) isPlayerEvent()         {}
func (EventReleased) isPlayerEvent()       {}

// eventBusBuffer is the per-subscriber queue depth. When a subscriber lags
// past it, its oldest events are dropped rather than blocking the engine.
const eventBusBuffer = 16

type eventBus struct {
	mu   sync.Mutex
	subs map[chan PlayerEvent]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan PlayerEvent]struct{})}
}

func (b *eventBus) subscribe() (<-chan PlayerEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan PlayerEvent, eventBusBuffer)
	b.subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, ch)
	}
	return ch, cancel
}

func (b *eventBus) publish(event PlayerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
	send:
		for {
			select {
			case ch <- event:
				break send
			default:
				// full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
			}
		}
	}
}
