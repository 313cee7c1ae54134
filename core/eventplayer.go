package orchestration

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
)

const defaultEventQueueCapacity = 256

// eventPlayer owns the inbound queue of the engine. Items are consumed by a
// single loop goroutine; anything still queued when the player stops is
// drained by teardown.
type eventPlayer struct {
	queue   chan eventQueueItem
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	doneOnce  sync.Once

	started atomic.Bool
}

type eventQueueItem struct {
	// raw is a protocol message still to be normalized; event is used when
	// raw is nil.
	raw      []byte
	event    events.Event
	queuedAt time.Time
}

func newEventPlayer(capacity int) *eventPlayer {
	if capacity <= 0 {
		capacity = defaultEventQueueCapacity
	}

	return &eventPlayer{
		queue:   make(chan eventQueueItem, capacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *eventPlayer) CanIngest() bool {
	if p == nil {
		return false
	}

	select {
	case <-p.closeCh:
		return false
	default:
		return true
	}
}

// Start reports whether this call started the player. A player starts at most
// once and never after Stop.
func (p *eventPlayer) Start() (started bool) {
	if p == nil || !p.CanIngest() {
		return false
	}

	p.startOnce.Do(func() {
		if !p.CanIngest() {
			return
		}
		started = true
		p.started.Store(true)
	})

	return started
}

func (p *eventPlayer) Stop() {
	if p == nil {
		return
	}

	p.endOnce.Do(func() { close(p.closeCh) })
}

// Finish marks the loop as done.
func (p *eventPlayer) Finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *eventPlayer) Ingest(item eventQueueItem) bool {
	if p == nil || !p.CanIngest() {
		return false
	}

	item.queuedAt = time.Now()
	select {
	case <-p.closeCh:
		return false
	case p.queue <- item:
		return true
	}
}

// Drain hands every item still queued to handle without blocking.
func (p *eventPlayer) Drain(handle func(eventQueueItem)) {
	for {
		select {
		case item := <-p.queue:
			handle(item)
		default:
			return
		}
	}
}
