package pipeline

import (
	"context"
	"sync"

	"voice-relay-service/internal/models"
)

// outbox buffers one turn's events until the sequencer reaches that turn.
// It is unbounded so a turn never blocks on emission while an earlier turn
// is still streaming.
type outbox struct {
	ctx    context.Context
	mu     sync.Mutex
	events []models.PipelineEvent
	closed bool
	ready  chan struct{}
}

func newOutbox(ctx context.Context) *outbox {
	return &outbox{ctx: ctx, ready: make(chan struct{}, 1)}
}

// emit appends ev. It is a no-op once the outbox is closed or the session
// context is done, and reports whether the event was kept.
func (o *outbox) emit(ev models.PipelineEvent) bool {
	if o.ctx.Err() != nil {
		return false
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.events = append(o.events, ev)
	o.mu.Unlock()
	o.signal()
	return true
}

// close marks the end of the turn's events.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// next blocks until an event is available. ok is false once the outbox is
// closed and drained, or ctx is done.
func (o *outbox) next(ctx context.Context) (ev models.PipelineEvent, ok bool) {
	for {
		o.mu.Lock()
		if len(o.events) > 0 {
			ev = o.events[0]
			o.events[0] = models.PipelineEvent{}
			o.events = o.events[1:]
			o.mu.Unlock()
			return ev, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return ev, false
		}

		select {
		case <-o.ready:
		case <-ctx.Done():
			return ev, false
		}
	}
}
