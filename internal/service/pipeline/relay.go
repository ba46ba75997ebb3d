package pipeline

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/metrics"
)

// Conn is the write side of a WebSocket connection. *websocket.Conn
// satisfies it.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// relay moves events from per-turn outboxes to the connection.
//
// The sequencer drains outboxes in turn order, stamps each event with the
// next session sequence number and routes it to the text or audio queue.
// The multiplexer writes whichever queue head carries the next expected
// sequence number, so the client sees events in stamp order.
type relay struct {
	conn         Conn
	turns        chan *outbox
	text         chan models.PipelineEvent
	audio        chan models.PipelineEvent
	writeTimeout time.Duration
	pingInterval time.Duration
	onBroken     func(error)
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

func newRelay(conn Conn, cfg Config, m *metrics.Metrics, log zerolog.Logger, onBroken func(error)) *relay {
	return &relay{
		conn:         conn,
		turns:        make(chan *outbox, cfg.PendingUtterances+1),
		text:         make(chan models.PipelineEvent, cfg.RelayQueueSize),
		audio:        make(chan models.PipelineEvent, cfg.RelayQueueSize),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		onBroken:     onBroken,
		metrics:      m,
		log:          log,
	}
}

// enqueue registers a turn's outbox; turns are relayed in enqueue order.
func (r *relay) enqueue(ctx context.Context, ob *outbox) bool {
	select {
	case r.turns <- ob:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *relay) sequence(ctx context.Context) {
	var seq uint64
	for {
		var ob *outbox
		select {
		case ob = <-r.turns:
		case <-ctx.Done():
			return
		}

		for {
			ev, ok := ob.next(ctx)
			if !ok {
				break
			}
			seq++
			ev.Seq = seq

			q := r.text
			if ev.IsAudio() {
				q = r.audio
			}
			select {
			case q <- ev:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (r *relay) multiplex(ctx context.Context) {
	var ping <-chan time.Time
	if r.pingInterval > 0 {
		ticker := time.NewTicker(r.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	next := uint64(1)
	var textHead, audioHead *models.PipelineEvent

	for {
		switch {
		case textHead != nil && textHead.Seq == next:
			if !r.write(*textHead) {
				return
			}
			textHead = nil
			next++
			continue
		case audioHead != nil && audioHead.Seq == next:
			if !r.write(*audioHead) {
				return
			}
			audioHead = nil
			next++
			continue
		}

		// Only receive into an empty head slot; the next expected event is
		// at the front of whichever queue is not already holding a later one.
		var text, audio <-chan models.PipelineEvent
		if textHead == nil {
			text = r.text
		}
		if audioHead == nil {
			audio = r.audio
		}

		select {
		case ev := <-text:
			textHead = &ev
		case ev := <-audio:
			audioHead = &ev
		case <-ping:
			if err := r.conn.WriteControl(websocket.PingMessage, nil, r.deadline()); err != nil {
				r.broken(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *relay) write(ev models.PipelineEvent) bool {
	data, err := ev.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("turnId", ev.TurnID).Msg("Failed to encode event, skipping")
		return true
	}

	if err := r.conn.SetWriteDeadline(r.deadline()); err != nil {
		r.broken(err)
		return false
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.broken(err)
		return false
	}

	r.metrics.RecordRelayEvent(ev.Kind.String())
	r.log.Trace().
		Str("turnId", ev.TurnID).
		Uint64("seq", ev.Seq).
		Str("kind", ev.Kind.String()).
		Msg("Event relayed")
	return true
}

func (r *relay) deadline() time.Time {
	if r.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(r.writeTimeout)
}

func (r *relay) broken(err error) {
	r.metrics.RecordRelayWriteError()
	r.log.Debug().Err(err).Msg("Transport closed, stopping relay")
	if r.onBroken != nil {
		r.onBroken(err)
	}
}
