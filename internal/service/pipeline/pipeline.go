// Package pipeline runs the per-session conversation turns: transcription,
// conversation, sentence-by-sentence synthesis and the ordered relay of
// their events to the client.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"voice-relay-service/internal/events"
	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
	"voice-relay-service/internal/observability/metrics"
	"voice-relay-service/internal/service/conversation"
	"voice-relay-service/internal/service/llm"
	"voice-relay-service/internal/service/segment"
	"voice-relay-service/internal/service/stt"
	"voice-relay-service/internal/service/tts"
)

// Messages sent to the client.
const (
	NotCaughtMessage   = "I didn't catch that."
	RecognitionFailed  = "Could not transcribe audio."
	ConversationFailed = "LLM request failed."
	SynthesisFailed    = "Speech synthesis failed."
)

const (
	stageRecognition  = "recognition"
	stageConversation = "conversation"
	stageSynthesis    = "synthesis"

	outcomeCompleted = "completed"
	outcomeEmpty     = "empty"
	outcomeFailed    = "failed"
	outcomeCanceled  = "canceled"
)

// ErrClosed is returned by Submit after the session has ended.
var ErrClosed = errors.New("pipeline closed")

// Config holds per-session settings.
type Config struct {
	SessionID         string
	PendingUtterances int
	RelayQueueSize    int
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	DrainTimeout      time.Duration

	RecognitionTimeout  time.Duration
	ConversationTimeout time.Duration
	SynthesisTimeout    time.Duration
}

// Adapters are the shared, stateless collaborators used by every session.
type Adapters struct {
	Recognizer   stt.Recognizer
	Conversation llm.Conversation
	Synthesizer  tts.Synthesizer
	Bus          events.Bus
}

// Pipeline owns one session's history and outbound ordering.
type Pipeline struct {
	cfg      Config
	adapters Adapters
	history  *conversation.History
	relay    *relay
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// base outlives the session; adapter calls run on it so a client
	// leaving does not abort work already started.
	base   context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc

	requests  chan request
	loops     sync.WaitGroup
	tasks     sync.WaitGroup
	inFlight  atomic.Int64
	closeOnce sync.Once
}

// New starts a pipeline writing to conn. base is the process lifetime
// context.
func New(base context.Context, conn Conn, adapters Adapters, cfg Config) *Pipeline {
	if cfg.PendingUtterances <= 0 {
		cfg.PendingUtterances = 32
	}
	if cfg.RelayQueueSize <= 0 {
		cfg.RelayQueueSize = 64
	}
	if adapters.Synthesizer == nil {
		adapters.Synthesizer = tts.Nop{}
	}
	if adapters.Bus == nil {
		adapters.Bus = events.Nop{}
	}

	ctx, cancel := context.WithCancelCause(base)
	p := &Pipeline{
		cfg:      cfg,
		adapters: adapters,
		history:  conversation.NewHistory(),
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithSession(cfg.SessionID),
		base:     base,
		ctx:      ctx,
		cancel:   cancel,
		requests: make(chan request, cfg.PendingUtterances),
	}
	p.relay = newRelay(conn, cfg, p.metrics, p.log, func(err error) {
		p.cancel(fmt.Errorf("%w: %v", models.ErrTransportClosed, err))
	})

	p.loops.Add(2)
	go func() {
		defer p.loops.Done()
		p.relay.sequence(p.ctx)
	}()
	go func() {
		defer p.loops.Done()
		p.relay.multiplex(p.ctx)
	}()

	p.tasks.Add(1)
	go p.intake()

	return p
}

// request is either an utterance or a standalone error notice; both are
// relayed in submission order.
type request struct {
	utterance models.Utterance
	notice    string
}

// Submit queues an utterance. It blocks while the queue is full and fails
// only when ctx is done or the session has ended.
func (p *Pipeline) Submit(ctx context.Context, u models.Utterance) error {
	return p.push(ctx, request{utterance: u})
}

// Notify queues an error message for the client, ordered after every turn
// submitted before it.
func (p *Pipeline) Notify(ctx context.Context, message string) error {
	return p.push(ctx, request{notice: message})
}

func (p *Pipeline) push(ctx context.Context, req request) error {
	select {
	case <-p.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case p.requests <- req:
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the session ends, either through Close or because
// the transport broke.
func (p *Pipeline) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Err returns why the session ended, or nil while it is running.
func (p *Pipeline) Err() error {
	return context.Cause(p.ctx)
}

// History returns a copy of the conversation so far.
func (p *Pipeline) History() []models.Turn {
	return p.history.Snapshot()
}

// Close ends the session. It waits for in-flight turns up to the drain
// timeout and abandons the rest; abandoned turns keep running but can no
// longer emit.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.cancel(ErrClosed)
		p.loops.Wait()

		done := make(chan struct{})
		go func() {
			p.tasks.Wait()
			close(done)
		}()

		var timeout <-chan time.Time
		if p.cfg.DrainTimeout > 0 {
			timer := time.NewTimer(p.cfg.DrainTimeout)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-done:
		case <-timeout:
			n := p.inFlight.Load()
			p.metrics.RecordAbandonedTurns(int(n))
			p.log.Warn().
				Int64("inFlight", n).
				Dur("drainTimeout", p.cfg.DrainTimeout).
				Msg("Abandoning in-flight turns")
		}
	})
}

// turn carries one utterance through the pipeline.
type turn struct {
	id         string
	lc         *Lifecycle
	out        *outbox
	log        zerolog.Logger
	started    time.Time
	committed  chan struct{}
	commitOnce sync.Once
}

func (t *turn) emit(ev models.PipelineEvent) {
	ev.TurnID = t.id
	t.out.emit(ev)
}

// commit signals the next turn that this turn is done with the history.
func (t *turn) commit() {
	t.commitOnce.Do(func() { close(t.committed) })
}

func (p *Pipeline) finish(t *turn, outcome string) {
	if !t.lc.Finish() {
		return
	}
	t.commit()
	t.emit(models.StateEvent(models.StateIdle))
	t.out.close()
	p.inFlight.Add(-1)
	p.metrics.RecordTurnEnd(outcome)
	t.log.Debug().
		Str("outcome", outcome).
		Dur("duration", time.Since(t.started)).
		Msg("Turn finished")
}

func (p *Pipeline) fail(t *turn, stage, msg string, err error) {
	t.log.Error().Err(err).Str("stage", stage).Msg("Turn stage failed")
	p.adapters.Bus.Publish(p.ctx, models.TopicError, p.cfg.SessionID, models.BusEvent{
		Type:      "error",
		SessionID: p.cfg.SessionID,
		TurnID:    t.id,
		Timestamp: time.Now().UnixMilli(),
		Stage:     stage,
		Error:     err.Error(),
	})
	t.emit(models.ErrorEvent(msg))
}

// recoverTurn converts a panic in turn code into a failed turn.
func (p *Pipeline) recoverTurn(t *turn, stage, msg string) {
	if r := recover(); r != nil {
		p.fail(t, stage, msg, fmt.Errorf("panic: %v", r))
		p.finish(t, outcomeFailed)
	}
}

// call runs one adapter invocation with its timeout, recovering panics and
// recording latency.
func (p *Pipeline) call(t *turn, stage string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := p.base, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(p.base, timeout)
	}
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", stage, r)
		}
		elapsed := time.Since(start)
		p.metrics.RecordStage(stage, err, models.ErrorKind(err), elapsed.Seconds())
		t.log.Debug().
			Str("stage", stage).
			Dur("duration", elapsed).
			Bool("ok", err == nil).
			Msg("Stage completed")
	}()
	return fn(ctx)
}

// intake processes utterances one at a time, in arrival order.
func (p *Pipeline) intake() {
	defer p.tasks.Done()

	first := make(chan struct{})
	close(first)
	var prev <-chan struct{} = first

	for {
		var req request
		select {
		case req = <-p.requests:
		case <-p.ctx.Done():
			return
		}

		if req.notice != "" {
			ob := newOutbox(p.ctx)
			if !p.relay.enqueue(p.ctx, ob) {
				return
			}
			ob.emit(models.ErrorEvent(req.notice))
			ob.close()
			continue
		}

		id := ulid.Make().String()
		t := &turn{
			id:        id,
			lc:        NewLifecycle(id),
			out:       newOutbox(p.ctx),
			log:       logging.WithTurn(p.cfg.SessionID, id),
			started:   time.Now(),
			committed: make(chan struct{}),
		}
		if !p.relay.enqueue(p.ctx, t.out) {
			return
		}
		p.inFlight.Add(1)
		p.metrics.RecordTurnStart()

		prev = p.transcribe(t, req.utterance, prev)
	}
}

// transcribe runs the recognition half of a turn and hands the rest to a
// responder goroutine. It returns the signal the following turn must wait
// for before touching the history: this turn's commit if it appended a user
// turn, otherwise prev.
func (p *Pipeline) transcribe(t *turn, u models.Utterance, prev <-chan struct{}) (next <-chan struct{}) {
	next = t.committed
	defer func() {
		if r := recover(); r != nil {
			p.fail(t, stageRecognition, RecognitionFailed, fmt.Errorf("panic: %v", r))
			p.finish(t, outcomeFailed)
			next = prev
		}
	}()

	if err := t.lc.Begin(); err != nil {
		t.log.Error().Err(err).Msg("Invalid turn transition")
		p.finish(t, outcomeFailed)
		return prev
	}
	t.emit(models.StateEvent(models.StateProcessing))

	var text string
	err := p.call(t, stageRecognition, p.cfg.RecognitionTimeout, func(ctx context.Context) error {
		var err error
		text, err = p.adapters.Recognizer.Transcribe(ctx, u.Audio)
		return err
	})
	if err != nil {
		p.fail(t, stageRecognition, RecognitionFailed, err)
		p.finish(t, outcomeFailed)
		return prev
	}

	if text == "" {
		t.log.Info().Msg("Empty transcript")
		t.emit(models.AssistantTextEvent(NotCaughtMessage, 0))
		p.finish(t, outcomeEmpty)
		return prev
	}

	t.log.Info().Str("transcript", text).Msg("Transcript")
	t.emit(models.TranscriptEvent(text))
	p.adapters.Bus.Publish(p.ctx, models.TopicTranscript, p.cfg.SessionID, models.BusEvent{
		Type:      "transcript",
		SessionID: p.cfg.SessionID,
		TurnID:    t.id,
		Timestamp: time.Now().UnixMilli(),
		Content:   text,
	})

	select {
	case <-prev:
	case <-p.ctx.Done():
		p.finish(t, outcomeCanceled)
		return prev
	}

	p.history.EnsureSystem(u.Instructions)
	p.history.Append(models.UserTurn(text))
	p.history.Trim(u.ContextLength)
	snapshot := p.history.Snapshot()

	if err := t.lc.Respond(); err != nil {
		t.log.Error().Err(err).Msg("Invalid turn transition")
		p.finish(t, outcomeFailed)
		return t.committed
	}

	p.tasks.Add(1)
	go p.respond(t, snapshot, u)
	return t.committed
}

// respond runs conversation and synthesis for a turn.
func (p *Pipeline) respond(t *turn, snapshot []models.Turn, u models.Utterance) {
	defer p.tasks.Done()
	defer p.recoverTurn(t, stageConversation, ConversationFailed)

	var reply llm.Reply
	err := p.call(t, stageConversation, p.cfg.ConversationTimeout, func(ctx context.Context) error {
		var err error
		reply, err = p.adapters.Conversation.Chat(ctx, snapshot, u.Temperature)
		return err
	})
	if err != nil {
		t.commit()
		p.fail(t, stageConversation, ConversationFailed, err)
		p.finish(t, outcomeFailed)
		return
	}

	if reply.Text != "" {
		p.history.Append(models.AssistantTurn(reply.Text))
		p.history.Trim(u.ContextLength)
	}
	t.commit()

	p.metrics.RecordTokens(reply.Tokens)
	t.log.Info().
		Int("tokens", reply.Tokens).
		Int("historyLen", p.history.Len()).
		Msg("Assistant reply")
	p.adapters.Bus.Publish(p.ctx, models.TopicLLM, p.cfg.SessionID, models.BusEvent{
		Type:      "llm_response",
		SessionID: p.cfg.SessionID,
		TurnID:    t.id,
		Timestamp: time.Now().UnixMilli(),
		Content:   reply.Text,
		Tokens:    reply.Tokens,
	})

	if reply.Text != "" {
		t.emit(models.StateEvent(models.StateSpeaking))
	}
	t.emit(models.AssistantTextEvent(reply.Text, reply.Tokens))

	if err := p.speak(t, reply.Text); err != nil {
		p.fail(t, stageSynthesis, SynthesisFailed, err)
		p.finish(t, outcomeFailed)
		return
	}
	if p.ctx.Err() != nil {
		p.finish(t, outcomeCanceled)
		return
	}
	p.finish(t, outcomeCompleted)
}

// speak synthesizes sentences in order, stopping at the first failure or
// once the session has ended.
func (p *Pipeline) speak(t *turn, text string) error {
	for _, sentence := range segment.Split(text) {
		if p.ctx.Err() != nil {
			return nil
		}

		var audio []byte
		err := p.call(t, stageSynthesis, p.cfg.SynthesisTimeout, func(ctx context.Context) error {
			var err error
			audio, err = p.adapters.Synthesizer.Synthesize(ctx, sentence)
			return err
		})
		if err != nil {
			return err
		}
		if len(audio) == 0 {
			continue
		}

		t.emit(models.AudioChunkEvent(audio))
		p.adapters.Bus.Publish(p.ctx, models.TopicTTS, p.cfg.SessionID, models.BusEvent{
			Type:      "audio_response",
			SessionID: p.cfg.SessionID,
			TurnID:    t.id,
			Timestamp: time.Now().UnixMilli(),
			Size:      len(audio),
		})
	}
	return nil
}
