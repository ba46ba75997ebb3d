// Package session runs one client connection: it reads and validates
// inbound messages, enforces utterance limits and feeds the pipeline.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
	"voice-relay-service/internal/observability/metrics"
	"voice-relay-service/internal/schema"
	"voice-relay-service/internal/service/pipeline"
	"voice-relay-service/internal/service/stt"
)

// Messages sent to the client outside of a turn.
const (
	RecognizerNotLoaded = "Recognizer not loaded on server."
	AudioTooLarge       = "Audio message too large."
)

// Reasons an inbound message is ignored, used as metric labels.
const (
	dropBinary       = "binary"
	dropEndOfStream  = "end_of_stream"
	dropMalformed    = "malformed"
	dropMissingAudio = "missing_audio"
	dropBadAudio     = "bad_base64"
	dropTooLarge     = "too_large"
)

// Limits defines safety guardrails for inbound messages.
type Limits struct {
	MaxAudioBytes   int64 // Max decoded audio per utterance
	MaxMessageBytes int64 // Max raw WebSocket message
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes:   10 * 1024 * 1024, // ~10 minutes of 128kbps Opus
		MaxMessageBytes: 16 * 1024 * 1024, // base64 of MaxAudioBytes plus the JSON envelope
	}
}

// Conn is a WebSocket connection. *websocket.Conn satisfies it.
type Conn interface {
	pipeline.Conn
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	Close() error
}

// Options configures every session created by a Handler.
type Options struct {
	Limits               Limits
	DefaultTemperature   float64
	DefaultContextLength int
	// Pipeline is the template for each session; SessionID is filled in.
	Pipeline pipeline.Config
}

// Handler serves sessions. One Handler is shared by all connections.
type Handler struct {
	base      context.Context
	adapters  pipeline.Adapters
	validator *schema.Validator
	opts      Options
	metrics   *metrics.Metrics
}

// NewHandler creates a session handler. base is the process lifetime
// context; turns keep running on it after their client leaves.
func NewHandler(base context.Context, adapters pipeline.Adapters, validator *schema.Validator, opts Options) *Handler {
	return &Handler{
		base:      base,
		adapters:  adapters,
		validator: validator,
		opts:      opts,
		metrics:   metrics.DefaultMetrics,
	}
}

// Serve runs the session until the client disconnects or the transport
// fails. It always closes conn.
func (h *Handler) Serve(conn Conn) {
	sessionID := uuid.NewString()
	log := logging.WithSession(sessionID)
	defer conn.Close()

	if !stt.IsReady(h.adapters.Recognizer) {
		log.Warn().Msg("Recognizer not ready, refusing session")
		h.refuse(conn, RecognizerNotLoaded)
		return
	}

	start := time.Now()
	h.metrics.RecordSessionStart()
	log.Info().Msg("Session started")
	defer func() {
		h.metrics.RecordSessionEnd(time.Since(start).Seconds())
		log.Info().Dur("duration", time.Since(start)).Msg("Session ended")
	}()

	if h.opts.Limits.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.Limits.MaxMessageBytes)
	}

	pcfg := h.opts.Pipeline
	pcfg.SessionID = sessionID
	p := pipeline.New(h.base, conn, h.adapters, pcfg)
	defer p.Close()

	// A failed write ends the pipeline; unblock the reader.
	go func() {
		<-p.Done()
		conn.Close()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			h.logReadError(log, err)
			return
		}
		if !h.handle(log, p, mt, data) {
			return
		}
	}
}

// handle processes one inbound frame. It returns false once the pipeline
// no longer accepts work.
func (h *Handler) handle(log zerolog.Logger, p *pipeline.Pipeline, mt int, data []byte) bool {
	if mt != websocket.TextMessage {
		log.Debug().Int("messageType", mt).Msg("Ignoring non-text frame")
		h.metrics.RecordInboundDropped(dropBinary)
		return true
	}
	if strings.TrimSpace(string(data)) == models.EndOfStreamMarker {
		log.Info().Msg("End of stream marker received")
		h.metrics.RecordInboundDropped(dropEndOfStream)
		return true
	}

	u, reason, err := h.decode(data)
	if err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("Dropping inbound message")
		h.metrics.RecordInboundDropped(reason)
		if reason == dropTooLarge {
			return p.Notify(h.base, AudioTooLarge) == nil
		}
		return true
	}

	h.metrics.RecordUtterance(len(u.Audio))
	log.Debug().
		Int("audioBytes", len(u.Audio)).
		Float64("temperature", u.Temperature).
		Int("contextLength", u.ContextLength).
		Msg("Utterance received")

	if err := p.Submit(h.base, u); err != nil {
		log.Debug().Err(err).Msg("Pipeline closed, stopping reader")
		return false
	}
	return true
}

var errMissingAudio = errors.New("no audio in message")

// decode validates a text message and applies defaults. On failure it
// returns the drop reason.
func (h *Handler) decode(data []byte) (models.Utterance, string, error) {
	msg, err := h.validator.Decode(data)
	if err != nil {
		return models.Utterance{}, dropMalformed, err
	}
	if msg.Audio == nil || *msg.Audio == "" {
		return models.Utterance{}, dropMissingAudio, errMissingAudio
	}

	audio, err := base64.StdEncoding.DecodeString(*msg.Audio)
	if err != nil {
		return models.Utterance{}, dropBadAudio, errors.Join(models.ErrMalformedInboundMessage, err)
	}
	if limit := h.opts.Limits.MaxAudioBytes; limit > 0 && int64(len(audio)) > limit {
		return models.Utterance{}, dropTooLarge, errors.New("audio exceeds size limit")
	}

	u := models.Utterance{
		Audio:         audio,
		Temperature:   h.opts.DefaultTemperature,
		ContextLength: h.opts.DefaultContextLength,
	}
	if msg.Temperature != nil {
		u.Temperature = *msg.Temperature
	}
	if msg.ContextLength != nil {
		u.ContextLength = *msg.ContextLength
	}
	if msg.Instructions != nil {
		u.Instructions = *msg.Instructions
	}
	return u, "", nil
}

func (h *Handler) refuse(conn Conn, message string) {
	data, err := models.ErrorEvent(message).Encode()
	if err != nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	if h.opts.Pipeline.WriteTimeout > 0 {
		deadline = time.Now().Add(h.opts.Pipeline.WriteTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "recognizer not loaded"), deadline)
}

func (h *Handler) logReadError(log zerolog.Logger, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Info().Msg("Client disconnected")
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Err(err).Msg("Inbound message exceeded read limit")
		h.metrics.RecordInboundDropped(dropTooLarge)
	default:
		log.Debug().Err(err).Msg("Read loop ended")
	}
}
