package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventKind tags a PipelineEvent.
type EventKind int

const (
	EventStateChange EventKind = iota
	EventTranscript
	EventAssistantText
	EventAudioChunk
	EventError
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state"
	case EventTranscript:
		return "transcript"
	case EventAssistantText:
		return "assistant_text"
	case EventAudioChunk:
		return "audio_chunk"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ClientState is the status marker reported to the client.
type ClientState string

const (
	StateProcessing ClientState = "processing"
	StateSpeaking   ClientState = "speaking"
	StateIdle       ClientState = "idle"
)

// PipelineEvent is one outbound event produced by a pipeline stage.
//
// Only the fields relevant to Kind are set. TurnID identifies the turn that
// produced the event; Seq is stamped by the relay when the event is queued
// for the transport and is strictly increasing within a session.
type PipelineEvent struct {
	Kind    EventKind
	State   ClientState
	Text    string
	Tokens  int
	Audio   []byte
	Message string

	TurnID string
	Seq    uint64
}

// StateEvent returns a StateChange event.
func StateEvent(s ClientState) PipelineEvent {
	return PipelineEvent{Kind: EventStateChange, State: s}
}

// TranscriptEvent returns a Transcript event.
func TranscriptEvent(text string) PipelineEvent {
	return PipelineEvent{Kind: EventTranscript, Text: text}
}

// AssistantTextEvent returns an AssistantText event.
func AssistantTextEvent(text string, tokens int) PipelineEvent {
	return PipelineEvent{Kind: EventAssistantText, Text: text, Tokens: tokens}
}

// AudioChunkEvent returns an AudioChunk event.
func AudioChunkEvent(audio []byte) PipelineEvent {
	return PipelineEvent{Kind: EventAudioChunk, Audio: audio}
}

// ErrorEvent returns an Error event.
func ErrorEvent(msg string) PipelineEvent {
	return PipelineEvent{Kind: EventError, Message: msg}
}

// IsAudio reports whether the event travels on the audio relay queue.
func (e PipelineEvent) IsAudio() bool { return e.Kind == EventAudioChunk }

type stateMessage struct {
	State ClientState `json:"state"`
}

type transcriptMessage struct {
	Transcript string `json:"transcript"`
}

type assistantMessage struct {
	LLMResponse string `json:"llm_response"`
	Tokens      int    `json:"tokens,omitempty"`
}

type audioMessage struct {
	AudioResponse string `json:"audio_response"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// Encode renders the event as the outbound JSON message sent to the client.
func (e PipelineEvent) Encode() ([]byte, error) {
	switch e.Kind {
	case EventStateChange:
		return json.Marshal(stateMessage{State: e.State})
	case EventTranscript:
		return json.Marshal(transcriptMessage{Transcript: e.Text})
	case EventAssistantText:
		return json.Marshal(assistantMessage{LLMResponse: e.Text, Tokens: e.Tokens})
	case EventAudioChunk:
		return json.Marshal(audioMessage{AudioResponse: base64.StdEncoding.EncodeToString(e.Audio)})
	case EventError:
		return json.Marshal(errorMessage{Error: e.Message})
	default:
		return nil, fmt.Errorf("encode event: unknown kind %s", e.Kind)
	}
}
