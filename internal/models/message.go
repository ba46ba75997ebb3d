package models

// Defaults applied to inbound messages that omit optional fields.
const (
	DefaultTemperature   = 0.7
	DefaultContextLength = 10
)

// EndOfStreamMarker is sent by some browser clients after the last utterance.
const EndOfStreamMarker = "EOS"

// InboundMessage is the JSON object a client sends for one utterance.
// Pointer fields distinguish "absent" from the zero value.
type InboundMessage struct {
	Audio         *string  `json:"audio,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	ContextLength *int     `json:"context_length,omitempty"`
	Instructions  *string  `json:"instructions,omitempty"`
}

// Utterance is a decoded inbound message ready for the pipeline.
type Utterance struct {
	Audio         []byte
	Temperature   float64
	ContextLength int
	Instructions  string
}

// OutboundMessage is the union of every message the server sends. It is used
// by clients and tests to decode the stream; the server encodes through
// PipelineEvent.Encode.
type OutboundMessage struct {
	State         string  `json:"state,omitempty"`
	Transcript    string  `json:"transcript,omitempty"`
	LLMResponse   *string `json:"llm_response,omitempty"`
	Tokens        int     `json:"tokens,omitempty"`
	AudioResponse string  `json:"audio_response,omitempty"`
	Error         string  `json:"error,omitempty"`
}
