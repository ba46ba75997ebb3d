package models

// Bus topics, relative to the configured prefix.
const (
	TopicTranscript = "transcript"
	TopicLLM        = "llm"
	TopicTTS        = "tts"
	TopicError      = "error"
)

// BusEvent is the telemetry payload published for each pipeline milestone.
type BusEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	Size      int    `json:"size,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}
