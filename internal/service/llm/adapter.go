// Package llm defines the interface for conversational language model adapters.
package llm

import (
	"context"
	"strings"

	"voice-relay-service/internal/models"
)

// Reply is the assistant's answer to a conversation snapshot.
type Reply struct {
	Text string
	// Tokens is the model-reported output token count, or the word count
	// of Text when the model does not report one.
	Tokens int
}

// Conversation produces the next assistant reply for an ordered turn list.
//
// Implementations wrap failures with models.ErrConversationService.
type Conversation interface {
	Chat(ctx context.Context, turns []models.Turn, temperature float64) (Reply, error)
}

// WordCount is the token fallback used when a model omits usage data.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
