// Package mock provides a scripted conversation adapter for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/service/llm"
)

// Adapter implements llm.Conversation. Without a script it echoes the last
// user turn.
type Adapter struct {
	mu      sync.Mutex
	replies []llm.Reply
	err     error
	delay   time.Duration
	calls   [][]models.Turn
	temps   []float64
}

// New creates an echoing mock.
func New() *Adapter {
	return &Adapter{}
}

// NewScripted returns the given replies in order, repeating the last one.
func NewScripted(replies ...llm.Reply) *Adapter {
	return &Adapter{replies: replies}
}

// SetError makes every following call fail with err.
func (a *Adapter) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// SetDelay simulates generation time.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Calls returns the turn lists received so far.
func (a *Adapter) Calls() [][]models.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]models.Turn(nil), a.calls...)
}

// Temperatures returns the temperature of each call so far.
func (a *Adapter) Temperatures() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.temps...)
}

// Chat returns the next scripted reply.
func (a *Adapter) Chat(ctx context.Context, turns []models.Turn, temperature float64) (llm.Reply, error) {
	a.mu.Lock()
	idx := len(a.calls)
	a.calls = append(a.calls, append([]models.Turn(nil), turns...))
	a.temps = append(a.temps, temperature)
	delay, err := a.delay, a.err
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llm.Reply{}, fmt.Errorf("%w: %v", models.ErrConversationService, ctx.Err())
		}
	}
	if err != nil {
		return llm.Reply{}, fmt.Errorf("%w: %v", models.ErrConversationService, err)
	}

	if len(a.replies) > 0 {
		if idx >= len(a.replies) {
			idx = len(a.replies) - 1
		}
		return a.replies[idx], nil
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			text := "You said: " + turns[i].Content
			return llm.Reply{Text: text, Tokens: llm.WordCount(text)}, nil
		}
	}
	return llm.Reply{}, nil
}
