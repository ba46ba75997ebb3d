// Package mock provides a synthesis adapter that returns the sentence bytes
// as "audio", with optional per-call failures.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-relay-service/internal/models"
)

// Adapter implements tts.Synthesizer.
type Adapter struct {
	mu        sync.Mutex
	failAt    map[int]error
	delay     time.Duration
	sentences []string
}

// New creates a mock synthesizer.
func New() *Adapter {
	return &Adapter{failAt: map[int]error{}}
}

// FailOn makes the call with the given zero-based index fail.
func (a *Adapter) FailOn(call int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failAt[call] = err
}

// SetDelay simulates synthesis time per sentence.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Sentences returns the sentences received so far.
func (a *Adapter) Sentences() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sentences...)
}

// Synthesize returns "audio:" + sentence.
func (a *Adapter) Synthesize(ctx context.Context, sentence string) ([]byte, error) {
	a.mu.Lock()
	idx := len(a.sentences)
	a.sentences = append(a.sentences, sentence)
	delay, err := a.delay, a.failAt[idx]
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrSynthesisService, ctx.Err())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSynthesisService, err)
	}
	return []byte("audio:" + sentence), nil
}
