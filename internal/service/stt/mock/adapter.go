// Package mock provides a mock STT adapter for testing without a recognizer
// model. Silent audio (all zero bytes) yields an empty transcript; any other
// audio yields the next scripted transcript.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-relay-service/internal/models"
)

// DefaultTranscripts are cycled through when no script is given.
var DefaultTranscripts = []string{
	"What's two plus two?",
	"Tell me a short joke.",
	"How is the weather today?",
	"Thank you very much.",
}

// Adapter implements stt.Recognizer with scripted responses.
type Adapter struct {
	mu          sync.Mutex
	transcripts []string
	err         error
	delay       time.Duration
	notReady    bool
	calls       int
	audio       [][]byte
}

// New creates a mock recognizer that cycles through DefaultTranscripts.
func New() *Adapter {
	return &Adapter{transcripts: DefaultTranscripts}
}

// NewScripted creates a mock recognizer returning transcripts in order,
// wrapping around when exhausted.
func NewScripted(transcripts ...string) *Adapter {
	return &Adapter{transcripts: transcripts}
}

// SetError makes every following call fail with err.
func (a *Adapter) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// SetDelay simulates inference time.
func (a *Adapter) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// SetReady toggles the reported model readiness.
func (a *Adapter) SetReady(ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notReady = !ready
}

// Ready reports whether the simulated model is loaded.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.notReady
}

// Calls returns the number of Transcribe invocations.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Received returns copies of the audio passed to Transcribe, in call order.
func (a *Adapter) Received() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.audio))
	for i, b := range a.audio {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// Transcribe returns the next scripted transcript.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte) (string, error) {
	a.mu.Lock()
	idx := a.calls
	a.calls++
	a.audio = append(a.audio, append([]byte(nil), audio...))
	delay, err := a.delay, a.err
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", models.ErrRecognition, ctx.Err())
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRecognition, err)
	}
	if isSilence(audio) || len(a.transcripts) == 0 {
		return "", nil
	}
	return a.transcripts[idx%len(a.transcripts)], nil
}

func isSilence(audio []byte) bool {
	for _, b := range audio {
		if b != 0 {
			return false
		}
	}
	return true
}
