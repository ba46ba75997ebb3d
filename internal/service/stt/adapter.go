// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"voice-relay-service/internal/models"
)

// Recognizer turns one recorded utterance into text.
//
// Implementations return an empty string for audio without speech and wrap
// failures with models.ErrRecognition.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// ReadinessReporter is implemented by recognizers that load a model and may
// not be able to serve yet.
type ReadinessReporter interface {
	Ready() bool
}

// IsReady reports whether r can serve requests. Recognizers that do not
// implement ReadinessReporter are always ready.
func IsReady(r Recognizer) bool {
	if rr, ok := r.(ReadinessReporter); ok {
		return rr.Ready()
	}
	return r != nil
}

// Limited bounds the number of concurrent Transcribe calls across every
// session sharing it.
type Limited struct {
	next Recognizer
	sem  *semaphore.Weighted
}

// WithLimit wraps r so that at most n transcriptions run at once.
// n < 1 is treated as 1.
func WithLimit(r Recognizer, n int64) *Limited {
	if n < 1 {
		n = 1
	}
	return &Limited{next: r, sem: semaphore.NewWeighted(n)}
}

// Transcribe waits for a free slot, then delegates.
func (l *Limited) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: waiting for recognizer: %v", models.ErrRecognition, err)
	}
	defer l.sem.Release(1)
	return l.next.Transcribe(ctx, audio)
}

// Ready reports the readiness of the wrapped recognizer.
func (l *Limited) Ready() bool {
	return IsReady(l.next)
}
