// Package tts defines the interface for speech synthesis adapters.
package tts

import "context"

// Synthesizer renders one sentence to audio.
//
// Implementations wrap failures with models.ErrSynthesisService. A nil or
// empty result means nothing to play.
type Synthesizer interface {
	Synthesize(ctx context.Context, sentence string) ([]byte, error)
}

// Nop is used when no synthesis endpoint is configured; replies are sent as
// text only.
type Nop struct{}

// Synthesize returns no audio.
func (Nop) Synthesize(context.Context, string) ([]byte, error) { return nil, nil }
