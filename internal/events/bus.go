package events

import "context"

// Bus is the pipeline's view of the event bus. Publish never blocks on the
// backend and never reports failure to the caller.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload any)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, string, string, any) {}

// Sink delivers one encoded event to a backend.
type Sink interface {
	Name() string
	Write(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}
