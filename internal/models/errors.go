package models

import "errors"

// Error taxonomy. Adapters wrap these with fmt.Errorf("%w: ...") so stage
// boundaries can classify failures with errors.Is.
var (
	ErrRecognition             = errors.New("recognition failed")
	ErrConversationService     = errors.New("conversation service failed")
	ErrSynthesisService        = errors.New("synthesis service failed")
	ErrTransportClosed         = errors.New("transport closed")
	ErrMalformedInboundMessage = errors.New("malformed inbound message")
)

// ErrorKind returns a short label for err, used for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRecognition):
		return "recognition"
	case errors.Is(err, ErrConversationService):
		return "conversation"
	case errors.Is(err, ErrSynthesisService):
		return "synthesis"
	case errors.Is(err, ErrTransportClosed):
		return "transport_closed"
	case errors.Is(err, ErrMalformedInboundMessage):
		return "malformed"
	default:
		return "unknown"
	}
}
