package proto

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/spacerelay/internal/core"
)

var ErrNoMessage = errors.New("envelope carries no space message")

// NewMessageEnvelope wraps a forwarded mutation for the backend.
func NewMessageEnvelope(origin string, backID int, msg core.SpaceMessage) BackEnvelope {
	wire := SpaceMessageFromCore(msg)
	return BackEnvelope{
		Type:    BackTypeMessage,
		Origin:  origin,
		BackID:  backID,
		Space:   msg.SpaceName(),
		Message: &wire,
	}
}

// DecodeMessage extracts the space message of a space_message envelope.
func (e *BackEnvelope) DecodeMessage() (core.SpaceMessage, error) {
	if e.Type != BackTypeMessage {
		return nil, fmt.Errorf("envelope type %q: %w", e.Type, ErrNoMessage)
	}
	if e.Message == nil {
		return nil, ErrNoMessage
	}
	return e.Message.ToCore()
}
