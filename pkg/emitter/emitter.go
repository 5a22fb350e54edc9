package emitter

import (
	"context"
	"errors"

	"github.com/BYTE-6D65/movement/pkg/event"
)

// Common errors returned by emitters
var (
	ErrClosed           = errors.New("emitter: closed")
	ErrInvalidPayload   = errors.New("emitter: invalid event payload")
	ErrUnsupportedEvent = errors.New("emitter: unsupported event type")
)

// Emitter is an output sink for the engine's published events: updates,
// dependent entity updates and debug changes.
//
// Emitters are managed by the engine's EmitterManager which handles
// subscribing to the output bus and routing events to them.
type Emitter interface {
	// ID returns a unique identifier for this emitter instance, e.g. "jsonl:stdout"
	ID() string

	// Type returns the emitter type category, e.g. "jsonl"
	Type() string

	// Emit writes a single event to the destination.
	// Returns ErrClosed once the emitter has been closed.
	Emit(ctx context.Context, evt event.Event) error

	// Close releases the emitter's resources. Safe to call more than once.
	Close() error
}
