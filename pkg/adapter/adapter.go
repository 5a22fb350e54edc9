package adapter

import (
	"context"
	"errors"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/event"
)

// Common errors returned by adapters
var (
	ErrSourceNotFound = errors.New("adapter: location source not found")
	ErrEmptyTrace     = errors.New("adapter: trace needs at least two samples")
	ErrAlreadyStarted = errors.New("adapter: already started")
	ErrNotStarted     = errors.New("adapter: not started")
)

// Adapter is a location source. It translates tracker reports into change
// events and publishes them to the engine's input bus.
//
// Adapters are managed by the engine's AdapterManager which handles
// their lifecycle and connects them to the input bus.
type Adapter interface {
	// ID returns a unique identifier for this adapter instance, e.g. "trace:commute"
	ID() string

	// Type returns the adapter type category, e.g. "trace"
	Type() string

	// Start begins publishing changes to the bus.
	// The adapter runs until the context is cancelled or Stop() is called.
	// Returns ErrAlreadyStarted if already running.
	Start(ctx context.Context, bus event.Bus, clk clock.Clock) error

	// Stop shuts down the adapter and waits for it to exit.
	// Returns ErrNotStarted if not currently running.
	Stop() error
}
