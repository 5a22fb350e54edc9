// Package calc holds the pure calculations behind a movement update: distance,
// speed, mode of transit, adjustments and the per-mode accumulators.
package calc

import (
	"errors"
	"fmt"

	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// ErrMissingLocation is returned when an entry used for a calculation has no
// location. The history registry reports such samples as unworkable, so this
// indicates a caller bug.
var ErrMissingLocation = errors.New("calc: history entry has no location")

// HistoryView is the read side of the history registry.
type HistoryView interface {
	Current() movement.HistoryEntry
	Prior() ([]movement.HistoryEntry, error)
	PriorEntry() (movement.HistoryEntry, error)
}

// Distance returns the great-circle distance in km from the newest prior
// entry to the current one.
func Distance(h HistoryView) (float64, error) {
	from, err := h.PriorEntry()
	if err != nil {
		return 0, err
	}
	fromLocation, ok := from.Location.Get()
	if !ok {
		return 0, fmt.Errorf("prior entry at %s: %w", from.At, ErrMissingLocation)
	}
	current := h.Current()
	toLocation, ok := current.Location.Get()
	if !ok {
		return 0, fmt.Errorf("current entry at %s: %w", current.At, ErrMissingLocation)
	}
	return geo.Distance(fromLocation, toLocation), nil
}
