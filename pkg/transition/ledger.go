// Package transition buffers distance travelled while speed or mode could not
// be decided, and finalizes it once the mode is known.
package transition

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/BYTE-6D65/movement/pkg/calc"
	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// ErrPriorUnavailable is returned by Prior after a reset or while an update is
// pending.
var ErrPriorUnavailable = errors.New("transition: prior items unavailable: registry was (re-)initialized and has had no update")

// Ledger holds transition entries for one tracked entity.
//
// Items is nil when there is nothing buffered. A non-nil empty slice means a
// transition is under way but has not yet recorded any distance.
type Ledger struct {
	logger *slog.Logger

	items      []movement.TransitionEntry
	prior      []movement.TransitionEntry
	priorValid bool

	pending bool
	staged  []movement.TransitionEntry
}

// New creates an empty ledger. Prior is unavailable until the first update.
func New() *Ledger {
	return &Ledger{logger: logging.Logger()}
}

// Items returns the buffered entries. The slice must not be modified.
func (l *Ledger) Items() []movement.TransitionEntry {
	return l.items
}

// Prior returns the entries as they were at the start of the last completed
// update.
func (l *Ledger) Prior() ([]movement.TransitionEntry, error) {
	if !l.priorValid {
		return nil, ErrPriorUnavailable
	}
	return l.prior, nil
}

// Pending reports whether any entry is still waiting to be finalized.
func (l *Ledger) Pending() bool {
	return slices.ContainsFunc(l.items, movement.TransitionEntry.Pending)
}

// Reset replaces the items and makes Prior unavailable until the next update.
func (l *Ledger) Reset(items []movement.TransitionEntry) {
	l.items = items
	l.prior = nil
	l.priorValid = false
}

// Restore replaces items and prior with Prior available immediately.
func (l *Ledger) Restore(items, prior []movement.TransitionEntry) {
	l.items = items
	l.prior = prior
	l.priorValid = true
}

// Clear drops all items. The published prior snapshot is left untouched so
// that distance buffered before a stall can still be accounted for.
func (l *Ledger) Clear() {
	l.items = nil
}

// Begin opens an update scope. The current items are staged as the next prior
// snapshot and Prior is unavailable until the snapshot is published.
func (l *Ledger) Begin() {
	l.pending = true
	l.staged = slices.Clone(l.items)
	l.priorValid = false
}

// End closes the update scope, publishing the staged snapshot if Process did
// not run.
func (l *Ledger) End() {
	l.publish()
	l.pending = false
	l.staged = nil
}

func (l *Ledger) publish() {
	if l.priorValid {
		return
	}
	if l.pending {
		l.prior = l.staged
	} else {
		l.prior = slices.Clone(l.items)
	}
	l.priorValid = true
}

// Process records update in the ledger and returns the adjustments total for
// the update: the update's own adjustments plus those of entries finalized now.
//
// While transitioning the update distance is buffered in a new pending entry.
// Otherwise, once update has a mode, every pending entry is finalized through
// policy with the update's speed and mode.
func (l *Ledger) Process(update movement.MovementData, transitioning bool, policy calc.Policy) float64 {
	l.clearFinalized()

	if transitioning {
		l.addPending(update)
	} else {
		l.finalizePending(update, policy)
	}

	result := update.Adjustments
	for _, item := range l.items {
		result += item.Adjustments.Or(0)
	}

	l.logger.Debug("transition processed",
		"adjustments", result,
		"items", len(l.items),
		"transitioning", transitioning)

	if len(l.items) > movement.TransitionEntriesMax {
		l.items = l.items[:movement.TransitionEntriesMax]
	}
	l.publish()

	return result
}

// clearFinalized drops entries finalized by an earlier update since they are
// already part of the totals.
func (l *Ledger) clearFinalized() {
	if len(l.items) == 0 {
		return
	}
	kept := make([]movement.TransitionEntry, 0, len(l.items))
	for _, item := range l.items {
		if item.Pending() {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	l.items = kept
}

func (l *Ledger) addPending(update movement.MovementData) {
	if l.items == nil {
		l.items = []movement.TransitionEntry{}
	}
	if update.Distance > 0 {
		l.items = append(l.items, movement.TransitionEntry{Distance: update.Distance})
	}
}

func (l *Ledger) finalizePending(update movement.MovementData, policy calc.Policy) {
	mode := update.Mode
	if mode == movement.NoMode || len(l.items) == 0 {
		return
	}

	finalized := make([]movement.TransitionEntry, len(l.items))
	for i, item := range l.items {
		adjustment := policy.Adjust(item.Distance, update.Speed, mode, mode, false)
		finalized[i] = movement.TransitionEntry{
			Distance:    item.Distance + adjustment,
			Adjustments: movement.Some(adjustment),
		}
	}
	l.items = finalized
}
