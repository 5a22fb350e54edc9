// Package history keeps the pruned, debounced list of recent location samples
// for one tracked entity.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// ErrPriorUnavailable is returned by Prior until an entry has been added since
// construction or the last Reset.
var ErrPriorUnavailable = errors.New("history: prior items unavailable: registry was (re-)initialized and has had no new entries added")

// Unworkable reasons reported through movement.SkipUpdate.
const (
	ReasonDebounced    = "first history item marked for debounce"
	ReasonPoorAccuracy = "poor gps_accuracy"
	ReasonNoLocation   = "poor details (no_location) in to state"
)

// Registry holds location history, newest first.
type Registry struct {
	clock  clock.Clock
	logger *slog.Logger

	items           []movement.HistoryEntry
	prior           []movement.HistoryEntry
	priorReady      bool
	priorIsFallback bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for pruning traces.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry reading time from clk.
func NewRegistry(clk clock.Clock, opts ...Option) *Registry {
	r := &Registry{
		clock:  clk,
		logger: logging.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Items returns the history, newest first. The slice must not be modified.
func (r *Registry) Items() []movement.HistoryEntry {
	return r.items
}

// Current returns the newest entry. It panics on an empty registry.
func (r *Registry) Current() movement.HistoryEntry {
	return r.items[0]
}

// Prior returns the usable entries older than the current one. When none are
// usable it holds a single entry built from the previous tracker state.
func (r *Registry) Prior() ([]movement.HistoryEntry, error) {
	if !r.priorReady {
		return nil, ErrPriorUnavailable
	}
	return r.prior, nil
}

// PriorEntry returns the newest usable prior entry.
func (r *Registry) PriorEntry() (movement.HistoryEntry, error) {
	prior, err := r.Prior()
	if err != nil {
		return movement.HistoryEntry{}, err
	}
	return prior[0], nil
}

// Reset replaces the history and makes Prior unavailable until the next Add.
func (r *Registry) Reset(items []movement.HistoryEntry) {
	r.items = items
	r.prior = nil
	r.priorReady = false
	r.priorIsFallback = false
}

// Add records the new sample of change at the head of the history.
//
// Older entries are pruned for usability: entries too young for speed
// calculations are always kept, as is the first usable non-expired entry;
// other entries survive only while they are more accurate than everything
// newer and have not expired.
//
// The registry is updated even when the result is unworkable, in which case a
// *movement.SkipUpdate is returned.
func (r *Registry) Add(change movement.LocationChanged) error {
	now := r.clock.Now()
	fallback := makeEntry(change.Old, change.Old.At)

	r.items = clean(r.items)
	r.prune(change.New.Accuracy)
	r.items = append([]movement.HistoryEntry{makeEntry(change.New, now)}, r.items...)
	r.markDebounced()
	if len(r.items) > movement.HistoryEntriesMax {
		r.items = r.items[:movement.HistoryEntriesMax]
	}

	r.prior = clean(r.items[1:])
	r.priorIsFallback = len(r.prior) == 0
	if r.priorIsFallback {
		r.prior = []movement.HistoryEntry{fallback}
	}
	r.priorReady = true

	head := r.items[0]
	switch {
	case head.Debounce.Or(false):
		return &movement.SkipUpdate{Reason: ReasonDebounced}
	case head.Ignore.Or("") == movement.IgnoreInaccurate:
		return &movement.SkipUpdate{Reason: ReasonPoorAccuracy}
	case head.Ignore.Or("") == movement.IgnoreNoLocation:
		return &movement.SkipUpdate{Reason: ReasonNoLocation}
	}
	if ignore := fallback.Ignore.Or(""); ignore != "" && r.priorIsFallback {
		return &movement.SkipUpdate{Reason: fmt.Sprintf("poor details (%s) in from state", ignore)}
	}
	return nil
}

func (r *Registry) prune(accuracy movement.Opt[float64]) {
	now := r.clock.Now()
	usableBefore := now.Add(-movement.SpeedUsableDelta)
	expireTime := now.Add(-movement.HistoryExpirationDelta)

	threshold := accuracy.Or(-1)
	haveOneUsable := false
	result := make([]movement.HistoryEntry, 0, len(r.items))

	for i, entry := range r.items {
		usable := !entry.At.After(usableBefore)
		expired := !entry.At.After(expireTime)
		accurate := entry.Accuracy < threshold
		keep := !usable || (accurate && !expired)

		// always keep the first entry that can be used for speed calculations
		if usable && !expired && !haveOneUsable {
			keep = true
			haveOneUsable = true
		}

		if keep {
			result = append(result, entry)
			threshold = min(threshold, entry.Accuracy)
		}

		r.logger.Debug("prune history entry",
			"index", i,
			"usable", usable,
			"expired", expired,
			"accurate", accurate,
			"keep", keep)
	}

	r.items = result
}

// markDebounced flags entries that arrived within DebounceUpdatesDelta of the
// entry before them, walking oldest to newest.
func (r *Registry) markDebounced() {
	for i := len(r.items) - 2; i >= 0; i-- {
		prev := r.items[i+1]
		if r.items[i].At.Sub(prev.At) < movement.DebounceUpdatesDelta {
			r.items[i].Debounce = movement.Some(true)
		}
	}
}

func makeEntry(s movement.Sample, at time.Time) movement.HistoryEntry {
	entry := movement.HistoryEntry{
		At:       at,
		Location: s.Coordinate,
		Accuracy: s.Accuracy.Or(movement.NoAccuracy),
	}

	if s.Accuracy.Or(-1) > movement.InaccurateThreshold {
		entry.Ignore = movement.Some(movement.IgnoreInaccurate)
		entry.Location = movement.None[geo.Coordinate]()
	}

	if c, ok := s.Coordinate.Get(); !ok || c.Latitude == 0 || c.Longitude == 0 {
		entry.Ignore = movement.Some(movement.IgnoreNoLocation)
		entry.Location = movement.None[geo.Coordinate]()
	}

	return entry
}

// clean drops entries kept only for context.
func clean(items []movement.HistoryEntry) []movement.HistoryEntry {
	result := make([]movement.HistoryEntry, 0, len(items))
	for _, item := range items {
		if !item.Discarded() {
			result = append(result, item)
		}
	}
	return result
}
