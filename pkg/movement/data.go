package movement

import (
	"math"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/BYTE-6D65/movement/pkg/geo"
)

// MovementData is the engine state for one tracked entity.
type MovementData struct {
	Distance    float64      `json:"distance"`    // km, cumulative
	Adjustments float64      `json:"adjustments"` // km, cumulative, included in Distance
	Speed       Opt[float64] `json:"speed"`       // km/h, missing while unknown
	Mode        Mode         `json:"mode_of_transit"`
	ChangeCount int          `json:"change_count"` // changes to distance
	IgnoreCount int          `json:"ignore_count"` // updates skipped for accuracy/debounce
}

// InitialData is the state before any update has been produced.
func InitialData() MovementData {
	return MovementData{ChangeCount: -1}
}

// TypedMovementData accumulates distance for a single mode of transit.
type TypedMovementData struct {
	Distance        float64        `json:"distance"`
	TripDistance    Opt[float64]   `json:"trip_distance"`
	TripAdjustments Opt[float64]   `json:"trip_adjustments"`
	TripStart       Opt[time.Time] `json:"trip_start"`
}

// IgnoreReason tags a history entry that cannot be used for calculations.
type IgnoreReason string

const (
	IgnoreInaccurate IgnoreReason = "inaccurate"
	IgnoreNoLocation IgnoreReason = "no_location"
)

// HistoryEntry is one recorded location sample.
type HistoryEntry struct {
	At       time.Time
	Location Opt[geo.Coordinate]
	Accuracy float64 // meters, NoAccuracy when not reported
	Ignore   Opt[IgnoreReason]
	Debounce Opt[bool]
}

// Discarded reports whether the entry is only kept for context: it carries an
// ignore reason or is marked for debounce.
func (e HistoryEntry) Discarded() bool {
	if reason, ok := e.Ignore.Get(); ok && reason != "" {
		return true
	}
	return e.Debounce.Or(false)
}

type historyEntryJSON struct {
	At       time.Time           `json:"at"`
	Accuracy *float64            `json:"accuracy,omitzero"`
	Location Opt[geo.Coordinate] `json:"location,omitzero"`
	Ignore   Opt[IgnoreReason]   `json:"ignore,omitzero"`
	Debounce Opt[bool]           `json:"debounce,omitzero"`
}

// MarshalJSON leaves out accuracy when it is NoAccuracy since JSON has no infinity.
func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	w := historyEntryJSON{
		At:       e.At,
		Location: e.Location,
		Ignore:   e.Ignore,
		Debounce: e.Debounce,
	}
	if !math.IsInf(e.Accuracy, 1) {
		accuracy := e.Accuracy
		w.Accuracy = &accuracy
	}
	return json.Marshal(w)
}

func (e *HistoryEntry) UnmarshalJSON(b []byte) error {
	var w historyEntryJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = HistoryEntry{
		At:       w.At,
		Location: w.Location,
		Accuracy: NoAccuracy,
		Ignore:   w.Ignore,
		Debounce: w.Debounce,
	}
	if w.Accuracy != nil {
		e.Accuracy = *w.Accuracy
	}
	return nil
}

// TransitionEntry is distance buffered while the mode could not be decided.
// Missing Adjustments means the entry is still pending.
type TransitionEntry struct {
	Distance    float64      `json:"distance"`
	Adjustments Opt[float64] `json:"adjustments,omitzero"`
}

// Pending reports whether the entry has not been finalized.
func (e TransitionEntry) Pending() bool {
	return !e.Adjustments.IsSet()
}

// Sample is a raw tracker state as reported by the device.
type Sample struct {
	At         time.Time           `json:"at"`
	Coordinate Opt[geo.Coordinate] `json:"coordinate,omitzero"`
	Accuracy   Opt[float64]        `json:"accuracy,omitzero"`
}
