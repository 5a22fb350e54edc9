package calc

import (
	"slices"
	"time"

	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// TypedInput is one step of a per-mode accumulator.
type TypedInput struct {
	ModeType movement.Mode
	Data     movement.TypedMovementData

	Reset  bool
	Prior  movement.MovementData
	Update movement.MovementData

	// Items and PriorItems are the transition ledger entries after the update
	// and as published at the start of it.
	Items      []movement.TransitionEntry
	PriorItems []movement.TransitionEntry

	Now time.Time
}

// TypedUpdate returns the accumulator for in.ModeType after the update.
//
// A mode contributes when it appears in the prior/update mode pair, with
// walking only counted when neither faster mode appears. Nothing contributes
// while ledger entries are pending. Distance that was buffered during a
// transition is credited once it has been finalized, and distance buffered
// before a stall that cleared the ledger is credited to walking.
func TypedUpdate(in TypedInput) movement.TypedMovementData {
	if in.Reset {
		return movement.TypedMovementData{}
	}
	if in.Update.Distance == 0 {
		return in.Data
	}

	distance := in.Data.Distance
	tripStart := in.Data.TripStart
	tripDistance := in.Data.TripDistance.Or(0)
	tripAdjustments := in.Data.TripAdjustments.Or(0)

	from, to := in.Prior.Mode, in.Update.Mode
	modes := []movement.Mode{from, to}
	inTransition := slices.ContainsFunc(in.Items, movement.TransitionEntry.Pending)
	stalledFromInTransition := in.PriorItems != nil &&
		in.Items == nil &&
		!in.Update.Speed.IsSet() &&
		to == movement.NoMode

	hasWalking := slices.Contains(modes, movement.Walking)
	hasBiking := slices.Contains(modes, movement.Biking)
	hasDriving := slices.Contains(modes, movement.Driving)

	var contributes bool
	switch in.ModeType {
	case movement.Walking:
		contributes = (hasWalking || stalledFromInTransition) && !hasBiking && !hasDriving
	case movement.Biking:
		contributes = hasBiking && !hasDriving
	case movement.Driving:
		contributes = hasDriving
	}

	// finalized entries carry their adjustment in distance, and adjustments
	// are already part of the update totals
	var fromTransition float64
	for _, item := range in.Items {
		if adj, ok := item.Adjustments.Get(); ok {
			fromTransition += item.Distance - adj
		}
	}
	if stalledFromInTransition {
		for _, item := range in.PriorItems {
			if item.Pending() {
				fromTransition += item.Distance
			}
		}
	}

	if inTransition {
		contributes = false
	}

	var applicable, applicableAdjustments float64
	if contributes {
		applicable = in.Update.Distance - in.Prior.Distance + fromTransition
		applicableAdjustments = in.Update.Adjustments - in.Prior.Adjustments
	}

	logging.Logger().Debug("typed update",
		"mode_type", in.ModeType,
		"contributes", contributes,
		"in_transition", inTransition,
		"stalled_from_in_transition", stalledFromInTransition,
		"from_transition", fromTransition,
		"applicable", applicable)

	if from != in.ModeType && to == in.ModeType {
		tripStart = movement.Some(in.Now)
		tripDistance = 0
		tripAdjustments = 0
	}

	return movement.TypedMovementData{
		Distance:        distance + applicable,
		TripStart:       tripStart,
		TripDistance:    movement.Some(tripDistance + applicable),
		TripAdjustments: movement.Some(tripAdjustments + applicableAdjustments),
	}
}
