package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/BYTE-6D65/movement/pkg/calc"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// ErrEntityMissing is returned when a dependent entity has no known state.
var ErrEntityMissing = errors.New("engine: dependent entity not found")

// MisconfigurationError reports a dependent entity that cannot be updated
// because its state does not name a mode type.
type MisconfigurationError struct {
	Entity string
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("missing mode_type on dependent entity %s", e.Entity)
}

// DependentState is the state of an entity whose distance is derived from a
// tracked entity for a single mode of transit.
type DependentState struct {
	Distance        float64                 `json:"distance"`
	TripDistance    movement.Opt[float64]   `json:"trip_distance"`
	TripAdjustments movement.Opt[float64]   `json:"trip_adjustments"`
	TripStart       movement.Opt[time.Time] `json:"trip_start"`
	ModeType        movement.Mode           `json:"mode_type"`
}

// Typed returns the accumulator part of the state.
func (s DependentState) Typed() movement.TypedMovementData {
	return movement.TypedMovementData{
		Distance:        s.Distance,
		TripDistance:    s.TripDistance,
		TripAdjustments: s.TripAdjustments,
		TripStart:       s.TripStart,
	}
}

func dependentState(t movement.TypedMovementData, mode movement.Mode) DependentState {
	return DependentState{
		Distance:        t.Distance,
		TripDistance:    t.TripDistance,
		TripAdjustments: t.TripAdjustments,
		TripStart:       t.TripStart,
		ModeType:        mode,
	}
}

// EntityState is a distance with the remaining movement fields as attributes.
type EntityState struct {
	State      float64         `json:"state"`
	Attributes StateAttributes `json:"attributes"`
}

// StateAttributes are the movement fields other than distance.
type StateAttributes struct {
	Adjustments float64               `json:"adjustments"`
	Speed       movement.Opt[float64] `json:"speed"`
	Mode        movement.Mode         `json:"mode_of_transit"`
	ChangeCount int                   `json:"change_count"`
	IgnoreCount int                   `json:"ignore_count"`
}

func entityState(d movement.MovementData) EntityState {
	return EntityState{
		State: d.Distance,
		Attributes: StateAttributes{
			Adjustments: d.Adjustments,
			Speed:       d.Speed,
			Mode:        d.Mode,
			ChangeCount: d.ChangeCount,
			IgnoreCount: d.IgnoreCount,
		},
	}
}

// DependentUpdate is the payload published for a dependent entity after a
// recalculation.
type DependentUpdate struct {
	EntityID      string         `json:"entity_id"`
	TrackedEntity string         `json:"tracked_entity"`
	Reason        string         `json:"reason"`
	FromState     EntityState    `json:"from_state"`
	ToState       EntityState    `json:"to_state"`
	For           string         `json:"for"`
	Updates       DependentState `json:"updates"`
}

// Dependent update reasons.
const (
	DependentReasonReset  = "reset"
	DependentReasonUpdate = "update"
)

// notifyDependents computes and stores the new state of each dependent
// entity. Entities that cannot be updated are skipped and reported in errs.
func (c *Coordinator) notifyDependents(
	change movement.Change,
	prior, update movement.MovementData,
	items, priorItems []movement.TransitionEntry,
	now time.Time,
) (updates []DependentUpdate, errs []error) {
	_, reset := change.(movement.ResetRequest)
	reason := DependentReasonUpdate
	if reset {
		reason = DependentReasonReset
	}

	for _, id := range c.cfg.DependentEntities {
		state, err := c.lookupDependent(id)
		if err != nil {
			if errors.Is(err, ErrEntityMissing) {
				c.logger.Warn("could not notify dependent entity because it could not be found", "dependent", id)
			}
			errs = append(errs, err)
			continue
		}

		typed := calc.TypedUpdate(calc.TypedInput{
			ModeType:   state.ModeType,
			Data:       state.Typed(),
			Reset:      reset,
			Prior:      prior,
			Update:     update,
			Items:      items,
			PriorItems: priorItems,
			Now:        now,
		})
		next := dependentState(typed, state.ModeType)
		c.dependents.Set(id, next)

		updates = append(updates, DependentUpdate{
			EntityID:      id,
			TrackedEntity: c.cfg.TrackedEntity,
			Reason:        reason,
			FromState:     entityState(prior),
			ToState:       entityState(update),
			For:           change.ChangeType(),
			Updates:       next,
		})
	}
	return updates, errs
}

func (c *Coordinator) lookupDependent(id string) (DependentState, error) {
	state, ok := c.dependents.Get(id)
	if !ok {
		return DependentState{}, fmt.Errorf("%s: %w", id, ErrEntityMissing)
	}
	if !state.ModeType.Known() {
		return DependentState{}, &MisconfigurationError{Entity: id}
	}
	return state, nil
}
