package calc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Large jumps over these limits are treated as the device having been off
// rather than as travel.
const (
	JumpSpeed    = 200.0 // km/h
	JumpDistance = 250.0 // km
	JumpDelta    = 60 * time.Minute
)

// SpeedEstimate is the outcome of EstimateSpeed.
type SpeedEstimate struct {
	// Speed is set when a speed was accepted.
	Speed movement.Opt[float64]

	// Cleared reports that the speed should become unknown without entering
	// a transition.
	Cleared bool

	Transition movement.Transition
}

// EstimateSpeed calculates the speed in km/h at the current history entry.
//
// Prior entries are searched newest first for one that is old enough to be
// usable and far enough away to exceed the combined GPS accuracy. Once any
// entry fails the accuracy check, the search window shrinks to
// movement.SpeedStaleDelta. When nothing qualifies, or updates stalled while
// no mode was known, a transition is required and the caller keeps the prior
// speed.
func EstimateSpeed(prior movement.MovementData, distance float64, h HistoryView, now time.Time) (SpeedEstimate, error) {
	entries, err := h.Prior()
	if err != nil {
		return SpeedEstimate{}, err
	}
	current := h.Current()
	location, ok := current.Location.Get()
	if !ok {
		return SpeedEstimate{}, fmt.Errorf("current entry at %s: %w", current.At, ErrMissingLocation)
	}

	logger := logging.Logger()

	var delta time.Duration
	if len(entries) > 0 {
		delta = now.Sub(entries[0].At)
	}
	stalled := prior.Mode == movement.NoMode && delta > movement.HistoryExpirationDelta

	matched := false
	stillAcceptable := true
	for i, entry := range entries {
		from, ok := entry.Location.Get()
		if !ok {
			continue
		}

		delta = now.Sub(entry.At)
		distance = geo.Distance(from, location)
		meters := distance * 1000
		combined := current.Accuracy + entry.Accuracy
		if !(combined < movement.NoAccuracy) {
			combined = meters
		}
		acceptable := meters >= combined
		stillAcceptable = stillAcceptable && acceptable

		maxDelta := movement.HistoryExpirationDelta
		if !stillAcceptable {
			maxDelta = movement.SpeedStaleDelta
		}
		lapsed := delta >= movement.SpeedUsableDelta && delta < maxDelta

		logger.Debug("speed candidate",
			"index", i,
			"delta", delta,
			"meters", meters,
			"combined_accuracy", combined,
			"acceptable_movement", acceptable,
			"acceptable_time_lapsed", lapsed)

		if lapsed && acceptable {
			matched = true
			break
		}
	}

	speed := 0.0
	if delta > 0 {
		speed = distance / delta.Seconds() * 3600
	}
	logger.Debug("calculated speed", slog.Float64("speed", speed), slog.Bool("matched", matched))

	if speed > JumpSpeed && distance > JumpDistance && delta > JumpDelta {
		return SpeedEstimate{Cleared: true}, nil
	}
	if stalled {
		return SpeedEstimate{Transition: movement.RequireTransition(movement.TransitionStalled)}, nil
	}
	if !matched {
		return SpeedEstimate{Transition: movement.RequireTransition(movement.TransitionPoorAccuracy)}, nil
	}
	return SpeedEstimate{Speed: movement.Some(speed)}, nil
}
