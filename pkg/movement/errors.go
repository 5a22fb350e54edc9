package movement

import "fmt"

// SkipUpdate is returned when a location sample is unworkable. The caller
// keeps all distance, speed and mode fields and only bumps the ignore count.
type SkipUpdate struct {
	Reason string
}

func (e *SkipUpdate) Error() string {
	return "skip update: " + e.Reason
}

// Transition reasons.
const (
	TransitionStalled      = "stalled"
	TransitionPoorAccuracy = "poor_gps_accuracy"
)

// Transition reports that speed or mode could not be finalized this cycle.
// The zero value means no transition is required.
type Transition struct {
	Reason string
}

// RequireTransition returns a Transition with the given reason.
func RequireTransition(reason string) Transition {
	return Transition{Reason: reason}
}

// MaintainMode is the transition reported when the prior mode is held
// because the distance threshold was not met.
func MaintainMode(prior Mode) Transition {
	return Transition{Reason: fmt.Sprintf("maintain mode: %s", prior)}
}

// Required reports whether a transition is needed.
func (t Transition) Required() bool {
	return t.Reason != ""
}
