package calc

import (
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Speeds in km/h at which each faster mode begins.
const (
	DrivingSpeed = 16.0
	BikingSpeed  = 8.0
)

// ClassifySpeed returns the mode of transit for a speed in km/h.
func ClassifySpeed(kmh float64) movement.Mode {
	switch {
	case kmh >= DrivingSpeed:
		return movement.Driving
	case kmh >= BikingSpeed:
		return movement.Biking
	default:
		return movement.Walking
	}
}

// ProposeMode classifies speed, or returns NoMode when it is unknown or zero.
func ProposeMode(speed movement.Opt[float64]) movement.Mode {
	if v := speed.Or(0); v != 0 {
		return ClassifySpeed(v)
	}
	return movement.NoMode
}

// ModeInput carries what ResolveMode needs to decide between the prior and
// proposed modes.
type ModeInput struct {
	Prior    movement.Mode
	Proposed movement.Mode

	Speed     movement.Opt[float64]
	RecentAvg movement.Opt[float64]
	RecentMax movement.Opt[float64]

	// Distance is the distance of this update in km.
	Distance float64
	// Buffered is the distance in km already held in the transition ledger.
	Buffered float64
}

// ResolveMode applies hysteresis to the proposed mode.
//
// Moving to a faster mode is never suppressed. Moving to a slower one keeps
// the prior mode while recent speeds still classify at or above it. A change
// into a mode with a distance threshold is held back, with a maintain-mode
// transition, until enough distance has been buffered.
func ResolveMode(in ModeInput) (movement.Mode, movement.Transition) {
	var maintain bool
	switch {
	case in.Prior == movement.NoMode:
		maintain = false
	case in.Proposed == movement.NoMode:
		maintain = true
	case in.Proposed.Level() >= in.Prior.Level():
		maintain = false
	default:
		combined := max(in.Speed.Or(0), in.RecentAvg.Or(0), in.RecentMax.Or(0))
		maintain = ClassifySpeed(combined).Level() >= in.Prior.Level()
	}

	if !maintain && in.Proposed != in.Prior {
		threshold := 0.0
		if in.Proposed != movement.NoMode {
			threshold = movement.DistanceThreshold(in.Proposed)
		}
		if in.Distance+in.Buffered < threshold {
			return in.Prior, movement.MaintainMode(in.Prior)
		}
	}

	if maintain {
		return in.Prior, movement.Transition{}
	}
	return in.Proposed, movement.Transition{}
}
