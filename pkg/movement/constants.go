package movement

import (
	"math"
	"time"
)

const (
	// UpdatesStalledDelta is how long without a distance-adding update before
	// speed is considered stalled.
	UpdatesStalledDelta = 20 * time.Minute

	// SpeedStaleDelta bounds how far back the speed search reaches once GPS
	// drift has been detected.
	SpeedStaleDelta = UpdatesStalledDelta

	// HistoryExpirationDelta is the age at which history entries expire.
	HistoryExpirationDelta = time.Hour

	// SpeedUsableDelta is the minimum age of an entry before it is used for speed.
	SpeedUsableDelta = 45 * time.Second

	// DebounceUpdatesDelta is the gap under which consecutive entries are debounced.
	DebounceUpdatesDelta = 5 * time.Second

	HistoryEntriesMax    = 1000
	TransitionEntriesMax = 1000

	MaxRestoreHistory    = 25
	MaxRestoreTransition = 25

	// InaccurateThreshold is the GPS accuracy in meters above which a sample is ignored.
	InaccurateThreshold = 1000.0
)

// NoAccuracy is the accuracy of an entry whose sample reported none.
var NoAccuracy = math.Inf(1)

// DistanceThresholds is the distance in km that must accumulate before the
// mode may change to the keyed mode.
var DistanceThresholds = map[Mode]float64{
	Walking: 0.0,
	Biking:  1.0,
	Driving: 0.0,
}

// DistanceThreshold returns the commit threshold for m, 0 when none applies.
func DistanceThreshold(m Mode) float64 {
	return DistanceThresholds[m]
}
