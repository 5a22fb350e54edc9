package calc

import (
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// RoadType buckets driving speed for distance multipliers.
type RoadType string

const (
	Neighborhood RoadType = "neighborhood"
	Local        RoadType = "local"
	Highway      RoadType = "highway"
)

// Speeds in km/h that bound the road type buckets.
const (
	HighwaySpeed      = 85.0
	NeighborhoodSpeed = 40.0
)

// RoadTypeForSpeed buckets a driving speed.
func RoadTypeForSpeed(kmh float64) RoadType {
	switch {
	case kmh >= HighwaySpeed:
		return Highway
	case kmh < NeighborhoodSpeed:
		return Neighborhood
	default:
		return Local
	}
}

// Multipliers scale driven distance per road type. A missing key is 1.
type Multipliers map[RoadType]float64

// For returns the multiplier for road, 1 when not configured.
func (m Multipliers) For(road RoadType) float64 {
	if v, ok := m[road]; ok {
		return v
	}
	return 1
}

// Policy is the per-entity distance adjustment configuration.
type Policy struct {
	TripAddition float64     `json:"trip_addition" mapstructure:"trip_addition"`
	Multipliers  Multipliers `json:"multipliers" mapstructure:"multipliers"`
}

// Adjust returns the signed adjustment for distance travelled at speed.
// Only driving that is not in transition is adjusted; a trip addition is
// included when the prior mode was not driving.
func (p Policy) Adjust(distance float64, speed movement.Opt[float64], mode, priorMode movement.Mode, transitioning bool) float64 {
	if transitioning || mode != movement.Driving {
		return 0
	}

	multiplier := p.Multipliers.For(RoadTypeForSpeed(speed.Or(0)))
	adjustment := distance*multiplier - distance
	if priorMode != movement.Driving {
		adjustment += p.TripAddition
	}
	return adjustment
}
