// Package geo holds the coordinate type and great-circle math.
package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusKm is the mean earth radius used for all distances.
const EarthRadiusKm = 6371.0

// orb works on its own equatorial radius; lengths are rescaled to the mean one.
const orbScale = EarthRadiusKm * 1000 / orb.EarthRadius

// Coordinate is a GPS position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the coordinate as an orb point (longitude first).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// FromPoint converts an orb point back to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Latitude: p.Lat(), Longitude: p.Lon()}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Distance returns the haversine distance between a and b in kilometers.
func Distance(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point()) * orbScale / 1000
}

// Bounds returns the bounding box of the given coordinates.
func Bounds(coords ...Coordinate) orb.Bound {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		ls = append(ls, c.Point())
	}
	return ls.Bound()
}

// PathLength returns the summed haversine length of the path in kilometers.
func PathLength(coords ...Coordinate) float64 {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		ls = append(ls, c.Point())
	}
	return orbgeo.LengthHaversine(ls) * orbScale / 1000
}

// Offset returns the coordinate reached by moving distanceKm along bearing
// (degrees clockwise from north).
func Offset(c Coordinate, distanceKm, bearing float64) Coordinate {
	return FromPoint(orbgeo.PointAtBearingAndDistance(c.Point(), bearing, distanceKm*1000/orbScale))
}
