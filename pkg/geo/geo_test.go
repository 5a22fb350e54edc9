package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	home := Coordinate{Latitude: 35.054, Longitude: 137.143}
	park := Coordinate{Latitude: 35.052, Longitude: 137.145}

	d := Distance(home, park)

	// roughly 288m between the two points
	assert.InDelta(t, 0.288, d, 0.005)
	assert.InDelta(t, d, Distance(park, home), 1e-12, "distance is symmetric")
	assert.Zero(t, Distance(home, home))
}

func TestDistance_Equator(t *testing.T) {
	// one degree of longitude on the equator
	d := Distance(Coordinate{0, 0}, Coordinate{0, 1})
	want := 2 * math.Pi * 6371 / 360

	assert.InDelta(t, want, d, 1e-6)
}

func TestDistance_MeanRadius(t *testing.T) {
	home := Coordinate{Latitude: 35.054, Longitude: 137.143}
	park := Coordinate{Latitude: 35.052, Longitude: 137.145}

	// haversine on a 6371 km sphere
	lat1, lat2 := home.Latitude*math.Pi/180, park.Latitude*math.Pi/180
	dLat := lat2 - lat1
	dLon := (park.Longitude - home.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	want := 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))

	assert.InDelta(t, 0.287403, want, 1e-6)
	assert.InDelta(t, want, Distance(home, park), 1e-9)
}

func TestPathLength(t *testing.T) {
	a := Coordinate{Latitude: 35.054, Longitude: 137.143}
	b := Coordinate{Latitude: 35.052, Longitude: 137.145}
	c := Coordinate{Latitude: 35.050, Longitude: 137.147}

	assert.InDelta(t, Distance(a, b)+Distance(b, c), PathLength(a, b, c), 1e-9)
	assert.Zero(t, PathLength(a))
}

func TestOffset(t *testing.T) {
	start := Coordinate{Latitude: 35.054, Longitude: 137.143}

	moved := Offset(start, 1.5, 90)

	assert.InDelta(t, 1.5, Distance(start, moved), 1e-6)
	assert.Greater(t, moved.Longitude, start.Longitude, "east moves longitude up")
}

func TestBounds(t *testing.T) {
	b := Bounds(
		Coordinate{Latitude: 35.054, Longitude: 137.143},
		Coordinate{Latitude: 35.050, Longitude: 137.147},
	)

	assert.InDelta(t, 35.050, b.Min.Lat(), 1e-9)
	assert.InDelta(t, 137.147, b.Max.Lon(), 1e-9)
}
