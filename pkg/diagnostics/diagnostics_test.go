package diagnostics

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/engine"
	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

func TestModLatitudeLongitude(t *testing.T) {
	tests := []struct {
		in, lat, lon float64
	}{
		{0, 0, 0},
		{45, 45, 45},
		{95, -85, 95},
		{-95, 85, -95},
		{185, 5, -175},
		{-185, -5, 175},
		{360, 0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.lat, ModLatitude(tt.in), 1e-9, "latitude %v", tt.in)
		assert.InDelta(t, tt.lon, ModLongitude(tt.in), 1e-9, "longitude %v", tt.in)
	}
}

func TestMapData(t *testing.T) {
	data := map[string]any{
		"a": 1.0,
		"nested": map[string]any{
			"a": 2.0,
			"b": 3.0,
		},
		"list": []any{
			map[string]any{"a": 4.0},
			"a",
		},
	}
	double := map[string]Mapper{"a": func(v any) any { return v.(float64) * 2 }}

	got := MapData(data, double)
	assert.Equal(t, map[string]any{
		"a": 2.0,
		"nested": map[string]any{
			"a": 4.0,
			"b": 3.0,
		},
		"list": []any{
			map[string]any{"a": 8.0},
			"a",
		},
	}, got)
	assert.Equal(t, 1.0, data["a"], "input is not modified")

	assert.Equal(t, "plain", MapData("plain", double))
}

func TestRedact(t *testing.T) {
	data := map[string]any{
		"api_key": "secret",
		"vin":     nil,
		"options": map[string]any{"access_token": "t", "name": "car"},
	}
	got := Redact(data, RedactKeys...).(map[string]any)

	assert.Equal(t, Redacted, got["api_key"])
	assert.Nil(t, got["vin"])
	assert.Equal(t, map[string]any{"access_token": Redacted, "name": "car"}, got["options"])
}

func TestExport(t *testing.T) {
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	from := geo.Coordinate{Latitude: 35.054, Longitude: 137.143}
	mid := geo.Coordinate{Latitude: 35.052, Longitude: 137.145}
	to := geo.Coordinate{Latitude: 35.050, Longitude: 137.148}

	clk := clock.NewManualClock(at)
	c := engine.NewCoordinator(engine.EntityConfig{TrackedEntity: "device_tracker.jane"},
		engine.WithCoordinatorClock(clk))
	_, err := c.Apply(context.Background(), movement.LocationChanged{
		Old: movement.Sample{At: at.Add(-time.Minute), Coordinate: movement.Some(from), Accuracy: movement.Some(5.0)},
		New: movement.Sample{At: at, Coordinate: movement.Some(mid), Accuracy: movement.Some(5.0)},
	})
	require.NoError(t, err)

	clk.Set(at.Add(time.Minute))
	_, err = c.Apply(context.Background(), movement.LocationChanged{
		Old: movement.Sample{At: at, Coordinate: movement.Some(mid), Accuracy: movement.Some(5.0)},
		New: movement.Sample{At: at.Add(time.Minute), Coordinate: movement.Some(to), Accuracy: movement.Some(5.0)},
	})
	require.NoError(t, err)

	entry := map[string]any{"title": "Jane", "data": map[string]any{"refresh_token": "abc"}}
	out, err := Export(c, entry, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"title": "Jane", "data": map[string]any{"refresh_token": Redacted}}, out["entry"])
	assert.Contains(t, out, "transition")

	data := out["data"].(map[string]any)
	assert.InDelta(t, c.Data().Distance, data["distance"], 1e-9)

	history := out["history"].([]any)
	require.Len(t, history, 2)
	loc := history[0].(map[string]any)["location"].(map[string]any)
	lat, lon := loc["latitude"].(float64), loc["longitude"].(float64)
	assert.NotEqual(t, to.Latitude, lat)
	assert.NotEqual(t, to.Longitude, lon)
	assert.True(t, lat >= -90 && lat < 90)
	assert.True(t, lon >= -180 && lon < 180)

	// both entries are shifted by the same amount
	prev := history[1].(map[string]any)["location"].(map[string]any)
	assert.InDelta(t, ModLatitude(to.Latitude-mid.Latitude), ModLatitude(lat-prev["latitude"].(float64)), 1e-9)
	assert.InDelta(t, ModLongitude(to.Longitude-mid.Longitude), ModLongitude(lon-prev["longitude"].(float64)), 1e-9)
}
