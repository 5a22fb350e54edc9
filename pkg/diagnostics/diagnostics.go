// Package diagnostics builds a shareable dump of a tracked entity. Secrets are
// redacted and coordinates are shifted by a random offset so the dump does not
// reveal where the tracker has been.
package diagnostics

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-json-experiment/json"

	"github.com/BYTE-6D65/movement/pkg/engine"
)

// Redacted replaces the value of every redacted key.
const Redacted = "**REDACTED**"

// RedactKeys are the keys whose values never leave the host.
var RedactKeys = []string{"api_key", "access_token", "refresh_token", "vin"}

// Mapper transforms the value stored under a key.
type Mapper func(any) any

// Dump is the unredacted content of a diagnostics export.
type Dump struct {
	Entry      map[string]any      `json:"entry"`
	Config     engine.EntityConfig `json:"config"`
	Data       any                 `json:"data"`
	History    any                 `json:"history"`
	Transition any                 `json:"transition"`
	Statistics any                 `json:"statistics"`
}

// Export returns the diagnostics of c. entry is host supplied data about the
// entity, such as its integration settings, and is redacted like the rest.
// rng picks the coordinate offset; nil uses the global source.
func Export(c *engine.Coordinator, entry map[string]any, rng *rand.Rand) (map[string]any, error) {
	dump := Dump{
		Entry:      entry,
		Config:     c.Config(),
		Data:       c.Data(),
		History:    c.History(),
		Statistics: c.Statistics(),
	}
	// nil marks no transition under way and must survive as null
	if items := c.Transition(); items != nil {
		dump.Transition = items
	}

	b, err := json.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("encode diagnostics of %s: %w", c.Entity(), err)
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("decode diagnostics of %s: %w", c.Entity(), err)
	}

	uniform := rand.Float64
	if rng != nil {
		uniform = rng.Float64
	}
	addLatitude := uniform() * 180
	addLongitude := uniform() * 360

	out := MapData(Redact(tree, RedactKeys...), map[string]Mapper{
		"latitude":  shift(addLatitude, ModLatitude),
		"longitude": shift(addLongitude, ModLongitude),
	})
	return out.(map[string]any), nil
}

func shift(by float64, wrap func(float64) float64) Mapper {
	return func(v any) any {
		f, ok := v.(float64)
		if !ok {
			return v
		}
		return wrap(f + by)
	}
}

// Redact returns a copy of data with the values of keys replaced, at any depth.
func Redact(data any, keys ...string) any {
	mappers := make(map[string]Mapper, len(keys))
	for _, key := range keys {
		mappers[key] = func(v any) any {
			if v == nil {
				return nil
			}
			return Redacted
		}
	}
	return MapData(data, mappers)
}

// MapData returns a copy of data with mappers applied to matching keys of
// every nested map, including maps inside slices. A mapped value is not
// descended into.
func MapData(data any, mappers map[string]Mapper) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if mapper, ok := mappers[key]; ok {
				out[key] = mapper(value)
				continue
			}
			out[key] = MapData(value, mappers)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = MapData(value, mappers)
		}
		return out
	default:
		return data
	}
}

// ModLatitude wraps a latitude into [-90, 90).
func ModLatitude(v float64) float64 {
	return floorMod(90+v, 180) - 90
}

// ModLongitude wraps a longitude into [-180, 180).
func ModLongitude(v float64) float64 {
	return floorMod(180+v, 360) - 180
}

func floorMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r < 0 {
		r += b
	}
	return r
}
