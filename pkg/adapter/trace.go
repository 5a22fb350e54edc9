package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/event"
	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// TracePoint is one recorded tracker report. A point without latitude or
// longitude is a report with no location.
type TracePoint struct {
	At        time.Time             `json:"at"`
	Latitude  movement.Opt[float64] `json:"latitude,omitzero"`
	Longitude movement.Opt[float64] `json:"longitude,omitzero"`
	Accuracy  movement.Opt[float64] `json:"accuracy,omitzero"`
}

// Sample converts the point to a tracker sample.
func (p TracePoint) Sample() movement.Sample {
	s := movement.Sample{At: p.At, Accuracy: p.Accuracy}
	lat, latOK := p.Latitude.Get()
	lon, lonOK := p.Longitude.Get()
	if latOK && lonOK {
		s.Coordinate = movement.Some(geo.Coordinate{Latitude: lat, Longitude: lon})
	}
	return s
}

// ReadTrace decodes a stream of JSON trace points, one value per line.
func ReadTrace(r io.Reader) ([]TracePoint, error) {
	dec := jsontext.NewDecoder(r)
	var points []TracePoint
	for {
		var p TracePoint
		if err := json.UnmarshalDecode(dec, &p); err != nil {
			if errors.Is(err, io.EOF) {
				return points, nil
			}
			return nil, fmt.Errorf("trace point %d: %w", len(points)+1, err)
		}
		if p.At.IsZero() {
			return nil, fmt.Errorf("trace point %d: missing time", len(points)+1)
		}
		if len(points) > 0 && p.At.Before(points[len(points)-1].At) {
			return nil, fmt.Errorf("trace point %d: time goes backwards", len(points)+1)
		}
		points = append(points, p)
	}
}

// Changes converts consecutive trace points into location changes. The first
// point only serves as the from state of the second.
func Changes(points []TracePoint) []movement.LocationChanged {
	if len(points) < 2 {
		return nil
	}
	changes := make([]movement.LocationChanged, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		changes = append(changes, movement.LocationChanged{
			Old: points[i-1].Sample(),
			New: points[i].Sample(),
		})
	}
	return changes
}

// Deltas returns the gaps between consecutive points.
func Deltas(points []TracePoint) []time.Duration {
	if len(points) < 2 {
		return nil
	}
	deltas := make([]time.Duration, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		deltas = append(deltas, points[i].At.Sub(points[i-1].At))
	}
	return deltas
}

// TraceAdapter replays a recorded trace for one tracked entity.
//
// When started with a clock.ReplayClock the clock is loaded with the gaps of
// the trace and advanced before each change is published, so playback speed
// follows the clock's speed setting.
type TraceAdapter struct {
	id     string
	entity string
	points []TracePoint

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewTraceAdapter creates an adapter replaying points as changes of entity.
func NewTraceAdapter(id, entity string, points []TracePoint) *TraceAdapter {
	return &TraceAdapter{
		id:     id,
		entity: entity,
		points: points,
	}
}

// ID returns "trace:" followed by the adapter's name.
func (a *TraceAdapter) ID() string {
	return "trace:" + a.id
}

// Type returns "trace".
func (a *TraceAdapter) Type() string {
	return "trace"
}

// Start begins publishing the trace in the background.
func (a *TraceAdapter) Start(ctx context.Context, bus event.Bus, clk clock.Clock) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return ErrAlreadyStarted
	}
	if len(a.points) < 2 {
		return ErrEmptyTrace
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.err = nil

	replay, _ := clk.(clock.ReplayClock)
	if replay != nil {
		replay.Load(a.points[0].At, Deltas(a.points))
	}

	go a.run(ctx, bus, replay)
	return nil
}

func (a *TraceAdapter) run(ctx context.Context, bus event.Bus, replay clock.ReplayClock) {
	defer close(a.done)

	for i, change := range Changes(a.points) {
		if ctx.Err() != nil {
			return
		}
		if replay != nil {
			replay.Advance()
		}

		evt, err := event.NewChangeEvent(a.entity, a.ID(), change, change.New.At)
		if err == nil {
			err = bus.Publish(ctx, *evt)
		}
		if err != nil {
			if ctx.Err() == nil {
				a.mu.Lock()
				a.err = fmt.Errorf("publish point %d: %w", i+2, err)
				a.mu.Unlock()
			}
			return
		}
	}
}

// Done is closed once the whole trace has been published or the adapter stops.
func (a *TraceAdapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err returns the error that ended playback early, if any.
func (a *TraceAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Stop cancels playback and waits for it to exit.
func (a *TraceAdapter) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()
	<-done
	return nil
}
