// Package statistic implements time-windowed rolling aggregates.
package statistic

import (
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Characteristic selects the aggregate a Statistic computes.
type Characteristic string

const (
	AverageLinear Characteristic = "average_linear"
	ChangeSecond  Characteristic = "change_second"
	ValueMax      Characteristic = "value_max"
)

type reducer func(values, ages []float64) movement.Opt[float64]

var reducers = map[Characteristic]reducer{
	AverageLinear: averageLinear,
	ChangeSecond:  changeSecond,
	ValueMax:      valueMax,
}

// averageLinear is the time-weighted mean of the samples.
func averageLinear(values, ages []float64) movement.Opt[float64] {
	switch {
	case len(values) == 0:
		return movement.None[float64]()
	case len(values) == 1:
		return movement.Some(values[0])
	}
	span := ages[len(ages)-1] - ages[0]
	if span <= 0 || !sort.Float64sAreSorted(ages) {
		return movement.Some(stat.Mean(values, nil))
	}
	return movement.Some(integrate.Trapezoidal(ages, values) / span)
}

// changeSecond is the rate of change per second between the first and last sample.
func changeSecond(values, ages []float64) movement.Opt[float64] {
	if len(values) < 2 {
		return movement.None[float64]()
	}
	span := ages[len(ages)-1] - ages[0]
	if span <= 0 {
		return movement.None[float64]()
	}
	return movement.Some((values[len(values)-1] - values[0]) / span)
}

func valueMax(values, _ []float64) movement.Opt[float64] {
	if len(values) == 0 {
		return movement.None[float64]()
	}
	return movement.Some(floats.Max(values))
}

// Statistic aggregates (value, timestamp) samples within a maximum age.
// It is not safe for concurrent use; the owning coordinator serializes access.
type Statistic struct {
	characteristic Characteristic
	reduce         reducer
	maxSize        int           // 0 means unbounded
	maxAge         time.Duration // 0 means samples never expire

	values []float64
	times  []time.Time
	value  movement.Opt[float64]
	logger *slog.Logger
}

// New creates a Statistic. A maxSize of 0 keeps every sample; a maxAge of 0
// never purges.
func New(characteristic Characteristic, maxSize int, maxAge time.Duration) *Statistic {
	reduce, ok := reducers[characteristic]
	if !ok {
		panic("statistic: unknown characteristic " + string(characteristic))
	}
	return &Statistic{
		characteristic: characteristic,
		reduce:         reduce,
		maxSize:        maxSize,
		maxAge:         maxAge,
		logger:         logging.Logger().With("statistic", string(characteristic)),
	}
}

// Characteristic returns the aggregate the statistic computes.
func (s *Statistic) Characteristic() Characteristic {
	return s.characteristic
}

// Value returns the last computed aggregate.
func (s *Statistic) Value() movement.Opt[float64] {
	return s.value
}

// Len returns the number of retained samples.
func (s *Statistic) Len() int {
	return len(s.values)
}

// Add appends a sample taken at `at` and recomputes as of that time.
func (s *Statistic) Add(value float64, at time.Time) {
	s.values = append(s.values, value)
	s.times = append(s.times, at)
	if s.maxSize > 0 && len(s.values) > s.maxSize {
		drop := len(s.values) - s.maxSize
		s.values = s.values[drop:]
		s.times = s.times[drop:]
	}
	s.Update(at)
}

// Update purges samples older than the max age as of now and recomputes.
func (s *Statistic) Update(now time.Time) {
	if s.maxAge > 0 {
		s.purge(now)
	}
	s.value = s.reduce(s.values, s.ages())
	s.logger.Debug("updated value", "samples", len(s.values), "value", s.value.Or(-1), "known", s.value.IsSet())
}

func (s *Statistic) purge(now time.Time) {
	n := 0
	for n < len(s.times) && now.Sub(s.times[n]) > s.maxAge {
		n++
	}
	if n > 0 {
		s.logger.Debug("purging samples", "count", n, "older_than", now.Add(-s.maxAge))
		s.values = append(s.values[:0:0], s.values[n:]...)
		s.times = append(s.times[:0:0], s.times[n:]...)
	}
}

// ages returns sample times as seconds since the oldest sample.
func (s *Statistic) ages() []float64 {
	ages := make([]float64, len(s.times))
	for i, t := range s.times {
		ages[i] = t.Sub(s.times[0]).Seconds()
	}
	return ages
}

// NextPurge returns when the oldest sample will expire.
func (s *Statistic) NextPurge() (time.Time, bool) {
	if len(s.times) == 0 || s.maxAge <= 0 {
		return time.Time{}, false
	}
	return s.times[0].Add(s.maxAge), true
}
