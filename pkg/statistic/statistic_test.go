package statistic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/movement/pkg/movement"
)

var t0 = time.Date(2024, 9, 24, 12, 0, 0, 0, time.UTC)

func TestStatistic_Reducers(t *testing.T) {
	tests := []struct {
		name           string
		characteristic Characteristic
		values         []float64
		ages           []float64 // seconds after t0
		want           movement.Opt[float64]
	}{
		{"avg of {5}", AverageLinear, []float64{5}, []float64{1}, movement.Some(5.0)},
		{"avg of {1,2}", AverageLinear, []float64{1, 2}, []float64{0, 1}, movement.Some(1.5)},
		{"avg weights by time", AverageLinear, []float64{0, 10, 10}, []float64{0, 1, 10}, movement.Some(9.5)},
		{"avg of {}", AverageLinear, nil, nil, movement.None[float64]()},
		{"avg over 0s", AverageLinear, []float64{4, 2}, []float64{1, 1}, movement.Some(3.0)},
		{"change/s of {1,2} over 1s", ChangeSecond, []float64{1, 2}, []float64{0, 1}, movement.Some(1.0)},
		{"change/s of {4,2} over 0s", ChangeSecond, []float64{4, 2}, []float64{1, 1}, movement.None[float64]()},
		{"change/s of {}", ChangeSecond, nil, nil, movement.None[float64]()},
		{"max of {1,2}", ValueMax, []float64{1, 2}, []float64{0, 1}, movement.Some(2.0)},
		{"max of {}", ValueMax, nil, nil, movement.None[float64]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.characteristic, 0, 0)
			for i, v := range tt.values {
				s.Add(v, t0.Add(time.Duration(tt.ages[i]*float64(time.Second))))
			}

			want, wantOK := tt.want.Get()
			got, ok := s.Value().Get()
			require.Equal(t, wantOK, ok)
			assert.InDelta(t, want, got, 1e-9)
		})
	}
}

func TestStatistic_Purge(t *testing.T) {
	s := New(ValueMax, 0, 3*time.Minute)

	s.Add(30, t0)
	s.Add(20, t0.Add(time.Minute))

	next, ok := s.NextPurge()
	require.True(t, ok)
	assert.Equal(t, t0.Add(3*time.Minute), next)

	// exactly max age is retained
	s.Update(t0.Add(3 * time.Minute))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 30.0, s.Value().Or(0))

	s.Update(t0.Add(3*time.Minute + time.Second))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 20.0, s.Value().Or(0))

	s.Update(t0.Add(time.Hour))
	assert.Zero(t, s.Len())
	assert.False(t, s.Value().IsSet())

	_, ok = s.NextPurge()
	assert.False(t, ok)
}

func TestStatistic_MaxSize(t *testing.T) {
	s := New(ValueMax, 2, 0)

	s.Add(50, t0)
	s.Add(10, t0.Add(time.Second))
	s.Add(20, t0.Add(2*time.Second))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 20.0, s.Value().Or(0))

	_, ok := s.NextPurge()
	assert.False(t, ok, "unbounded age never schedules a purge")
}

func TestGroup_RecordUpdate(t *testing.T) {
	g := NewGroup()

	prior := movement.InitialData()
	update := movement.MovementData{ChangeCount: 1, Speed: movement.Some(12.0)}
	g.RecordUpdate(prior, update, t0)

	assert.Equal(t, 1, g.UpdateRate.Len())
	assert.Equal(t, 1, g.SpeedRecentAvg.Len())
	assert.Equal(t, 1, g.SpeedRecentMax.Len())

	// unchanged speed and change count add nothing
	g.RecordUpdate(update, update, t0.Add(time.Minute))
	assert.Equal(t, 1, g.UpdateRate.Len())
	assert.Equal(t, 1, g.SpeedRecentMax.Len())

	// a manual adjustment speed of 0 is never recorded
	manual := movement.MovementData{ChangeCount: 0, Speed: movement.Some(0.0)}
	g.RecordUpdate(update, manual, t0.Add(2*time.Minute))
	assert.Equal(t, 1, g.SpeedRecentMax.Len())
	assert.Equal(t, 2, g.UpdateRate.Len())
}

func TestGroup_RefreshReportsInvalidSpeed(t *testing.T) {
	g := NewGroup()
	g.RecordUpdate(movement.InitialData(), movement.MovementData{ChangeCount: 1, Speed: movement.Some(25.0)}, t0)

	next, ok := g.NextPurge()
	require.True(t, ok)
	assert.Equal(t, t0.Add(SpeedMaximumMaxAge), next)

	invalid := g.Refresh(t0.Add(4 * time.Minute))
	assert.Equal(t, []string{"speed_recent_max"}, invalid)
	assert.True(t, SpeedBecameInvalid(invalid))

	invalid = g.Refresh(t0.Add(9 * time.Minute))
	assert.Equal(t, []string{"speed_recent_avg"}, invalid)

	invalid = g.Refresh(t0.Add(10 * time.Minute))
	assert.Empty(t, invalid)
	assert.False(t, SpeedBecameInvalid(invalid))
}
