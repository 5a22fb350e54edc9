package statistic

import (
	"time"

	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Window sizes of the coordinator statistics.
const (
	UpdateRateMaxAge   = 20 * time.Minute
	SpeedAverageMaxAge = 8 * time.Minute
	SpeedMaximumMaxAge = 3 * time.Minute
)

// Group is the set of statistics kept per tracked entity.
type Group struct {
	UpdateRate     *Statistic // change count per second
	SpeedRecentAvg *Statistic
	SpeedRecentMax *Statistic
}

// NewGroup creates the standard statistics group.
func NewGroup() *Group {
	return &Group{
		UpdateRate:     New(ChangeSecond, 0, UpdateRateMaxAge),
		SpeedRecentAvg: New(AverageLinear, 0, SpeedAverageMaxAge),
		SpeedRecentMax: New(ValueMax, 0, SpeedMaximumMaxAge),
	}
}

// All returns the statistics keyed by name.
func (g *Group) All() map[string]*Statistic {
	return map[string]*Statistic{
		"update_rate":      g.UpdateRate,
		"speed_recent_avg": g.SpeedRecentAvg,
		"speed_recent_max": g.SpeedRecentMax,
	}
}

// Update purges and recomputes every statistic.
func (g *Group) Update(now time.Time) {
	for _, s := range g.All() {
		s.Update(now)
	}
}

// Refresh updates every statistic and returns the names of those whose value
// went from known to unknown.
func (g *Group) Refresh(now time.Time) []string {
	var invalid []string
	for _, name := range []string{"update_rate", "speed_recent_avg", "speed_recent_max"} {
		s := g.All()[name]
		before := s.Value().IsSet()
		s.Update(now)
		if before && !s.Value().IsSet() {
			invalid = append(invalid, name)
		}
	}
	return invalid
}

// SpeedBecameInvalid reports whether any of the names refer to a speed statistic.
func SpeedBecameInvalid(names []string) bool {
	for _, name := range names {
		if name == "speed_recent_avg" || name == "speed_recent_max" {
			return true
		}
	}
	return false
}

// RecordUpdate feeds the statistics after a recalculation. The change count is
// recorded when it changed, the speed when it is known, non-zero and changed.
func (g *Group) RecordUpdate(prior, update movement.MovementData, now time.Time) {
	if update.ChangeCount >= 0 && update.ChangeCount != prior.ChangeCount {
		g.UpdateRate.Add(float64(update.ChangeCount), now)
	}

	speed, ok := update.Speed.Get()
	if !ok || speed == 0 {
		return
	}
	if priorSpeed, priorOK := prior.Speed.Get(); priorOK && priorSpeed == speed {
		return
	}
	g.SpeedRecentAvg.Add(speed, now)
	g.SpeedRecentMax.Add(speed, now)
}

// NextPurge returns the earliest time any statistic will expire a sample.
func (g *Group) NextPurge() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, s := range g.All() {
		t, ok := s.NextPurge()
		if !ok {
			continue
		}
		if !found || t.Before(next) {
			next, found = t, true
		}
	}
	return next, found
}
