package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/BYTE-6D65/movement/pkg/movement"
)

// TimerKind names one of the timers a host runs per tracked entity.
type TimerKind string

const (
	TimerStatistics TimerKind = "statistics"
	TimerStall      TimerKind = "stall"
	TimerReset      TimerKind = "reset"
)

// Change returns the change fed back in when the timer fires. The statistics
// timer goes through Coordinator.RefreshStatistics and may not recalculate at
// all; its change is what runs when it does.
func (k TimerKind) Change() movement.Change {
	switch k {
	case TimerStall:
		return movement.UpdatesStalled{}
	case TimerReset:
		return movement.ResetRequest{}
	default:
		return movement.SpeedStale{}
	}
}

// Timers tracks the pending timers of one entity from the schedules reported
// by its results.
type Timers struct {
	mu      sync.Mutex
	pending map[TimerKind]time.Time
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{pending: make(map[TimerKind]time.Time)}
}

// Observe updates the timers from result. The statistics timer always follows
// the reported schedule. The stall timer is restarted when the result asks
// for it and started when none is pending. The reset timer is only started
// when none is pending.
func (t *Timers) Observe(result Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at, ok := result.Schedule.StatisticsRefreshAt.Get(); ok {
		t.pending[TimerStatistics] = at
	} else {
		delete(t.pending, TimerStatistics)
	}

	// a statistics refresh that did not recalculate leaves the others alone
	if result.Change == nil {
		return
	}

	if at, ok := result.Schedule.StallAt.Get(); ok {
		t.pending[TimerStall] = at
	} else if _, ok := t.pending[TimerStall]; !ok {
		t.pending[TimerStall] = result.At.Add(movement.UpdatesStalledDelta)
	}

	if _, ok := t.pending[TimerReset]; !ok && !result.Schedule.ResetAt.IsZero() {
		t.pending[TimerReset] = result.Schedule.ResetAt
	}
}

// Due removes and returns the timers due at now, earliest first.
func (t *Timers) Due(now time.Time) []TimerKind {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []TimerKind
	for kind, at := range t.pending {
		if !at.After(now) {
			due = append(due, kind)
		}
	}
	slices.SortFunc(due, func(a, b TimerKind) int {
		if c := t.pending[a].Compare(t.pending[b]); c != 0 {
			return c
		}
		return timerOrder(a) - timerOrder(b)
	})
	for _, kind := range due {
		delete(t.pending, kind)
	}
	return due
}

// Pending returns when kind fires, if it is pending.
func (t *Timers) Pending(kind TimerKind) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.pending[kind]
	return at, ok
}

// Next returns the earliest pending timer.
func (t *Timers) Next() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		next  time.Time
		found bool
	)
	for _, at := range t.pending {
		if !found || at.Before(next) {
			next, found = at, true
		}
	}
	return next, found
}

func timerOrder(k TimerKind) int {
	switch k {
	case TimerStatistics:
		return 0
	case TimerStall:
		return 1
	default:
		return 2
	}
}
