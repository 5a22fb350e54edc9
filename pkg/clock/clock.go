package clock

import (
	"sync"
	"time"
)

// Clock provides wall time to the engine.
// History pruning, speed deltas, statistics purging and trip starts all read
// time through a Clock so a recorded trace can be replayed deterministically.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Since returns the duration elapsed since t
	Since(t time.Time) time.Duration
}

// SystemClock reads the system clock.
type SystemClock struct{}

// NewSystemClock creates a new SystemClock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current system time in UTC.
func (s *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the duration elapsed since t.
func (s *SystemClock) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock creates a ManualClock positioned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (m *ManualClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Since returns the duration elapsed since t.
func (m *ManualClock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Set moves the clock to t.
func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock forward by d.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// NextLocalMidnight returns the start of the day after t in t's location.
func NextLocalMidnight(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, t.Location())
}
