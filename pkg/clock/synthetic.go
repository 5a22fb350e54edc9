package clock

import (
	"sync"
	"time"
)

// ReplayClock steps through the gaps between samples of a recorded GPS trace.
// It can sleep in (scaled) real time between steps or run as fast as possible.
type ReplayClock interface {
	Clock

	// Load positions the clock at start with a sequence of gaps to step through
	Load(start time.Time, deltas []time.Duration)

	// Advance moves to the next gap, optionally sleeping in real time
	Advance()

	// SetSpeed sets the playback speed multiplier (1.0 = real time, 60 = a minute per second)
	SetSpeed(mult float64)

	// SetNoSleep disables real-time sleeping
	SetNoSleep(noSleep bool)

	// Reset rewinds to the start time
	Reset()

	// HasNext returns true if there are more gaps to step through
	HasNext() bool
}

// DeltaClock implements ReplayClock.
type DeltaClock struct {
	mu sync.RWMutex

	start   time.Time
	deltas  []time.Duration
	current time.Time
	index   int
	speed   float64
	noSleep bool
}

// NewDeltaClock creates a DeltaClock at the zero time with real-time playback.
func NewDeltaClock() *DeltaClock {
	return &DeltaClock{speed: 1.0}
}

// Load positions the clock at start with the given gaps.
func (d *DeltaClock) Load(start time.Time, deltas []time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.start = start
	d.current = start
	d.deltas = make([]time.Duration, len(deltas))
	copy(d.deltas, deltas)
	d.index = 0
}

// Now returns the replay position.
func (d *DeltaClock) Now() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Since returns the duration elapsed since t at the replay position.
func (d *DeltaClock) Since(t time.Time) time.Duration {
	return d.Now().Sub(t)
}

// Advance moves to the next gap in the sequence.
// Unless noSleep is set it sleeps for the gap scaled by the speed multiplier.
func (d *DeltaClock) Advance() {
	d.mu.Lock()

	if d.index >= len(d.deltas) {
		d.mu.Unlock()
		return
	}

	delta := d.deltas[d.index]
	d.index++

	var sleepDuration time.Duration
	if !d.noSleep && d.speed > 0 {
		sleepDuration = time.Duration(float64(delta) / d.speed)
	}

	d.current = d.current.Add(delta)

	d.mu.Unlock()

	// Sleep outside the lock
	if sleepDuration > 0 {
		time.Sleep(sleepDuration)
	}
}

// SetSpeed sets the playback speed multiplier. Negative values reset it to 1.
func (d *DeltaClock) SetSpeed(mult float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mult < 0 {
		mult = 1.0
	}
	d.speed = mult
}

// SetNoSleep enables or disables real-time sleeping.
func (d *DeltaClock) SetNoSleep(noSleep bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noSleep = noSleep
}

// Reset rewinds to the start time.
func (d *DeltaClock) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = d.start
	d.index = 0
}

// HasNext returns true if there are more gaps to advance through.
func (d *DeltaClock) HasNext() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index < len(d.deltas)
}

// CurrentIndex returns the current position in the gap sequence.
func (d *DeltaClock) CurrentIndex() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index
}

// AdvanceAll advances through all remaining gaps.
func (d *DeltaClock) AdvanceAll() {
	for d.HasNext() {
		d.Advance()
	}
}

// RemainingDeltas returns the number of gaps left.
func (d *DeltaClock) RemainingDeltas() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.deltas) - d.index
}
