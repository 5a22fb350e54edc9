package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/movement/pkg/calc"
	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/history"
	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
	"github.com/BYTE-6D65/movement/pkg/registry"
	"github.com/BYTE-6D65/movement/pkg/statistic"
	"github.com/BYTE-6D65/movement/pkg/transition"
)

// ErrRecalcInFlight is returned when Apply is called while another
// recalculation on the same coordinator has not finished.
var ErrRecalcInFlight = errors.New("engine: recalculation already in flight")

// EntityConfig configures one tracked entity.
type EntityConfig struct {
	TrackedEntity     string      `json:"tracked_entity" mapstructure:"tracked_entity"`
	DependentEntities []string    `json:"dependent_entities,omitempty" mapstructure:"dependent_entities"`
	Policy            calc.Policy `json:"policy" mapstructure:",squash"`
}

// Schedule tells the host when to feed timer events back in.
type Schedule struct {
	// StatisticsRefreshAt is when the next statistic sample expires. Missing
	// when no samples are held.
	StatisticsRefreshAt movement.Opt[time.Time]

	// StallAt is set when the stall timer should be (re)started.
	StallAt movement.Opt[time.Time]

	// ResetAt is the next local midnight.
	ResetAt time.Time
}

// Result is the outcome of one recalculation.
type Result struct {
	Entity string
	At     time.Time
	Change movement.Change

	Prior movement.MovementData
	Data  movement.MovementData

	Walking movement.TypedMovementData
	Biking  movement.TypedMovementData
	Driving movement.TypedMovementData

	History    []movement.HistoryEntry
	Transition []movement.TransitionEntry

	// Skipped is set when the location update was unworkable and Reason
	// holds why. Otherwise Reason is the transition reason, if any.
	Skipped bool
	Reason  string

	Dependents      []DependentUpdate
	DependentErrors []error

	Schedule Schedule
}

// Coordinator runs recalculations for one tracked entity. It is not safe for
// concurrent use; the Engine serializes delivery per entity.
type Coordinator struct {
	cfg    EntityConfig
	clock  clock.Clock
	logger *slog.Logger

	history    *history.Registry
	ledger     *transition.Ledger
	statistics *statistic.Group
	dependents *registry.Registry[DependentState]

	data    movement.MovementData
	walking movement.TypedMovementData
	biking  movement.TypedMovementData
	driving movement.TypedMovementData

	running atomic.Bool
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock sets the clock used to stamp history and statistics.
func WithCoordinatorClock(clk clock.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithDependentStates sets the registry holding dependent entity states.
func WithDependentStates(reg *registry.Registry[DependentState]) CoordinatorOption {
	return func(c *Coordinator) {
		c.dependents = reg
	}
}

// NewCoordinator creates a coordinator in its initial state.
func NewCoordinator(cfg EntityConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		clock:      clock.NewSystemClock(),
		logger:     logging.Logger(),
		ledger:     transition.New(),
		statistics: statistic.NewGroup(),
		dependents: registry.New[DependentState](),
		data:       movement.InitialData(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("entity", cfg.TrackedEntity)
	c.history = history.NewRegistry(c.clock, history.WithLogger(c.logger))
	return c
}

// Entity returns the tracked entity id.
func (c *Coordinator) Entity() string {
	return c.cfg.TrackedEntity
}

// Config returns the entity configuration.
func (c *Coordinator) Config() EntityConfig {
	return c.cfg
}

// Data returns the committed movement data.
func (c *Coordinator) Data() movement.MovementData {
	return c.data
}

// Typed returns the committed accumulator for mode.
func (c *Coordinator) Typed(mode movement.Mode) movement.TypedMovementData {
	switch mode {
	case movement.Walking:
		return c.walking
	case movement.Biking:
		return c.biking
	case movement.Driving:
		return c.driving
	}
	return movement.TypedMovementData{}
}

// History returns the location history, newest first.
func (c *Coordinator) History() []movement.HistoryEntry {
	return c.history.Items()
}

// Transition returns the transition ledger entries.
func (c *Coordinator) Transition() []movement.TransitionEntry {
	return c.ledger.Items()
}

// Statistics returns the current value of each rolling statistic.
func (c *Coordinator) Statistics() map[string]movement.Opt[float64] {
	values := make(map[string]movement.Opt[float64])
	for name, s := range c.statistics.All() {
		values[name] = s.Value()
	}
	return values
}

// Restore replaces the state with a persisted snapshot. History and
// transition are capped, and the prior views of both stay unavailable until
// the next recalculation.
func (c *Coordinator) Restore(data movement.MovementData, hist []movement.HistoryEntry, items []movement.TransitionEntry) {
	if len(hist) > movement.MaxRestoreHistory {
		hist = hist[:movement.MaxRestoreHistory]
	}
	if len(items) > movement.MaxRestoreTransition {
		items = items[:movement.MaxRestoreTransition]
	}
	c.data = data
	c.history.Reset(hist)
	c.ledger.Reset(items)
}

// RestoreTyped replaces the accumulator for mode.
func (c *Coordinator) RestoreTyped(mode movement.Mode, data movement.TypedMovementData) {
	switch mode {
	case movement.Walking:
		c.walking = data
	case movement.Biking:
		c.biking = data
	case movement.Driving:
		c.driving = data
	}
	c.data.ChangeCount = max(c.data.ChangeCount, 0)
}

// Apply runs one recalculation for change and commits the result.
func (c *Coordinator) Apply(ctx context.Context, change movement.Change) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrRecalcInFlight
	}
	defer c.running.Store(false)

	return c.apply(change)
}

// RefreshStatistics expires old statistic samples. When a speed statistic
// became unknown it runs a SpeedStale recalculation and reports true.
// Otherwise the returned result only carries the new schedule.
func (c *Coordinator) RefreshStatistics(ctx context.Context) (Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, false, err
	}
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, false, ErrRecalcInFlight
	}
	defer c.running.Store(false)

	now := c.clock.Now()
	invalid := c.statistics.Refresh(now)
	if statistic.SpeedBecameInvalid(invalid) {
		c.logger.Debug("speed statistics became invalid", "statistics", invalid)
		result, err := c.apply(movement.SpeedStale{})
		return result, true, err
	}

	result := c.snapshot(now)
	result.Schedule = Schedule{
		StatisticsRefreshAt: c.nextStatisticsRefresh(),
		ResetAt:             clock.NextLocalMidnight(now),
	}
	return result, false, nil
}

func (c *Coordinator) apply(change movement.Change) (Result, error) {
	now := c.clock.Now()
	c.statistics.Update(now)

	data := c.data

	c.ledger.Begin()
	update, reason, err := c.recalculate(change, data, now)
	var skip *movement.SkipUpdate
	switch {
	case errors.As(err, &skip):
		update = data
		update.IgnoreCount++
		reason = skip.Reason
		c.logger.Debug("skipping update", "reason", skip.Reason)
	case err != nil:
		c.ledger.End()
		return Result{}, fmt.Errorf("recalculate %s: %w", change.ChangeType(), err)
	default:
		c.logger.Debug("final data after update",
			"distance", update.Distance,
			"adjustments", update.Adjustments,
			"speed", update.Speed,
			"mode", update.Mode,
			"change_count", update.ChangeCount)
	}
	c.ledger.End()

	items := c.ledger.Items()
	priorItems, _ := c.ledger.Prior()
	_, reset := change.(movement.ResetRequest)

	var (
		dependents []DependentUpdate
		depErrs    []error
	)
	if skip == nil {
		typed := func(mode movement.Mode, current movement.TypedMovementData) movement.TypedMovementData {
			return calc.TypedUpdate(calc.TypedInput{
				ModeType:   mode,
				Data:       current,
				Reset:      reset,
				Prior:      data,
				Update:     update,
				Items:      items,
				PriorItems: priorItems,
				Now:        now,
			})
		}
		c.walking = typed(movement.Walking, c.walking)
		c.biking = typed(movement.Biking, c.biking)
		c.driving = typed(movement.Driving, c.driving)

		dependents, depErrs = c.notifyDependents(change, data, update, items, priorItems, now)
	}

	c.statistics.RecordUpdate(data, update, now)

	schedule := Schedule{
		StatisticsRefreshAt: c.nextStatisticsRefresh(),
		ResetAt:             clock.NextLocalMidnight(now),
	}
	distanceAdded := update.Distance > data.Distance
	transitionStarting := len(items) == 1
	continuing := len(items) > max(1, len(priorItems))
	if !continuing && (distanceAdded || transitionStarting) {
		schedule.StallAt = movement.Some(now.Add(movement.UpdatesStalledDelta))
	}

	c.data = update

	result := c.snapshot(now)
	result.Change = change
	result.Prior = data
	result.Skipped = skip != nil
	result.Reason = reason
	result.Dependents = dependents
	result.DependentErrors = depErrs
	result.Schedule = schedule
	return result, nil
}

// recalculate computes the update for change from data. A *movement.SkipUpdate
// error means the location sample was unworkable.
func (c *Coordinator) recalculate(change movement.Change, data movement.MovementData, now time.Time) (movement.MovementData, string, error) {
	update := data
	update.Distance = 0
	update.Adjustments = 0

	var (
		transitioning bool
		reason        string
	)

	if lc, ok := change.(movement.LocationChanged); ok {
		if err := c.history.Add(lc); err != nil {
			return update, "", err
		}

		distance, err := calc.Distance(c.history)
		if err != nil {
			return update, "", fmt.Errorf("distance: %w", err)
		}
		update.Distance = distance

		estimate, err := calc.EstimateSpeed(data, distance, c.history, now)
		if err != nil {
			return update, "", fmt.Errorf("speed: %w", err)
		}
		switch {
		case estimate.Transition.Required():
			transitioning = true
			reason = estimate.Transition.Reason
			c.logger.Debug("speed requires transition", "reason", reason, "speed", update.Speed)
		case estimate.Cleared:
			update.Speed = movement.None[float64]()
		case estimate.Speed.IsSet():
			update.Speed = estimate.Speed
		}
	}

	proposed := calc.ProposeMode(update.Speed)
	mode, modeTransition := calc.ResolveMode(calc.ModeInput{
		Prior:     data.Mode,
		Proposed:  proposed,
		Speed:     update.Speed,
		RecentAvg: c.statistics.SpeedRecentAvg.Value(),
		RecentMax: c.statistics.SpeedRecentMax.Value(),
		Distance:  update.Distance,
		Buffered:  buffered(c.ledger.Items()),
	})
	update.Mode = mode
	if modeTransition.Required() {
		transitioning = true
		reason = modeTransition.Reason
		c.logger.Debug("mode requires transition", "reason", reason, "mode", mode)
	}
	c.logger.Debug("mode of transit", "proposed", proposed, "mode", update.Mode)

	update.Adjustments = c.cfg.Policy.Adjust(update.Distance, update.Speed, update.Mode, data.Mode, transitioning)

	// a speed of 0 marks the values as set by hand and keeps the mode
	adjustment, manual := change.(movement.ManualAdjustment)
	if manual {
		update.Distance = adjustment.Distance
		update.Adjustments = adjustment.Adjustments
		update.Mode = adjustment.Mode
		update.Speed = movement.Some(0.0)
		update.ChangeCount = 0
		update.IgnoreCount = 0
	}

	update.Adjustments = c.ledger.Process(update, transitioning, c.cfg.Policy)

	totalDistance := data.Distance + update.Distance + update.Adjustments
	totalAdjustments := data.Adjustments + update.Adjustments

	switch change.(type) {
	case movement.ResetRequest:
		totalDistance = 0
		totalAdjustments = 0
		update.Speed = movement.None[float64]()
		update.IgnoreCount = 0
		c.ledger.Clear()
	case movement.UpdatesStalled:
		update.Speed = movement.None[float64]()
		c.ledger.Clear()
	}

	if !update.Speed.IsSet() {
		update.Mode = movement.NoMode
	}

	update.Distance = totalDistance
	update.Adjustments = totalAdjustments

	if update.Distance != data.Distance && !manual {
		update.ChangeCount = max(update.ChangeCount, 0) + 1
	}

	return update, reason, nil
}

func (c *Coordinator) snapshot(now time.Time) Result {
	return Result{
		Entity:     c.cfg.TrackedEntity,
		At:         now,
		Prior:      c.data,
		Data:       c.data,
		Walking:    c.walking,
		Biking:     c.biking,
		Driving:    c.driving,
		History:    c.history.Items(),
		Transition: c.ledger.Items(),
	}
}

func (c *Coordinator) nextStatisticsRefresh() movement.Opt[time.Time] {
	if next, ok := c.statistics.NextPurge(); ok {
		return movement.Some(next)
	}
	return movement.None[time.Time]()
}

func buffered(items []movement.TransitionEntry) float64 {
	var total float64
	for _, item := range items {
		total += item.Distance
	}
	return total
}
