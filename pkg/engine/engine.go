package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/event"
	"github.com/BYTE-6D65/movement/pkg/logging"
	"github.com/BYTE-6D65/movement/pkg/movement"
	"github.com/BYTE-6D65/movement/pkg/registry"
	"github.com/BYTE-6D65/movement/pkg/statemachine"
	"github.com/BYTE-6D65/movement/pkg/store"
	"github.com/BYTE-6D65/movement/pkg/telemetry"
)

// Source is the event source of everything the engine publishes.
const Source = "movement.engine"

// Engine owns one Coordinator per tracked entity. Change events arrive on the
// input bus, are applied one at a time per entity, and the results are
// persisted and published on the output bus.
type Engine struct {
	inputBus  event.Bus
	outputBus event.Bus
	errorBus  *event.ErrorBus
	clock     clock.Clock
	store     *store.Store
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	journal   *Journal

	coordinators *registry.Registry[*Coordinator]
	dependents   *registry.Registry[DependentState]
	timers       *registry.Registry[*Timers]
	locks        *registry.Registry[*sync.Mutex]
	workers      *registry.Registry[event.Subscription]

	mu        sync.Mutex
	lifecycle *statemachine.Machine[State, lifecycleEvent]
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithInputBus sets the bus change events are read from.
func WithInputBus(bus event.Bus) EngineOption {
	return func(e *Engine) {
		e.inputBus = bus
	}
}

// WithOutputBus sets the bus results are published to.
func WithOutputBus(bus event.Bus) EngineOption {
	return func(e *Engine) {
		e.outputBus = bus
	}
}

// WithErrorBus sets the bus for host-visible problems.
func WithErrorBus(bus *event.ErrorBus) EngineOption {
	return func(e *Engine) {
		e.errorBus = bus
	}
}

// WithClock sets the clock implementation.
func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithStore enables persistence of snapshots and dependent states.
func WithStore(s *store.Store) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithDependents sets the registry of dependent entity states.
func WithDependents(reg *registry.Registry[DependentState]) EngineOption {
	return func(e *Engine) {
		e.dependents = reg
	}
}

// WithJournal sets the journal recalculations are recorded in.
func WithJournal(j *Journal) EngineOption {
	return func(e *Engine) {
		e.journal = j
	}
}

// New creates a new Engine with sensible defaults.
// Default configuration:
// - InputBus: InMemoryBus with 64 buffer, drop-slow disabled
// - OutputBus: InMemoryBus with 128 buffer, drop-slow enabled
// - ErrorBus: 32 buffer
// - Clock: SystemClock
// - Store, Metrics: disabled
func New(opts ...EngineOption) *Engine {
	engine := &Engine{
		errorBus:     event.NewErrorBus(32),
		clock:        clock.NewSystemClock(),
		logger:       logging.Logger(),
		journal:      NewJournal(100),
		coordinators: registry.New[*Coordinator](),
		dependents:   registry.New[DependentState](),
		timers:       registry.New[*Timers](),
		locks:        registry.New[*sync.Mutex](),
		workers:      registry.New[event.Subscription](),
	}

	for _, opt := range opts {
		opt(engine)
	}
	engine.lifecycle = engine.newLifecycle()

	var busOpts []event.BusOption
	if engine.metrics != nil {
		busOpts = append(busOpts, event.WithObserver(engine.metrics))
	}
	if engine.inputBus == nil {
		engine.inputBus = event.NewInMemoryBus(append(busOpts,
			event.WithBufferSize(64),
			event.WithDropSlow(false),
			event.WithBusName("input"),
		)...)
	}
	if engine.outputBus == nil {
		engine.outputBus = event.NewInMemoryBus(append(busOpts,
			event.WithBufferSize(128),
			event.WithDropSlow(true),
			event.WithBusName("output"),
		)...)
	}

	return engine
}

// NewFromConfig builds an engine from cfg, opening the store when a database
// path is configured, and tracks every configured entity.
func NewFromConfig(ctx context.Context, cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(os.Stderr, level)

	var busOpts []event.BusOption
	base := []EngineOption{
		WithLogger(logger),
		WithErrorBus(event.NewErrorBus(cfg.ErrorBusBufferSize)),
		WithJournal(NewJournal(cfg.JournalSize)),
	}
	if cfg.MetricsEnabled {
		metrics := telemetry.Default()
		base = append(base, WithMetrics(metrics))
		busOpts = append(busOpts, event.WithObserver(metrics))
	}
	base = append(base,
		WithInputBus(event.NewInMemoryBus(append(busOpts,
			event.WithBufferSize(cfg.InputBufferSize),
			event.WithDropSlow(false),
			event.WithBusName("input"),
		)...)),
		WithOutputBus(event.NewInMemoryBus(append(busOpts,
			event.WithBufferSize(cfg.OutputBufferSize),
			event.WithDropSlow(true),
			event.WithBusName("output"),
		)...)),
	)
	if cfg.DBPath != "" {
		s, err := store.Open(cfg.DBPath, store.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		base = append(base, WithStore(s))
	}

	e := New(append(base, opts...)...)
	for _, entity := range cfg.Entities {
		if err := e.Track(ctx, entity); err != nil {
			if e.store != nil {
				e.store.Close()
			}
			return nil, err
		}
	}
	return e, nil
}

// InputBus returns the bus change events are read from.
func (e *Engine) InputBus() event.Bus {
	return e.inputBus
}

// OutputBus returns the bus results are published to.
func (e *Engine) OutputBus() event.Bus {
	return e.outputBus
}

// ErrorBus returns the error bus.
func (e *Engine) ErrorBus() *event.ErrorBus {
	return e.errorBus
}

// Clock returns the clock implementation.
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

// Journal returns the recalculation journal.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// Dependents returns the registry of dependent entity states.
func (e *Engine) Dependents() *registry.Registry[DependentState] {
	return e.dependents
}

// Entities returns the tracked entity ids, sorted.
func (e *Engine) Entities() []string {
	return e.coordinators.Keys()
}

// Coordinator returns the coordinator of entity.
func (e *Engine) Coordinator(entity string) (*Coordinator, bool) {
	return e.coordinators.Get(entity)
}

// Track starts tracking an entity. When a store is configured the latest
// snapshot is restored, along with the states of its dependents.
func (e *Engine) Track(ctx context.Context, cfg EntityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if e.lifecycle.Is(StateStopped) {
		return fmt.Errorf("track %s: engine stopped", cfg.TrackedEntity)
	}
	if e.coordinators.Has(cfg.TrackedEntity) {
		return fmt.Errorf("entity %s already tracked", cfg.TrackedEntity)
	}

	c := NewCoordinator(cfg,
		WithCoordinatorClock(e.clock),
		WithCoordinatorLogger(e.logger),
		WithDependentStates(e.dependents),
	)

	if e.store != nil {
		if err := e.restore(ctx, c); err != nil {
			return err
		}
	}

	e.coordinators.Set(cfg.TrackedEntity, c)
	e.timers.Set(cfg.TrackedEntity, NewTimers())
	e.locks.Set(cfg.TrackedEntity, &sync.Mutex{})

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lifecycle.Is(StateRunning) {
		return e.startWorker(c)
	}
	return nil
}

func (e *Engine) restore(ctx context.Context, c *Coordinator) error {
	snap, err := e.store.Load(ctx, c.Entity())
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.Debug("no snapshot to restore", "entity", c.Entity())
	case err != nil:
		e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodeStoreLoadFailed, "store", err.Error()).
			WithEntity(c.Entity()))
		return fmt.Errorf("restore %s: %w", c.Entity(), err)
	default:
		c.Restore(snap.Data, snap.History, snap.Transition)
		c.RestoreTyped(movement.Walking, snap.Walking)
		c.RestoreTyped(movement.Biking, snap.Biking)
		c.RestoreTyped(movement.Driving, snap.Driving)
		e.logger.Info("restored snapshot",
			"entity", c.Entity(),
			"distance", snap.Data.Distance,
			"history", len(snap.History),
			"updated_at", snap.UpdatedAt)
	}

	states, err := store.LoadDependents[DependentState](ctx, e.store)
	if err != nil {
		return fmt.Errorf("restore dependents of %s: %w", c.Entity(), err)
	}
	for _, id := range c.Config().DependentEntities {
		if state, ok := states[id]; ok && !e.dependents.Has(id) {
			e.dependents.Set(id, state)
		}
	}
	return nil
}

// Start subscribes every tracked entity to the input bus and runs one worker
// per entity until ctx is cancelled or Shutdown is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.lifecycle.Trigger(ctx, eventStart); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, entry := range e.coordinators.List() {
		if err := e.startWorker(entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// startWorker must be called with e.mu held.
func (e *Engine) startWorker(c *Coordinator) error {
	sub, err := e.inputBus.Subscribe(e.ctx, event.EntityFilter(c.Entity(), event.TypeChangeAll))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.Entity(), err)
	}

	e.workers.Set(c.Entity(), sub)
	e.wg.Add(1)
	go e.run(c, sub)
	return nil
}

// Untrack stops tracking entity. Its worker is stopped and, when purge is
// set, its snapshot is deleted from the store.
func (e *Engine) Untrack(ctx context.Context, entity string, purge bool) error {
	if !e.coordinators.Has(entity) {
		return fmt.Errorf("untrack %s: entity not tracked", entity)
	}

	unlock := e.lock(entity)
	e.coordinators.Delete(entity)
	e.timers.Delete(entity)
	unlock()
	e.locks.Delete(entity)

	// closed outside the lock, a blocked publisher holds the subscription
	if sub, ok := e.workers.Get(entity); ok {
		sub.Close()
		e.workers.Delete(entity)
	}

	if purge && e.store != nil {
		if err := e.store.Delete(ctx, entity); err != nil {
			return fmt.Errorf("untrack %s: %w", entity, err)
		}
	}

	e.publishError(event.NewErrorEvent(event.InfoSeverity, event.CodeTrackedEntityRemoved, "engine", "tracked entity removed").
		WithEntity(entity).
		WithContext("purged", purge))
	return nil
}

func (e *Engine) run(c *Coordinator, sub event.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			change, err := event.DecodeChange(evt)
			if err != nil {
				e.publishError(event.NewErrorEvent(event.WarningSeverity, event.CodeDecodeFailed, "engine", err.Error()).
					WithEntity(c.Entity()).
					WithContext("event_id", evt.ID))
				continue
			}
			if _, err := e.process(e.ctx, c, change, evt.ID); err != nil {
				e.logger.Error("recalculation failed", "entity", c.Entity(), "error", err)
			}
		}
	}
}

// Submit publishes change for entity on the input bus.
func (e *Engine) Submit(ctx context.Context, entity string, change movement.Change) error {
	if !e.coordinators.Has(entity) {
		return fmt.Errorf("submit %s: entity not tracked", entity)
	}
	evt, err := event.NewChangeEvent(entity, Source, change, e.clock.Now())
	if err != nil {
		return err
	}
	if err := e.inputBus.Publish(ctx, *evt); err != nil {
		return fmt.Errorf("submit %s: %w", entity, err)
	}
	return nil
}

// Apply runs change for entity synchronously, bypassing the input bus.
func (e *Engine) Apply(ctx context.Context, entity string, change movement.Change) (Result, error) {
	c, ok := e.coordinators.Get(entity)
	if !ok {
		return Result{}, fmt.Errorf("apply %s: entity not tracked", entity)
	}
	return e.process(ctx, c, change, "")
}

// RefreshStatistics runs the statistics timer of entity.
func (e *Engine) RefreshStatistics(ctx context.Context, entity string) (Result, error) {
	c, ok := e.coordinators.Get(entity)
	if !ok {
		return Result{}, fmt.Errorf("refresh %s: entity not tracked", entity)
	}

	unlock := e.lock(entity)
	defer unlock()

	start := time.Now()
	result, recalculated, err := c.RefreshStatistics(ctx)
	if !recalculated {
		if err == nil {
			e.observeSchedule(result)
		}
		return result, err
	}
	recordRecalculation(e.metrics, movement.ChangeSpeedStale, result, start, err)
	if err != nil {
		e.reportApplyError(c, err)
		return result, err
	}
	e.afterRecalc(ctx, result, "")
	return result, nil
}

// Tick fires every timer of every entity that is due at now, in time order.
func (e *Engine) Tick(ctx context.Context, now time.Time) ([]Result, error) {
	var results []Result
	for _, entity := range e.coordinators.Keys() {
		timers, ok := e.timers.Get(entity)
		if !ok {
			continue
		}
		for _, due := range timers.Due(now) {
			var (
				result Result
				err    error
			)
			if due == TimerStatistics {
				result, err = e.RefreshStatistics(ctx, entity)
			} else {
				result, err = e.Apply(ctx, entity, due.Change())
			}
			if err != nil {
				return results, fmt.Errorf("fire %s timer for %s: %w", due, entity, err)
			}
			results = append(results, result)
		}
	}
	return results, nil
}

// NextTimer returns the earliest pending timer across all entities.
func (e *Engine) NextTimer() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, entry := range e.timers.List() {
		if at, ok := entry.Value.Next(); ok && (!found || at.Before(next)) {
			next, found = at, true
		}
	}
	return next, found
}

func (e *Engine) process(ctx context.Context, c *Coordinator, change movement.Change, causation string) (Result, error) {
	unlock := e.lock(c.Entity())
	defer unlock()

	start := time.Now()
	result, err := c.Apply(ctx, change)
	recordRecalculation(e.metrics, change.ChangeType(), result, start, err)
	if err != nil {
		e.reportApplyError(c, err)
		return result, err
	}

	e.afterRecalc(ctx, result, causation)
	return result, nil
}

func (e *Engine) lock(entity string) func() {
	mu, ok := e.locks.Get(entity)
	if !ok {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) reportApplyError(c *Coordinator, err error) {
	code := event.CodeRecalcFailed
	if errors.Is(err, ErrRecalcInFlight) {
		code = event.CodeRecalcInFlight
	}
	e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, code, "coordinator", err.Error()).
		WithEntity(c.Entity()))
}

// afterRecalc persists and publishes a committed result.
func (e *Engine) afterRecalc(ctx context.Context, result Result, causation string) {
	e.observeSchedule(result)
	e.journal.Record(result)

	if e.store != nil {
		e.save(ctx, result)
	}

	for _, err := range result.DependentErrors {
		var misconfigured *MisconfigurationError
		switch {
		case errors.As(err, &misconfigured):
			e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodeDependentMisconfigured, "dependents", err.Error()).
				WithEntity(result.Entity).
				WithContext("dependent", misconfigured.Entity))
		case errors.Is(err, ErrEntityMissing):
			e.publishError(event.NewErrorEvent(event.WarningSeverity, event.CodeDependentMissing, "dependents", err.Error()).
				WithEntity(result.Entity).
				WithRecoverable(true))
		}
	}

	e.publish(ctx, event.TypeUpdate, result.Entity, NewUpdatePayload(result), result.At, causation)
	for _, update := range result.Dependents {
		e.publish(ctx, event.TypeDependentUpdate, result.Entity, update, result.At, causation)
	}
	e.publish(ctx, event.TypeDebugChange, result.Entity, newDebugPayload(result), result.At, causation)
}

func (e *Engine) save(ctx context.Context, result Result) {
	snap := store.Snapshot{
		Entity:     result.Entity,
		Data:       result.Data,
		History:    result.History,
		Transition: result.Transition,
		Walking:    result.Walking,
		Biking:     result.Biking,
		Driving:    result.Driving,
		UpdatedAt:  result.At,
	}
	if err := e.store.Save(ctx, snap); err != nil {
		e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodeStoreSaveFailed, "store", err.Error()).
			WithEntity(result.Entity))
	}
	for _, update := range result.Dependents {
		if err := e.store.SaveDependent(ctx, update.EntityID, update.Updates); err != nil {
			e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodeStoreSaveFailed, "store", err.Error()).
				WithEntity(result.Entity).
				WithContext("dependent", update.EntityID))
		}
	}
}

func (e *Engine) observeSchedule(result Result) {
	if timers, ok := e.timers.Get(result.Entity); ok {
		timers.Observe(result)
	}
}

func (e *Engine) publish(ctx context.Context, eventType, entity string, payload any, at time.Time, causation string) {
	evt, err := event.NewEventAt(eventType, Source, payload, event.JSONCodec{}, at)
	if err != nil {
		e.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodePublishFailed, "engine", err.Error()).
			WithEntity(entity))
		return
	}
	evt.WithMetadata(event.MetaEntity, entity)
	if causation != "" {
		evt.WithCorrelationID(causation).WithCausationID(causation)
	}
	if err := e.outputBus.Publish(ctx, *evt); err != nil && !errors.Is(err, event.ErrClosed) {
		e.publishError(event.NewErrorEvent(event.WarningSeverity, event.CodePublishFailed, "engine", err.Error()).
			WithEntity(entity).
			WithContext("event_type", eventType))
	}
}

func (e *Engine) publishError(evt event.ErrorEvent) {
	e.logger.LogAttrs(context.Background(), evt.Severity.Level(), evt.Message, evt.LogAttrs()...)
	e.errorBus.Publish(evt)
}

// Shutdown gracefully shuts down the engine and releases resources.
// It stops the workers, closes the buses and the store, and waits for the
// context to complete. Shutting down a stopped engine is a no-op.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.lifecycle.Is(StateStopped) {
		e.mu.Unlock()
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.lifecycle.Trigger(ctx, eventStop)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
	}

	errCh := make(chan error, 2)

	// Close input bus
	go func() {
		if err := e.inputBus.Close(); err != nil {
			errCh <- fmt.Errorf("input bus shutdown: %w", err)
		} else {
			errCh <- nil
		}
	}()

	// Close output bus
	go func() {
		if err := e.outputBus.Close(); err != nil {
			errCh <- fmt.Errorf("output bus shutdown: %w", err)
		} else {
			errCh <- nil
		}
	}()

	// Wait for both to complete or context to cancel
	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
	}

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store shutdown: %w", err))
		}
	}
	e.publishError(event.NewErrorEvent(event.InfoSeverity, event.CodeShutdown, "engine", "engine stopped"))
	if err := e.errorBus.Close(); err != nil && !errors.Is(err, event.ErrErrorBusClosed) {
		errs = append(errs, fmt.Errorf("error bus shutdown: %w", err))
	}

	return errors.Join(errs...)
}

// UpdatePayload is the payload of a movement.update event.
type UpdatePayload struct {
	Entity     string                     `json:"tracked_entity"`
	ChangeType string                     `json:"change_type"`
	Data       movement.MovementData      `json:"data"`
	Walking    movement.TypedMovementData `json:"walking"`
	Biking     movement.TypedMovementData `json:"biking"`
	Driving    movement.TypedMovementData `json:"driving"`
	Transition []movement.TransitionEntry `json:"transition"`
	Skipped    bool                       `json:"skipped,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	Schedule   SchedulePayload            `json:"schedule"`
}

// SchedulePayload is Schedule in its wire form.
type SchedulePayload struct {
	StatisticsRefreshAt movement.Opt[time.Time] `json:"statistics_refresh_at,omitzero"`
	StallAt             movement.Opt[time.Time] `json:"stall_at,omitzero"`
	ResetAt             time.Time               `json:"reset_at"`
}

// NewUpdatePayload converts a result to its published form.
func NewUpdatePayload(r Result) UpdatePayload {
	p := UpdatePayload{
		Entity:     r.Entity,
		Data:       r.Data,
		Walking:    r.Walking,
		Biking:     r.Biking,
		Driving:    r.Driving,
		Transition: r.Transition,
		Skipped:    r.Skipped,
		Reason:     r.Reason,
		Schedule: SchedulePayload{
			StatisticsRefreshAt: r.Schedule.StatisticsRefreshAt,
			StallAt:             r.Schedule.StallAt,
			ResetAt:             r.Schedule.ResetAt,
		},
	}
	if r.Change != nil {
		p.ChangeType = r.Change.ChangeType()
	}
	return p
}

type debugPayload struct {
	TrackedEntity string         `json:"tracked_entity"`
	ChangeType    string         `json:"change_type"`
	Change        jsontext.Value `json:"change,omitzero"`
	Update        debugUpdate    `json:"update"`
}

type debugUpdate struct {
	movement.MovementData `json:",inline"`
	History               []movement.HistoryEntry `json:"history"`
}

func newDebugPayload(r Result) debugPayload {
	p := debugPayload{
		TrackedEntity: r.Entity,
		Update:        debugUpdate{MovementData: r.Data, History: r.History},
	}
	if r.Change != nil {
		p.ChangeType = r.Change.ChangeType()
		if b, err := (event.JSONCodec{}).Marshal(r.Change); err == nil {
			p.Change = b
		}
	}
	return p
}
