package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/event"
	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/movement"
	"github.com/BYTE-6D65/movement/pkg/store"
)

// exampleChange is a ~22km/h move observed 46.7s apart.
func exampleChange() movement.LocationChanged {
	return movement.LocationChanged{
		Old: sample(t0, geo.Coordinate{Latitude: 35.054, Longitude: 137.143}, 5),
		New: sample(t0.Add(46700*time.Millisecond), geo.Coordinate{Latitude: 35.052, Longitude: 137.145}, 15),
	}
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *clock.ManualClock) {
	t.Helper()
	clk := clock.NewManualClock(exampleChange().New.At)
	eng := New(append([]EngineOption{WithClock(clk)}, opts...)...)
	if err := eng.Track(context.Background(), EntityConfig{TrackedEntity: testEntity}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	return eng, clk
}

func receive(t *testing.T, sub event.Subscription) event.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.Event{}
}

func TestNew(t *testing.T) {
	eng := New()

	if eng.InputBus() == nil {
		t.Error("InputBus should not be nil")
	}
	if eng.OutputBus() == nil {
		t.Error("OutputBus should not be nil")
	}
	if eng.ErrorBus() == nil {
		t.Error("ErrorBus should not be nil")
	}
	if eng.Clock() == nil {
		t.Error("Clock should not be nil")
	}
	if eng.Journal() == nil {
		t.Error("Journal should not be nil")
	}
	if len(eng.Entities()) != 0 {
		t.Errorf("expected no entities, got %v", eng.Entities())
	}
}

func TestTrack(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Track(ctx, EntityConfig{TrackedEntity: testEntity}); err == nil {
		t.Error("expected error tracking an entity twice")
	}
	if err := eng.Track(ctx, EntityConfig{}); err == nil {
		t.Error("expected error for an entity without id")
	}
	if err := eng.Track(ctx, EntityConfig{TrackedEntity: "device_tracker.joe"}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	got := eng.Entities()
	if len(got) != 2 || got[0] != testEntity || got[1] != "device_tracker.joe" {
		t.Errorf("unexpected entities %v", got)
	}
	if _, ok := eng.Coordinator(testEntity); !ok {
		t.Error("coordinator not found")
	}
}

func TestApplyPublishesResults(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	updates, err := eng.OutputBus().Subscribe(ctx, event.EntityFilter(testEntity, event.TypeUpdate))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	debug, err := eng.OutputBus().Subscribe(ctx, event.EntityFilter(testEntity, event.TypeDebugChange))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	result, err := eng.Apply(ctx, testEntity, exampleChange())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var payload UpdatePayload
	evt := receive(t, updates)
	if err := evt.DecodePayload(&payload, event.JSONCodec{}); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if payload.ChangeType != movement.ChangeLocation {
		t.Errorf("expected change type %s, got %s", movement.ChangeLocation, payload.ChangeType)
	}
	if payload.Data.Mode != movement.Driving {
		t.Errorf("expected driving, got %s", payload.Data.Mode)
	}
	if payload.Data.Distance != result.Data.Distance {
		t.Errorf("expected distance %v, got %v", result.Data.Distance, payload.Data.Distance)
	}
	if !payload.Schedule.StallAt.IsSet() {
		t.Error("expected stall_at in schedule")
	}

	var raw map[string]any
	if err := json.Unmarshal(receive(t, debug).Data, &raw); err != nil {
		t.Fatalf("decode debug: %v", err)
	}
	if raw["change_type"] != movement.ChangeLocation {
		t.Errorf("unexpected debug change type %v", raw["change_type"])
	}
	update, ok := raw["update"].(map[string]any)
	if !ok {
		t.Fatalf("debug update missing: %v", raw)
	}
	if _, ok := update["history"]; !ok {
		t.Error("debug update should carry history")
	}
	if update["mode_of_transit"] != "driving" {
		t.Errorf("movement data should be inlined, got %v", update)
	}

	entries := eng.Journal().Entries()
	if len(entries) != 1 || entries[0].ChangeType != movement.ChangeLocation {
		t.Errorf("unexpected journal %+v", entries)
	}
}

func TestStartSubmit(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	updates, err := eng.OutputBus().Subscribe(ctx, event.EntityFilter(testEntity, event.TypeUpdate))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}

	if err := eng.Submit(ctx, testEntity, exampleChange()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := eng.Submit(ctx, "device_tracker.nobody", exampleChange()); err == nil {
		t.Error("expected error submitting for an untracked entity")
	}

	evt := receive(t, updates)
	if evt.CausationID == "" || evt.CorrelationID != evt.CausationID {
		t.Errorf("expected correlation to the change event, got %q/%q", evt.CorrelationID, evt.CausationID)
	}

	c, _ := eng.Coordinator(testEntity)
	if c.Data().ChangeCount != 1 {
		t.Errorf("expected change count 1, got %d", c.Data().ChangeCount)
	}
}

func TestSubmitUndecodableChange(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	errs, err := eng.ErrorBus().Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	evt, err := event.NewEventAt(event.TypeChangePrefix+"teleported", "test", struct{}{}, event.JSONCodec{}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.InputBus().Publish(ctx, *evt.WithMetadata(event.MetaEntity, testEntity)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-errs.Events():
		if got.Code != event.CodeDecodeFailed {
			t.Errorf("expected %s, got %s", event.CodeDecodeFailed, got.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestDependentErrorsArePublished(t *testing.T) {
	eng := New(WithClock(clock.NewManualClock(exampleChange().New.At)))
	ctx := context.Background()

	eng.Dependents().Set("sensor.jane_bad", DependentState{})
	err := eng.Track(ctx, EntityConfig{
		TrackedEntity:     testEntity,
		DependentEntities: []string{"sensor.jane_gone", "sensor.jane_bad"},
	})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	errs, err := eng.ErrorBus().Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := eng.Apply(ctx, testEntity, exampleChange()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	codes := map[string]bool{}
	for len(codes) < 2 {
		select {
		case got := <-errs.Events():
			codes[got.Code] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", codes)
		}
	}
	if !codes[event.CodeDependentMissing] || !codes[event.CodeDependentMisconfigured] {
		t.Errorf("unexpected error codes %v", codes)
	}
}

func TestTickFiresDueTimers(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Apply(ctx, testEntity, exampleChange())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	next, ok := eng.NextTimer()
	if !ok {
		t.Fatal("expected a pending timer")
	}
	refreshAt, _ := first.Schedule.StatisticsRefreshAt.Get()
	if !next.Equal(refreshAt) {
		t.Errorf("expected next timer at %v, got %v", refreshAt, next)
	}

	results, err := eng.Tick(ctx, first.At.Add(time.Minute))
	if err != nil || len(results) != 0 {
		t.Fatalf("expected nothing due, got %d results, err %v", len(results), err)
	}

	stallAt := first.At.Add(movement.UpdatesStalledDelta)
	clk.Set(stallAt)
	results, err = eng.Tick(ctx, stallAt)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected statistics and stall timers, got %d results", len(results))
	}
	if results[0].Change != (movement.SpeedStale{}) {
		t.Errorf("expected speed stale first, got %v", results[0].Change)
	}
	last := results[1]
	if last.Change != (movement.UpdatesStalled{}) {
		t.Errorf("expected updates stalled, got %v", last.Change)
	}
	if last.Data.Speed.IsSet() || last.Data.Mode != movement.NoMode {
		t.Errorf("stall should clear speed and mode, got %+v", last.Data)
	}
	if last.Data.Distance != first.Data.Distance {
		t.Errorf("stall should keep distance %v, got %v", first.Data.Distance, last.Data.Distance)
	}
}

func TestStoreRestoresEntity(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "movement.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	clk := clock.NewManualClock(exampleChange().New.At)
	first := New(WithClock(clk), WithStore(s))
	cfg := EntityConfig{
		TrackedEntity:     testEntity,
		DependentEntities: []string{"sensor.jane_driving"},
	}
	first.Dependents().Set("sensor.jane_driving", DependentState{ModeType: movement.Driving})
	if err := first.Track(ctx, cfg); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	result, err := first.Apply(ctx, testEntity, exampleChange())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	second := New(WithClock(clk), WithStore(s))
	if err := second.Track(ctx, cfg); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	c, _ := second.Coordinator(testEntity)
	if c.Data() != result.Data {
		t.Errorf("expected restored data %+v, got %+v", result.Data, c.Data())
	}
	if len(c.History()) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(c.History()))
	}
	if c.Typed(movement.Driving).Distance != result.Driving.Distance {
		t.Errorf("expected driving distance %v, got %v", result.Driving.Distance, c.Typed(movement.Driving).Distance)
	}
	state, ok := second.Dependents().Get("sensor.jane_driving")
	if !ok || state.Distance != result.Driving.Distance {
		t.Errorf("expected restored dependent state, got %+v", state)
	}
}

func TestUntrack(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.Untrack(ctx, testEntity, false); err != nil {
		t.Fatalf("Untrack failed: %v", err)
	}
	if len(eng.Entities()) != 0 {
		t.Errorf("expected no entities, got %v", eng.Entities())
	}
	if _, err := eng.Apply(ctx, testEntity, movement.ResetRequest{}); err == nil {
		t.Error("expected error applying to an untracked entity")
	}
	if err := eng.Untrack(ctx, testEntity, false); err == nil {
		t.Error("expected error untracking twice")
	}
}

func TestShutdown(t *testing.T) {
	eng := New()
	ctx := context.Background()
	if err := eng.Track(ctx, EntityConfig{TrackedEntity: testEntity}); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	err := eng.Submit(ctx, testEntity, movement.ResetRequest{})
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("expected closed bus error, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	cfg.DBPath = filepath.Join(t.TempDir(), "movement.db")
	cfg.Entities = []EntityConfig{{TrackedEntity: testEntity}}

	eng, err := NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer eng.Shutdown(context.Background())

	if got := eng.Entities(); len(got) != 1 || got[0] != testEntity {
		t.Errorf("unexpected entities %v", got)
	}

	cfg.JournalSize = 0
	if _, err := NewFromConfig(context.Background(), cfg); err == nil {
		t.Error("expected invalid config error")
	}
}

func TestLifecycle(t *testing.T) {
	eng := New()
	ctx := context.Background()

	if eng.State() != StateIdle {
		t.Fatalf("expected idle, got %s", eng.State())
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if eng.State() != StateRunning {
		t.Errorf("expected running, got %s", eng.State())
	}
	if err := eng.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if eng.State() != StateStopped {
		t.Errorf("expected stopped, got %s", eng.State())
	}
	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown should be a no-op, got %v", err)
	}
	if err := eng.Start(ctx); err == nil {
		t.Error("expected error starting a stopped engine")
	}
	if err := eng.Track(ctx, EntityConfig{TrackedEntity: testEntity}); err == nil {
		t.Error("expected error tracking on a stopped engine")
	}
}
