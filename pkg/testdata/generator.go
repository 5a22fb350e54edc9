// Package testdata generates synthetic GPS traces and replays them through an
// engine to measure recalculation latency.
package testdata

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/BYTE-6D65/movement/pkg/adapter"
	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/engine"
	"github.com/BYTE-6D65/movement/pkg/geo"
	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Scenario names a synthetic trace.
type Scenario string

const (
	// ScenarioCommute walks to a car, drives across town and walks again.
	ScenarioCommute Scenario = "commute"
	// ScenarioRide is a steady bike ride.
	ScenarioRide Scenario = "ride"
	// ScenarioNoisy is a walk with missing fixes, poor accuracy and bursts
	// of reports too close together to use.
	ScenarioNoisy Scenario = "noisy"
)

// Scenarios lists every scenario in display order.
var Scenarios = []Scenario{ScenarioCommute, ScenarioRide, ScenarioNoisy}

// Entity is the tracked entity scenarios are replayed for.
const Entity = "device_tracker.synthetic"

// Origin is where every scenario starts.
var Origin = geo.Coordinate{Latitude: 35.054, Longitude: 137.143}

// ReportInterval is the gap between regular tracker reports.
const ReportInterval = 30 * time.Second

// Leg is a stretch of a trace at constant speed and heading.
type Leg struct {
	Speed    float64 // km/h
	Duration time.Duration
	Bearing  float64 // degrees clockwise from north
}

// Noise degrades the fixes of a trace.
type Noise struct {
	Jitter       float64 // meters, standard deviation of position error
	MissingEvery int     // every nth report has no location
	PoorEvery    int     // every nth report has an unusable accuracy
	BurstEvery   int     // every nth report is followed by one 2s later
}

// Legs returns the legs of scenario.
func Legs(scenario Scenario) ([]Leg, Noise, error) {
	switch scenario {
	case ScenarioCommute:
		return []Leg{
			{Speed: 5, Duration: 8 * time.Minute, Bearing: 90},
			{Speed: 50, Duration: 15 * time.Minute, Bearing: 45},
			{Speed: 5, Duration: 5 * time.Minute, Bearing: 0},
		}, Noise{Jitter: 3}, nil
	case ScenarioRide:
		return []Leg{
			{Speed: 13, Duration: 30 * time.Minute, Bearing: 180},
		}, Noise{Jitter: 3}, nil
	case ScenarioNoisy:
		return []Leg{
			{Speed: 5, Duration: 20 * time.Minute, Bearing: 270},
		}, Noise{Jitter: 8, MissingEvery: 7, PoorEvery: 5, BurstEvery: 6}, nil
	default:
		return nil, Noise{}, fmt.Errorf("unknown scenario %q", scenario)
	}
}

// Generate builds the trace of scenario starting at start. The same seed
// always yields the same trace.
func Generate(scenario Scenario, start time.Time, seed uint64) ([]adapter.TracePoint, error) {
	legs, noise, err := Legs(scenario)
	if err != nil {
		return nil, err
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)
	jitter := distuv.Normal{Mu: 0, Sigma: noise.Jitter, Src: src}
	accuracy := distuv.Uniform{Min: 5, Max: 20, Src: src}

	var (
		points []adapter.TracePoint
		pos    = Origin
		at     = start
		n      int
	)
	report := func(p geo.Coordinate, at time.Time) {
		n++
		point := adapter.TracePoint{At: at}
		if noise.MissingEvery > 0 && n%noise.MissingEvery == 0 {
			points = append(points, point)
			return
		}
		// jitter along a random bearing
		fix := p
		if noise.Jitter > 0 {
			fix = geo.Offset(p, jitter.Rand()/1000, rng.Float64()*360)
		}
		point.Latitude = movement.Some(fix.Latitude)
		point.Longitude = movement.Some(fix.Longitude)
		point.Accuracy = movement.Some(accuracy.Rand())
		if noise.PoorEvery > 0 && n%noise.PoorEvery == 0 {
			point.Accuracy = movement.Some(movement.InaccurateThreshold * 1.5)
		}
		points = append(points, point)
	}

	report(pos, at)
	for _, leg := range legs {
		for elapsed := ReportInterval; elapsed <= leg.Duration; elapsed += ReportInterval {
			pos = geo.Offset(pos, leg.Speed*ReportInterval.Hours(), leg.Bearing)
			at = at.Add(ReportInterval)
			report(pos, at)
			if noise.BurstEvery > 0 && n%noise.BurstEvery == 0 {
				report(pos, at.Add(2*time.Second))
			}
		}
	}
	return points, nil
}

// Report is the outcome of replaying a scenario.
type Report struct {
	Metrics *PerformanceMetrics
	Final   engine.Result
	Skipped int
	Bounds  orb.Bound // area covered by the located points
}

// Mode returns the distance accumulated in mode.
func (r Report) Mode(mode movement.Mode) float64 {
	switch mode {
	case movement.Walking:
		return r.Final.Walking.Distance
	case movement.Biking:
		return r.Final.Biking.Distance
	case movement.Driving:
		return r.Final.Driving.Distance
	}
	return 0
}

// PerformanceMetrics contains comprehensive performance results
type PerformanceMetrics struct {
	Scenario   Scenario
	EventCount int
	Duration   time.Duration

	// Latency metrics
	LatencyMin    time.Duration
	LatencyMax    time.Duration
	LatencyMean   time.Duration
	LatencyMedian time.Duration
	LatencyP90    time.Duration
	LatencyP95    time.Duration
	LatencyP99    time.Duration
	LatencyStdDev time.Duration
	Jitter        time.Duration

	// Throughput
	EventsPerSec float64

	// Memory
	AllocatedMB float64

	// GC metrics
	GCCount    uint32
	GCPauseAvg time.Duration
	GCPauseMax time.Duration
}

// ProgressCallback is called periodically during a replay.
type ProgressCallback func(eventCount, totalEvents int, current engine.Result, elapsed time.Duration)

// Options tune a replay.
type Options struct {
	Seed     uint64
	Start    time.Time
	Entity   string        // defaults to Entity
	Throttle time.Duration // wall time slept between changes
	Engine   *engine.Engine
	Clock    *clock.ManualClock
}

// RunScenario replays scenario and returns the report.
func RunScenario(ctx context.Context, scenario Scenario, opts Options) (*Report, error) {
	return RunScenarioWithProgress(ctx, scenario, opts, nil)
}

// RunScenarioWithProgress generates the trace of scenario and replays it.
func RunScenarioWithProgress(ctx context.Context, scenario Scenario, opts Options, progressCb ProgressCallback) (*Report, error) {
	if opts.Start.IsZero() {
		opts.Start = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	}
	points, err := Generate(scenario, opts.Start, opts.Seed)
	if err != nil {
		return nil, err
	}
	return Replay(ctx, scenario, points, opts, progressCb)
}

// Replay feeds points through an engine, firing due timers between changes
// the way a host would, and reports after each change. When opts carries no
// engine a fresh one is created and shut down. The entity is tracked when
// the engine does not track it yet.
func Replay(ctx context.Context, name Scenario, points []adapter.TracePoint, opts Options, progressCb ProgressCallback) (*Report, error) {
	changes := adapter.Changes(points)
	if len(changes) == 0 {
		return nil, adapter.ErrEmptyTrace
	}
	entity := opts.Entity
	if entity == "" {
		entity = Entity
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.NewManualClock(points[0].At)
	}
	eng := opts.Engine
	if eng == nil {
		eng = engine.New(engine.WithClock(clk))
		defer eng.Shutdown(context.WithoutCancel(ctx))
	}
	if _, ok := eng.Coordinator(entity); !ok {
		if err := eng.Track(ctx, engine.EntityConfig{TrackedEntity: entity}); err != nil {
			return nil, err
		}
	}

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	report := &Report{Bounds: traceBounds(points)}
	latencies := make([]time.Duration, 0, len(changes))
	startTime := time.Now()

	for i, change := range changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clk.Set(change.New.At)
		if _, err := eng.Tick(ctx, change.New.At); err != nil {
			return nil, err
		}

		applyStart := time.Now()
		result, err := eng.Apply(ctx, entity, change)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(applyStart))

		report.Final = result
		if result.Skipped {
			report.Skipped++
		}
		if progressCb != nil {
			progressCb(i+1, len(changes), result, time.Since(startTime))
		}
		if opts.Throttle > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Throttle):
			}
		}
	}

	// let the trip go stale so pending transition distance is folded in
	end := changes[len(changes)-1].New.At.Add(movement.UpdatesStalledDelta)
	clk.Set(end)
	results, err := eng.Tick(ctx, end)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Change != nil {
			report.Final = r
		}
	}

	testDuration := time.Since(startTime)
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	report.Metrics = calculateMetrics(name, latencies, testDuration, &before, &after)
	return report, nil
}

func traceBounds(points []adapter.TracePoint) orb.Bound {
	var coords []geo.Coordinate
	for _, p := range points {
		if c, ok := p.Sample().Coordinate.Get(); ok {
			coords = append(coords, c)
		}
	}
	return geo.Bounds(coords...)
}

func calculateMetrics(scenario Scenario, latencies []time.Duration, testDuration time.Duration, before, after *runtime.MemStats) *PerformanceMetrics {
	m := &PerformanceMetrics{
		Scenario:   scenario,
		EventCount: len(latencies),
		Duration:   testDuration,
	}
	if len(latencies) == 0 {
		return m
	}

	sorted := make([]float64, len(latencies))
	for i, lat := range latencies {
		sorted[i] = float64(lat)
	}
	slices.Sort(sorted)

	quantile := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	m.LatencyMin = time.Duration(sorted[0])
	m.LatencyMax = time.Duration(sorted[len(sorted)-1])
	m.LatencyMedian = quantile(0.5)
	m.LatencyP90 = quantile(0.9)
	m.LatencyP95 = quantile(0.95)
	m.LatencyP99 = quantile(0.99)

	mean, stdDev := stat.PopMeanStdDev(sorted, nil)
	m.LatencyMean = time.Duration(mean)
	m.LatencyStdDev = time.Duration(stdDev)

	if len(latencies) > 1 {
		var totalJitter time.Duration
		for i := 1; i < len(latencies); i++ {
			diff := latencies[i] - latencies[i-1]
			if diff < 0 {
				diff = -diff
			}
			totalJitter += diff
		}
		m.Jitter = totalJitter / time.Duration(len(latencies)-1)
	}

	m.GCCount = after.NumGC - before.NumGC
	var gcPauseTotal, gcPauseMax uint64
	for i := before.NumGC; i < after.NumGC; i++ {
		pause := after.PauseNs[i%256]
		gcPauseTotal += pause
		gcPauseMax = max(gcPauseMax, pause)
	}
	if m.GCCount > 0 {
		m.GCPauseAvg = time.Duration(gcPauseTotal / uint64(m.GCCount))
	}
	m.GCPauseMax = time.Duration(gcPauseMax)

	if testDuration > 0 {
		m.EventsPerSec = float64(len(latencies)) / testDuration.Seconds()
	}
	m.AllocatedMB = float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024)
	return m
}

// FormatMetrics returns a human-readable string of metrics
func FormatMetrics(m *PerformanceMetrics) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Performance Metrics - %s scenario\n\n", m.Scenario)
	fmt.Fprintf(&sb, "Changes:    %d\n", m.EventCount)
	fmt.Fprintf(&sb, "Duration:   %v\n\n", m.Duration.Round(time.Millisecond))

	sb.WriteString("Latency:\n")
	fmt.Fprintf(&sb, "  Min:      %v\n", m.LatencyMin)
	fmt.Fprintf(&sb, "  Max:      %v\n", m.LatencyMax)
	fmt.Fprintf(&sb, "  Mean:     %v\n", m.LatencyMean)
	fmt.Fprintf(&sb, "  Median:   %v\n", m.LatencyMedian)
	fmt.Fprintf(&sb, "  P90:      %v\n", m.LatencyP90)
	fmt.Fprintf(&sb, "  P95:      %v\n", m.LatencyP95)
	fmt.Fprintf(&sb, "  P99:      %v\n", m.LatencyP99)
	fmt.Fprintf(&sb, "  StdDev:   %v\n", m.LatencyStdDev)
	fmt.Fprintf(&sb, "  Jitter:   %v\n\n", m.Jitter)

	sb.WriteString("Throughput:\n")
	fmt.Fprintf(&sb, "  Changes/s: %.2f\n\n", m.EventsPerSec)

	sb.WriteString("Memory:\n")
	fmt.Fprintf(&sb, "  Allocated: %.2f MB\n\n", m.AllocatedMB)

	sb.WriteString("GC:\n")
	fmt.Fprintf(&sb, "  Collections: %d\n", m.GCCount)
	fmt.Fprintf(&sb, "  Avg Pause:   %v\n", m.GCPauseAvg)
	fmt.Fprintf(&sb, "  Max Pause:   %v\n", m.GCPauseMax)

	return sb.String()
}

// FormatReport summarizes the movement computed for a replay.
func FormatReport(r *Report) string {
	var sb strings.Builder
	d := r.Final.Data
	fmt.Fprintf(&sb, "Distance:    %.3f km (%.3f km adjustments)\n", d.Distance, d.Adjustments)
	fmt.Fprintf(&sb, "Mode:        %s\n", d.Mode)
	fmt.Fprintf(&sb, "Changes:     %d\n", d.ChangeCount)
	fmt.Fprintf(&sb, "Ignored:     %d\n", d.IgnoreCount)
	if !r.Bounds.IsEmpty() {
		fmt.Fprintf(&sb, "Area:        %.4f,%.4f to %.4f,%.4f\n",
			r.Bounds.Min.Lat(), r.Bounds.Min.Lon(), r.Bounds.Max.Lat(), r.Bounds.Max.Lon())
	}
	for _, mode := range []movement.Mode{movement.Walking, movement.Biking, movement.Driving} {
		fmt.Fprintf(&sb, "  %-8s %.3f km\n", mode.String()+":", r.Mode(mode))
	}
	return sb.String()
}
