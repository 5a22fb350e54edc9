package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/BYTE-6D65/movement/pkg/adapter"
	"github.com/BYTE-6D65/movement/pkg/clock"
	"github.com/BYTE-6D65/movement/pkg/diagnostics"
	"github.com/BYTE-6D65/movement/pkg/emitter"
	"github.com/BYTE-6D65/movement/pkg/engine"
	"github.com/BYTE-6D65/movement/pkg/event"
	"github.com/BYTE-6D65/movement/pkg/store"
	"github.com/BYTE-6D65/movement/pkg/telemetry"
	"github.com/BYTE-6D65/movement/pkg/testdata"
)

// defaultEntity is tracked when the config names none.
const defaultEntity = "device_tracker.trace"

// loadConfig reads the config and makes sure entity is tracked by it. An
// empty entity selects the first configured one.
func loadConfig(path, entity string) (engine.Config, string, error) {
	cfg, err := engine.Load(path)
	if err != nil {
		return engine.Config{}, "", err
	}
	if entity == "" {
		if len(cfg.Entities) > 0 {
			return cfg, cfg.Entities[0].TrackedEntity, nil
		}
		entity = defaultEntity
	}
	if !slices.ContainsFunc(cfg.Entities, func(e engine.EntityConfig) bool { return e.TrackedEntity == entity }) {
		cfg.Entities = append(cfg.Entities, engine.EntityConfig{TrackedEntity: entity})
	}
	return cfg, entity, nil
}

func readTrace(path string) ([]adapter.TracePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := adapter.ReadTrace(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("%s: %w", path, adapter.ErrEmptyTrace)
	}
	return points, nil
}

// newReplayEngine builds an engine on a manual clock. Replays publish
// faster than any emitter writes, so the output bus blocks instead of
// dropping.
func newReplayEngine(ctx context.Context, cfg engine.Config, start time.Time) (*engine.Engine, *clock.ManualClock, error) {
	clk := clock.NewManualClock(start)
	busOpts := []event.BusOption{
		event.WithBufferSize(cfg.OutputBufferSize),
		event.WithDropSlow(false),
		event.WithBusName("output"),
	}
	if cfg.MetricsEnabled {
		busOpts = append(busOpts, event.WithObserver(telemetry.Default()))
	}
	eng, err := engine.NewFromConfig(ctx, cfg,
		engine.WithClock(clk),
		engine.WithOutputBus(event.NewInMemoryBus(busOpts...)),
	)
	if err != nil {
		return nil, nil, err
	}
	return eng, clk, nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	entityID := fs.String("entity", "", "tracked entity (default: first configured, else "+defaultEntity+")")
	outPath := fs.String("out", "", "write output events as JSON lines to this file, - for stdout")
	dumpJournal := fs.Bool("journal", false, "dump the recalculation journal when done")
	quiet := fs.Bool("quiet", false, "only print the summary")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one trace file")
	}

	points, err := readTrace(fs.Arg(0))
	if err != nil {
		return err
	}
	cfg, entity, err := loadConfig(*configPath, *entityID)
	if err != nil {
		return err
	}
	eng, clk, err := newReplayEngine(ctx, cfg, points[0].At)
	if err != nil {
		return err
	}

	var emitters *engine.EmitterManager
	if *outPath != "" {
		w, err := openOutput(*outPath)
		if err != nil {
			eng.Shutdown(ctx)
			return err
		}
		emitters = engine.NewEmitterManager(eng)
		if err := emitters.Register(emitter.NewJSONLines(filepath.Base(*outPath), w), event.Filter{}); err != nil {
			eng.Shutdown(ctx)
			return err
		}
		if err := emitters.Start(); err != nil {
			eng.Shutdown(ctx)
			return err
		}
	}

	report, err := testdata.Replay(ctx, testdata.Scenario(filepath.Base(fs.Arg(0))), points,
		testdata.Options{Entity: entity, Engine: eng, Clock: clk},
		func(n, total int, result engine.Result, _ time.Duration) {
			if !*quiet {
				fmt.Fprintf(os.Stderr, "%4d/%d %s\n", n, total, formatResult(result))
			}
		})

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	errs := []error{err, eng.Shutdown(shutdownCtx)}
	if emitters != nil {
		// the output bus is closed, so the emitters have drained
		errs = append(errs, emitters.Stop())
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n%s\n%s", testdata.FormatReport(report), testdata.FormatMetrics(report.Metrics))
	if *dumpJournal {
		fmt.Fprintln(os.Stderr)
		return eng.Journal().Dump(os.Stderr)
	}
	return nil
}

// openOutput opens path for writing. Stdout is wrapped so closing the
// emitter does not close it.
func openOutput(path string) (io.Writer, error) {
	if path == "-" {
		return struct{ io.Writer }{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

func formatResult(r engine.Result) string {
	change := "none"
	if r.Change != nil {
		change = r.Change.ChangeType()
	}
	speed := "-"
	if v, ok := r.Data.Speed.Get(); ok {
		speed = fmt.Sprintf("%.1f km/h", v)
	}
	line := fmt.Sprintf("%s %-18s %8.3f km %12s %-8s",
		r.At.Format(time.TimeOnly), change, r.Data.Distance, speed, r.Data.Mode)
	switch {
	case r.Skipped:
		line += " skipped: " + r.Reason
	case r.Reason != "":
		line += " " + r.Reason
	}
	return line
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	fs.Parse(args)

	cfg, err := engine.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.DBPath == "" {
		return errors.New("no db_path configured (set MOVEMENT_DB_PATH)")
	}

	s, err := store.Open(cfg.DBPath, store.WithAutoMigrate(false))
	if err != nil {
		return err
	}
	defer s.Close()

	switch fs.Arg(0) {
	case "up":
		if err := s.Migrate(); err != nil {
			return err
		}
	case "version", "":
	default:
		return fmt.Errorf("unknown migrate command %q (up|version)", fs.Arg(0))
	}

	version, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("%s: version %d", cfg.DBPath, version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one entity")
	}
	cfg, entity, err := loadConfig(*configPath, fs.Arg(0))
	if err != nil {
		return err
	}
	if cfg.DBPath == "" {
		return errors.New("no db_path configured (set MOVEMENT_DB_PATH)")
	}
	cfg.MetricsEnabled = false

	eng, err := engine.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Shutdown(context.WithoutCancel(ctx))

	c, ok := eng.Coordinator(entity)
	if !ok {
		return fmt.Errorf("%s is not tracked", entity)
	}
	out, err := diagnostics.Export(c, map[string]any{
		"version": version,
		"db_path": cfg.DBPath,
	}, nil)
	if err != nil {
		return err
	}

	b, err := json.Marshal(out, json.Deterministic(true), jsontext.Multiline(true))
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(b))
	return err
}
