package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// If no arguments or "demo", launch interactive TUI
	if len(os.Args) < 2 {
		if err := runDemo(ctx, nil); err != nil {
			log.Fatalf("TUI error: %v", err)
		}
		return
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "demo":
		err = runDemo(ctx, args)
	case "replay":
		err = runReplay(ctx, args)
	case "tui":
		err = runTraceTUI(ctx, args)
	case "migrate":
		err = runMigrate(args)
	case "diagnostics":
		err = runDiagnostics(ctx, args)
	case "version":
		fmt.Printf("movement v%s\n", version)
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		log.Fatalf("ERROR: unknown command %q (try 'movement help')", cmd)
	}
	if err != nil {
		log.Fatalf("ERROR: %s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Movement - GPS distance, speed and mode of transit tracking

Usage:
  movement [demo] [-plain] [-seed N]
      Replay generated scenarios in an interactive menu

  movement replay [-config file] [-entity id] [-out file] [-journal] [-quiet] <trace.jsonl>
      Replay a recorded trace and print every result

  movement tui [-config file] [-entity id] [-speed X] <trace.jsonl>
      Replay a recorded trace in a live terminal view

  movement migrate [-config file] up|version
      Apply or inspect the store schema

  movement diagnostics [-config file] <entity>
      Print the redacted diagnostics of a stored entity

  movement version
      Show version and platform information

  movement help
      Show this help message

Traces are JSON lines:
  {"at":"2026-05-04T08:00:00Z","latitude":45.5231,"longitude":-122.6765,"accuracy":10}

A point without latitude or longitude is a report with no location.

Configuration is read from the -config YAML file and MOVEMENT_* environment
variables, e.g. MOVEMENT_DB_PATH=movement.db keeps state between runs.
`)
}
