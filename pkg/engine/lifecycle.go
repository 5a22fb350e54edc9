package engine

import (
	"context"

	"github.com/BYTE-6D65/movement/pkg/statemachine"
)

// State is the lifecycle state of an Engine.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

type lifecycleEvent string

const (
	eventStart lifecycleEvent = "start"
	eventStop  lifecycleEvent = "stop"
)

func (e *Engine) newLifecycle() *statemachine.Machine[State, lifecycleEvent] {
	m := statemachine.New[State, lifecycleEvent](StateIdle).MustAdd(
		statemachine.Transition[State, lifecycleEvent]{From: StateIdle, To: StateRunning, Event: eventStart},
		statemachine.Transition[State, lifecycleEvent]{From: StateIdle, To: StateStopped, Event: eventStop},
		statemachine.Transition[State, lifecycleEvent]{From: StateRunning, To: StateStopped, Event: eventStop},
	)
	m.OnTransition(func(_ context.Context, from, to State, _ lifecycleEvent) {
		e.logger.Debug("engine state changed", "from", from, "to", to)
	})
	return m
}

// State returns the lifecycle state of the engine.
func (e *Engine) State() State {
	return e.lifecycle.Current()
}
