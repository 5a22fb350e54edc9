// Package statemachine provides a small finite state machine used to guard
// lifecycles, e.g. an engine moving from idle to running to stopped.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNoTransition is returned by Trigger when the event is not valid in the
// current state.
var ErrNoTransition = errors.New("statemachine: no transition")

// Transition moves the machine from From to To when Event fires. Guard may
// veto it and Action runs before the state changes; an Action error leaves
// the machine in From.
type Transition[S, E ~string] struct {
	From  S
	To    S
	Event E

	Guard  func(ctx context.Context) bool
	Action func(ctx context.Context) error
}

// Hook observes completed transitions.
type Hook[S, E ~string] func(ctx context.Context, from, to S, event E)

// Machine is a finite state machine over string-like states and events.
// It is safe for concurrent use; transitions are serialized.
type Machine[S, E ~string] struct {
	mu          sync.Mutex
	current     S
	transitions map[S]map[E]Transition[S, E]
	hooks       []Hook[S, E]
}

// New creates a machine in the initial state.
func New[S, E ~string](initial S) *Machine[S, E] {
	return &Machine[S, E]{
		current:     initial,
		transitions: make(map[S]map[E]Transition[S, E]),
	}
}

// Add registers a transition. Each state accepts an event at most once.
func (m *Machine[S, E]) Add(t Transition[S, E]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transitions[t.From] == nil {
		m.transitions[t.From] = make(map[E]Transition[S, E])
	}
	if _, exists := m.transitions[t.From][t.Event]; exists {
		return fmt.Errorf("transition from %s on %s already exists", t.From, t.Event)
	}
	m.transitions[t.From][t.Event] = t
	return nil
}

// MustAdd is Add for static tables; it panics on a duplicate.
func (m *Machine[S, E]) MustAdd(ts ...Transition[S, E]) *Machine[S, E] {
	for _, t := range ts {
		if err := m.Add(t); err != nil {
			panic(err)
		}
	}
	return m
}

// OnTransition registers a hook run after every completed transition.
func (m *Machine[S, E]) OnTransition(hook Hook[S, E]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Trigger fires event. The lock is held for the whole transition, so guards
// and actions must not call back into the machine.
func (m *Machine[S, E]) Trigger(ctx context.Context, event E) error {
	m.mu.Lock()

	from := m.current
	t, ok := m.transitions[from][event]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w from %s on %s", ErrNoTransition, from, event)
	}
	if t.Guard != nil && !t.Guard(ctx) {
		m.mu.Unlock()
		return fmt.Errorf("guard rejected %s -> %s on %s", from, t.To, event)
	}
	if t.Action != nil {
		if err := t.Action(ctx); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("%s -> %s: %w", from, t.To, err)
		}
	}
	m.current = t.To
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, from, t.To, event)
	}
	return nil
}

// Current returns the current state.
func (m *Machine[S, E]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Is reports whether the machine is in state s.
func (m *Machine[S, E]) Is(s S) bool {
	return m.Current() == s
}

// Can reports whether event is valid in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transitions[m.current][event]
	return ok
}

// Events returns the events valid in the current state, sorted.
func (m *Machine[S, E]) Events() []E {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]E, 0, len(m.transitions[m.current]))
	for e := range m.transitions[m.current] {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}
