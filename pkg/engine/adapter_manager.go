package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/BYTE-6D65/movement/pkg/adapter"
	"github.com/BYTE-6D65/movement/pkg/event"
)

// AdapterManager manages the lifecycle of location sources attached to the
// engine. It starts adapters against the engine's input bus and clock.
type AdapterManager struct {
	engine *Engine
	mu     sync.RWMutex

	adapters map[string]adapter.Adapter
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewAdapterManager creates a new adapter manager for the given engine.
func NewAdapterManager(engine *Engine) *AdapterManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &AdapterManager{
		engine:   engine,
		adapters: make(map[string]adapter.Adapter),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register registers an adapter with the manager.
// The adapter is not started until Start() is called.
func (m *AdapterManager) Register(a adapter.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := a.ID()
	if _, exists := m.adapters[id]; exists {
		return fmt.Errorf("adapter %s already registered", id)
	}

	m.adapters[id] = a
	return nil
}

// Unregister removes an adapter from the manager, stopping it if it runs.
func (m *AdapterManager) Unregister(adapterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, exists := m.adapters[adapterID]
	if !exists {
		return fmt.Errorf("adapter %s not found", adapterID)
	}

	if err := stopAdapter(a); err != nil {
		return fmt.Errorf("failed to stop adapter %s: %w", adapterID, err)
	}

	delete(m.adapters, adapterID)
	return nil
}

// Start starts all registered adapters.
// A failed adapter is reported on the error bus and the others are stopped.
func (m *AdapterManager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var startErrors []error

	for id, a := range m.adapters {
		if err := a.Start(m.ctx, m.engine.InputBus(), m.engine.Clock()); err != nil {
			m.engine.publishError(event.NewErrorEvent(event.ErrorSeverityLevel, event.CodeAdapterFail, "adapter:"+a.Type(), err.Error()).
				WithContext("adapter", id))
			startErrors = append(startErrors, fmt.Errorf("adapter %s: %w", id, err))
		}
	}

	if len(startErrors) > 0 {
		// Best effort: stop any adapters that did start
		m.stopAll()
		return fmt.Errorf("failed to start adapters: %w", errors.Join(startErrors...))
	}

	return nil
}

// Stop stops all running adapters.
func (m *AdapterManager) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stopAll()
}

// stopAll stops every adapter. Must be called with at least read lock held.
func (m *AdapterManager) stopAll() error {
	var stopErrors []error

	for id, a := range m.adapters {
		if err := stopAdapter(a); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("adapter %s: %w", id, err))
		}
	}

	if len(stopErrors) > 0 {
		return fmt.Errorf("errors stopping adapters: %w", errors.Join(stopErrors...))
	}

	return nil
}

func stopAdapter(a adapter.Adapter) error {
	if err := a.Stop(); err != nil && !errors.Is(err, adapter.ErrNotStarted) {
		return err
	}
	return nil
}

// Shutdown cancels the adapters' context and stops them.
func (m *AdapterManager) Shutdown() error {
	m.cancel()
	return m.Stop()
}

// List returns the registered adapter IDs, sorted.
func (m *AdapterManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get retrieves an adapter by ID.
func (m *AdapterManager) Get(adapterID string) (adapter.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, exists := m.adapters[adapterID]
	return a, exists
}
