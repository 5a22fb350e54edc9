package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/BYTE-6D65/movement/pkg/emitter"
	"github.com/BYTE-6D65/movement/pkg/event"
)

// EmitterManager routes the engine's output events to emitters. Each emitter
// gets its own output bus subscription and goroutine.
type EmitterManager struct {
	engine *Engine
	mu     sync.RWMutex

	emitters      map[string]emitter.Emitter
	filters       map[string]event.Filter
	subscriptions map[string]event.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewEmitterManager creates a new emitter manager for the given engine.
func NewEmitterManager(engine *Engine) *EmitterManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &EmitterManager{
		engine:        engine,
		emitters:      make(map[string]emitter.Emitter),
		filters:       make(map[string]event.Filter),
		subscriptions: make(map[string]event.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Register registers an emitter with the manager and its event filter.
// The emitter is not started until Start() is called.
// An empty filter routes every output event to the emitter.
func (m *EmitterManager) Register(emit emitter.Emitter, filter event.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := emit.ID()
	if _, exists := m.emitters[id]; exists {
		return fmt.Errorf("emitter %s already registered", id)
	}

	m.emitters[id] = emit
	m.filters[id] = filter
	return nil
}

// Unregister removes an emitter from the manager, closing its subscription
// and the emitter itself.
func (m *EmitterManager) Unregister(emitterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	emit, exists := m.emitters[emitterID]
	if !exists {
		return fmt.Errorf("emitter %s not found", emitterID)
	}

	if sub, ok := m.subscriptions[emitterID]; ok {
		sub.Close()
		delete(m.subscriptions, emitterID)
	}

	if err := emit.Close(); err != nil {
		return fmt.Errorf("failed to close emitter %s: %w", emitterID, err)
	}

	delete(m.emitters, emitterID)
	delete(m.filters, emitterID)
	return nil
}

// Start subscribes every registered emitter to the output bus.
func (m *EmitterManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var startErrors []error

	for id, emit := range m.emitters {
		sub, err := m.engine.OutputBus().Subscribe(m.ctx, m.filters[id])
		if err != nil {
			startErrors = append(startErrors, fmt.Errorf("emitter %s: failed to subscribe: %w", id, err))
			continue
		}

		m.subscriptions[id] = sub

		m.wg.Add(1)
		go m.processEvents(id, emit, sub)
	}

	if len(startErrors) > 0 {
		// Best effort: stop any subscriptions that did start
		m.stopAll()
		return fmt.Errorf("failed to start emitters: %w", errors.Join(startErrors...))
	}

	return nil
}

// processEvents feeds one emitter until its subscription closes.
// Emit failures are reported on the error bus and do not stop the loop.
func (m *EmitterManager) processEvents(id string, emit emitter.Emitter, sub event.Subscription) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}

			if err := emit.Emit(m.ctx, evt); err != nil {
				m.engine.publishError(event.NewErrorEvent(event.WarningSeverity, event.CodeEmitterFail, "emitter:"+emit.Type(), err.Error()).
					WithEntity(evt.Entity()).
					WithContext("emitter", id).
					WithContext("event_type", evt.Type))
			}
		}
	}
}

// Stop closes all subscriptions and emitters.
func (m *EmitterManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopAll()
}

// stopAll closes every subscription, waits for the loops and closes the
// emitters. Must be called with lock held.
func (m *EmitterManager) stopAll() error {
	for id, sub := range m.subscriptions {
		sub.Close()
		delete(m.subscriptions, id)
	}

	// unlock while waiting, the loops may need the lock to report errors
	m.mu.Unlock()
	m.wg.Wait()
	m.mu.Lock()

	var closeErrors []error
	for id, emit := range m.emitters {
		if err := emit.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("emitter %s: %w", id, err))
		}
	}

	if len(closeErrors) > 0 {
		return fmt.Errorf("errors closing emitters: %w", errors.Join(closeErrors...))
	}

	return nil
}

// Shutdown cancels the emitters' context and stops them.
func (m *EmitterManager) Shutdown() error {
	m.cancel()
	return m.Stop()
}

// List returns the registered emitter IDs, sorted.
func (m *EmitterManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.emitters))
	for id := range m.emitters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get retrieves an emitter by ID.
func (m *EmitterManager) Get(emitterID string) (emitter.Emitter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emit, exists := m.emitters[emitterID]
	return emit, exists
}
