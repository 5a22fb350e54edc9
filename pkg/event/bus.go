package event

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("event: bus is closed")

// Bus is a publish/subscribe event bus.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	Close() error
}

// Filter selects events for a subscription. Empty fields match everything.
type Filter struct {
	// Types matches event types with filepath.Match patterns, e.g. "movement.change.*"
	Types []string

	Sources []string

	// Metadata entries must all be present with equal values
	Metadata map[string]string
}

// EntityFilter matches events of the given types for one tracked entity.
func EntityFilter(entity string, types ...string) Filter {
	return Filter{
		Types:    types,
		Metadata: map[string]string{MetaEntity: entity},
	}
}

// Subscription is an active subscription on a Bus.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// PublishObserver is notified of publish outcomes, e.g. for metrics.
type PublishObserver interface {
	Published(bus, eventType string)
	Dropped(bus, eventType string)
}

// InMemoryBus fans events out to buffered subscription channels.
type InMemoryBus struct {
	mu            sync.RWMutex
	name          string
	subscriptions map[string]*inMemorySubscription
	nextID        atomic.Uint64
	closed        bool
	bufferSize    int
	dropSlow      bool
	observer      PublishObserver
	dropped       atomic.Uint64
}

// BusOption configures an InMemoryBus.
type BusOption func(*InMemoryBus)

// WithBufferSize sets the buffer size of subscription channels.
func WithBufferSize(size int) BusOption {
	return func(b *InMemoryBus) {
		b.bufferSize = size
	}
}

// WithDropSlow drops events for full subscribers instead of blocking.
func WithDropSlow(drop bool) BusOption {
	return func(b *InMemoryBus) {
		b.dropSlow = drop
	}
}

// WithBusName names the bus for logs and metrics.
func WithBusName(name string) BusOption {
	return func(b *InMemoryBus) {
		b.name = name
	}
}

// WithObserver reports publishes and drops to o.
func WithObserver(o PublishObserver) BusOption {
	return func(b *InMemoryBus) {
		b.observer = o
	}
}

// NewInMemoryBus creates a bus with a buffer of 64 per subscription.
func NewInMemoryBus(opts ...BusOption) *InMemoryBus {
	bus := &InMemoryBus{
		name:          "bus",
		subscriptions: make(map[string]*inMemorySubscription),
		bufferSize:    64,
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

// Name returns the bus name.
func (b *InMemoryBus) Name() string {
	return b.name
}

// DroppedCount returns the number of deliveries dropped for slow subscribers.
func (b *InMemoryBus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Publish sends evt to every matching subscription.
func (b *InMemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subscriptions {
		if !sub.matches(evt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sub.send(ctx, evt, b.dropSlow) {
			b.dropped.Add(1)
			if b.observer != nil {
				b.observer.Dropped(b.name, evt.Type)
			}
		}
	}

	if b.observer != nil {
		b.observer.Published(b.name, evt.Type)
	}
	return nil
}

// Subscribe creates a subscription receiving events that match filter.
func (b *InMemoryBus) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &inMemorySubscription{
		id:     fmt.Sprintf("%s-sub-%d", b.name, b.nextID.Add(1)),
		bus:    b,
		filter: filter,
		ch:     make(chan Event, b.bufferSize),
	}

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// Close closes the bus and every subscription channel.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscriptions {
		sub.closeChannel()
	}
	b.subscriptions = nil
	return nil
}

type inMemorySubscription struct {
	id     string
	bus    *InMemoryBus
	filter Filter
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func (s *inMemorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *inMemorySubscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subscriptions, s.id)
	s.closeChannel()
	return nil
}

func (s *inMemorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers evt and reports whether it was delivered. A blocking send
// gives up when ctx is done.
func (s *inMemorySubscription) send(ctx context.Context, evt Event, dropSlow bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	if dropSlow {
		select {
		case s.ch <- evt:
			return true
		default:
			return false
		}
	}

	select {
	case s.ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *inMemorySubscription) matches(evt Event) bool {
	if len(s.filter.Types) > 0 && !matchesAny(evt.Type, s.filter.Types) {
		return false
	}
	if len(s.filter.Sources) > 0 && !matchesAny(evt.Source, s.filter.Sources) {
		return false
	}
	for key, value := range s.filter.Metadata {
		if evt.Metadata[key] != value {
			return false
		}
	}
	return true
}

// matchesAny reports whether str matches any filepath.Match pattern.
func matchesAny(str string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, str); err == nil && matched {
			return true
		}
	}
	return false
}
