package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrErrorBusClosed is returned when subscribing to a closed ErrorBus.
var ErrErrorBusClosed = errors.New("event: error bus is closed")

// ErrorBus is a bounded, lossy bus for error events. Publish never blocks;
// events for full subscribers are dropped and counted.
type ErrorBus struct {
	subs       atomic.Pointer[[]*ErrorSubscription]
	dropped    atomic.Uint64
	nextID     atomic.Uint64
	mu         sync.Mutex // guards subscription changes
	closed     bool
	bufferSize int
}

// ErrorSubscription receives error events.
type ErrorSubscription struct {
	id     string
	ch     chan ErrorEvent
	closed atomic.Bool
}

// NewErrorBus creates an error bus buffering bufferSize events per subscriber,
// 32 when bufferSize is not positive.
func NewErrorBus(bufferSize int) *ErrorBus {
	if bufferSize <= 0 {
		bufferSize = 32
	}

	bus := &ErrorBus{bufferSize: bufferSize}
	empty := make([]*ErrorSubscription, 0)
	bus.subs.Store(&empty)
	return bus
}

// Publish delivers evt to every subscriber with buffer space and returns the
// number of deliveries.
func (b *ErrorBus) Publish(evt ErrorEvent) int {
	subs := b.subs.Load()
	if subs == nil {
		return 0
	}

	delivered := 0
	for _, sub := range *subs {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribe adds a subscriber for events published from now on.
func (b *ErrorBus) Subscribe(ctx context.Context) (*ErrorSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrErrorBusClosed
	}

	sub := &ErrorSubscription{
		id: fmt.Sprintf("err-sub-%d", b.nextID.Add(1)),
		ch: make(chan ErrorEvent, b.bufferSize),
	}

	old := *b.subs.Load()
	next := make([]*ErrorSubscription, len(old), len(old)+1)
	copy(next, old)
	next = append(next, sub)
	b.subs.Store(&next)

	return sub, nil
}

// Unsubscribe removes sub and closes its channel.
func (b *ErrorBus) Unsubscribe(sub *ErrorSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	sub.Close()

	old := *b.subs.Load()
	next := make([]*ErrorSubscription, 0, len(old))
	for _, s := range old {
		if s != sub {
			next = append(next, s)
		}
	}
	b.subs.Store(&next)
}

// Close closes every subscription.
func (b *ErrorBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range *b.subs.Load() {
		sub.Close()
	}
	empty := make([]*ErrorSubscription, 0)
	b.subs.Store(&empty)
	return nil
}

// DroppedCount returns the number of events dropped for full subscribers.
func (b *ErrorBus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *ErrorBus) SubscriberCount() int {
	return len(*b.subs.Load())
}

func (s *ErrorSubscription) Events() <-chan ErrorEvent {
	return s.ch
}

// Close stops delivery. It is safe to call more than once.
func (s *ErrorSubscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

func (s *ErrorSubscription) ID() string {
	return s.id
}

// ErrorHandler processes error events.
type ErrorHandler func(ErrorEvent)

// SubscribeWithHandler runs handler for each event in a goroutine until ctx is
// done or the bus closes.
func (b *ErrorBus) SubscribeWithHandler(ctx context.Context, handler ErrorHandler) (*ErrorSubscription, error) {
	sub, err := b.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				handler(evt)
			}
		}
	}()

	return sub, nil
}

// LogHandler returns a handler that writes events to logger at their severity.
func LogHandler(logger *slog.Logger) ErrorHandler {
	return func(evt ErrorEvent) {
		logger.LogAttrs(context.Background(), evt.Severity.Level(), evt.Message, evt.LogAttrs()...)
	}
}
