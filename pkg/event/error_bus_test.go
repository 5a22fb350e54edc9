package event

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestErrorBus_PublishNeverBlocks(t *testing.T) {
	bus := NewErrorBus(2)
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	delivered := 0
	for i := 0; i < 5; i++ {
		delivered += bus.Publish(NewErrorEvent(WarningSeverity, CodeDependentMissing, "test", "missing"))
	}

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if bus.DroppedCount() != 3 {
		t.Errorf("expected 3 dropped, got %d", bus.DroppedCount())
	}
	if len(sub.Events()) != 2 {
		t.Errorf("expected 2 buffered, got %d", len(sub.Events()))
	}
}

func TestErrorBus_Unsubscribe(t *testing.T) {
	bus := NewErrorBus(0)
	defer bus.Close()

	sub, _ := bus.Subscribe(context.Background())
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(sub)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel")
	}
	if got := bus.Publish(NewErrorEvent(InfoSeverity, CodeShutdown, "test", "bye")); got != 0 {
		t.Errorf("expected no deliveries, got %d", got)
	}
}

func TestErrorBus_SubscribeAfterClose(t *testing.T) {
	bus := NewErrorBus(4)
	bus.Close()

	if _, err := bus.Subscribe(context.Background()); err != ErrErrorBusClosed {
		t.Errorf("expected ErrErrorBusClosed, got %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestErrorBus_LogHandler(t *testing.T) {
	bus := NewErrorBus(4)
	defer bus.Close()

	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := bus.SubscribeWithHandler(ctx, LogHandler(logger)); err != nil {
		t.Fatalf("SubscribeWithHandler: %v", err)
	}

	evt := NewErrorEvent(WarningSeverity, CodeDependentMisconfigured, "coordinator:person.jane", "missing mode_type").
		WithEntity("sensor.jane_walking").
		WithContext("attempt", 1)
	bus.Publish(evt)

	deadline := time.After(time.Second)
	for !strings.Contains(out.String(), CodeDependentMisconfigured) {
		select {
		case <-deadline:
			t.Fatalf("log output never arrived: %q", out.String())
		case <-time.After(5 * time.Millisecond):
		}
	}

	line := out.String()
	for _, want := range []string{"level=WARN", "entity=sensor.jane_walking", "attempt=1", "missing mode_type"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestErrorSeverity(t *testing.T) {
	tests := []struct {
		severity ErrorSeverity
		name     string
		level    slog.Level
	}{
		{DebugSeverity, "DEBUG", slog.LevelDebug},
		{InfoSeverity, "INFO", slog.LevelInfo},
		{WarningSeverity, "WARNING", slog.LevelWarn},
		{ErrorSeverityLevel, "ERROR", slog.LevelError},
		{CriticalSeverity, "CRITICAL", slog.LevelError},
	}
	for _, tt := range tests {
		if tt.severity.String() != tt.name {
			t.Errorf("String() = %s, want %s", tt.severity.String(), tt.name)
		}
		if tt.severity.Level() != tt.level {
			t.Errorf("%s Level() = %v, want %v", tt.name, tt.severity.Level(), tt.level)
		}
	}
}
