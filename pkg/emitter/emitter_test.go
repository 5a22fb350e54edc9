package emitter

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/movement/pkg/event"
)

func testEvent(t *testing.T, payload any) event.Event {
	t.Helper()
	at := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	evt, err := event.NewEventAt(event.TypeUpdate, "test", payload, event.JSONCodec{}, at)
	require.NoError(t, err)
	return *evt.WithMetadata(event.MetaEntity, "device_tracker.jane").WithCorrelationID("c-1")
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONLines("buf", &buf)
	assert.Equal(t, "jsonl:buf", e.ID())

	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, testEvent(t, map[string]float64{"distance": 1.5})))
	require.NoError(t, e.Emit(ctx, testEvent(t, map[string]float64{"distance": 2})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var line struct {
		Type          string             `json:"type"`
		Entity        string             `json:"entity"`
		CorrelationID string             `json:"correlation_id"`
		Payload       map[string]float64 `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &line))
	assert.Equal(t, event.TypeUpdate, line.Type)
	assert.Equal(t, "device_tracker.jane", line.Entity)
	assert.Equal(t, "c-1", line.CorrelationID)
	assert.Equal(t, 2.0, line.Payload["distance"])

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Emit(ctx, testEvent(t, nil)), ErrClosed)
}

func TestJSONLinesInvalidPayload(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONLines("buf", &buf)

	evt := testEvent(t, nil)
	evt.Data = []byte("{not json")
	assert.ErrorIs(t, e.Emit(context.Background(), evt), ErrInvalidPayload)
	assert.Zero(t, buf.Len())
}

func TestCollector(t *testing.T) {
	c := NewCollector("tui", 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		evt := testEvent(t, i)
		evt.ID = string(rune('a' + i))
		require.NoError(t, c.Emit(ctx, evt))
	}

	events := c.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, "c", events[1].ID)

	select {
	case <-c.Notify():
	default:
		t.Fatal("expected a notification")
	}
}
