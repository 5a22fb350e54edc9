package emitter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/BYTE-6D65/movement/pkg/event"
)

// Line is the JSON form of one emitted event.
type Line struct {
	Type          string         `json:"type"`
	Entity        string         `json:"entity,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       jsontext.Value `json:"payload,omitzero"`
}

// JSONLines writes each event as one JSON value per line.
type JSONLines struct {
	name string

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
}

// NewJSONLines creates an emitter writing to w. If w is an io.Closer it is
// closed with the emitter.
func NewJSONLines(name string, w io.Writer) *JSONLines {
	e := &JSONLines{name: name, w: w}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	return e
}

// ID returns "jsonl:" followed by the emitter's name.
func (e *JSONLines) ID() string {
	return "jsonl:" + e.name
}

// Type returns "jsonl".
func (e *JSONLines) Type() string {
	return "jsonl"
}

// Emit writes evt as a Line.
func (e *JSONLines) Emit(ctx context.Context, evt event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := jsontext.Value(evt.Data)
	if len(payload) > 0 && !payload.IsValid() {
		return fmt.Errorf("%s: %w", evt.Type, ErrInvalidPayload)
	}

	b, err := json.Marshal(Line{
		Type:          evt.Type,
		Entity:        evt.Entity(),
		Timestamp:     evt.Timestamp,
		CorrelationID: evt.CorrelationID,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	_, err = e.w.Write(append(b, '\n'))
	return err
}

// Close closes the underlying writer when it is closable.
func (e *JSONLines) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}
