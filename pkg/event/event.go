package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/BYTE-6D65/movement/pkg/movement"
)

// Event types. Changes are published as TypeChangePrefix + the change type,
// e.g. "movement.change.location_changed".
const (
	TypeChangePrefix = "movement.change."
	TypeChangeAll    = TypeChangePrefix + "*"

	TypeUpdate          = "movement.update"
	TypeDependentUpdate = "movement.template_entity_should_apply_update"
	TypeDebugChange     = "movement._change"
)

// MetaEntity is the metadata key naming the tracked entity.
const MetaEntity = "entity"

// Event is a message envelope carrying a JSON payload.
type Event struct {
	ID string `json:"id"`

	// Type is a namespaced event type, e.g. "movement.update"
	Type string `json:"type"`

	// Source identifies the component that published the event
	Source string `json:"source"`

	Timestamp time.Time `json:"timestamp"`

	// Data is the encoded payload
	Data []byte `json:"data,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// CorrelationID links the events produced by one recalculation
	CorrelationID string `json:"correlation_id,omitempty"`

	// CausationID identifies the change that caused this event
	CausationID string `json:"causation_id,omitempty"`
}

// EventCodec serializes event payloads.
type EventCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec implements EventCodec with go-json-experiment.
type JSONCodec struct{}

func (c JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewEvent creates an event with a generated ID, stamped with the current time.
func NewEvent(eventType, source string, payload any, codec EventCodec) (*Event, error) {
	return NewEventAt(eventType, source, payload, codec, time.Now())
}

// NewEventAt creates an event stamped with at.
func NewEventAt(eventType, source string, payload any, codec EventCodec, at time.Time) (*Event, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: at,
		Data:      data,
		Metadata:  make(map[string]string),
	}, nil
}

// WithMetadata adds a metadata key-value pair.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

func (e *Event) WithCausationID(id string) *Event {
	e.CausationID = id
	return e
}

// Entity returns the tracked entity named in metadata.
func (e *Event) Entity() string {
	return e.Metadata[MetaEntity]
}

// DecodePayload deserializes the event data into v. Empty data is a no-op.
func (e *Event) DecodePayload(v any, codec EventCodec) error {
	if len(e.Data) == 0 {
		return nil
	}
	return codec.Unmarshal(e.Data, v)
}

// NewChangeEvent wraps a change for entity.
func NewChangeEvent(entity, source string, change movement.Change, at time.Time) (*Event, error) {
	evt, err := NewEventAt(TypeChangePrefix+change.ChangeType(), source, change, JSONCodec{}, at)
	if err != nil {
		return nil, err
	}
	return evt.WithMetadata(MetaEntity, entity), nil
}

// DecodeChange decodes a change event back into its variant.
func DecodeChange(evt Event) (movement.Change, error) {
	changeType, ok := strings.CutPrefix(evt.Type, TypeChangePrefix)
	if !ok {
		return nil, fmt.Errorf("event %s: not a change event", evt.Type)
	}

	codec := JSONCodec{}
	switch changeType {
	case movement.ChangeLocation:
		var c movement.LocationChanged
		if err := evt.DecodePayload(&c, codec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", changeType, err)
		}
		return c, nil
	case movement.ChangeAdjustment:
		var c movement.ManualAdjustment
		if err := evt.DecodePayload(&c, codec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", changeType, err)
		}
		return c, nil
	case movement.ChangeReset:
		return movement.ResetRequest{}, nil
	case movement.ChangeSpeedStale:
		return movement.SpeedStale{}, nil
	case movement.ChangeStalled:
		return movement.UpdatesStalled{}, nil
	default:
		return nil, fmt.Errorf("event %s: unknown change type %q", evt.ID, changeType)
	}
}
