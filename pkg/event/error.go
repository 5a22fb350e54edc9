package event

import (
	"fmt"
	"log/slog"
	"time"
)

// ErrorEvent reports a problem the host should see without interrupting
// recalculation, such as a misconfigured dependent entity. Error events travel
// on a separate lossy ErrorBus.
type ErrorEvent struct {
	Severity ErrorSeverity

	// Code is a stable identifier, e.g. "DEPENDENT_MISCONFIGURED"
	Code string

	Message string

	// Component names the source, e.g. "coordinator:person.jane"
	Component string

	// Entity is the tracked entity the problem relates to, if any
	Entity string

	Timestamp time.Time

	Context map[string]any

	Recoverable bool
}

// ErrorSeverity maps onto log levels.
type ErrorSeverity int

const (
	DebugSeverity ErrorSeverity = iota
	InfoSeverity
	WarningSeverity
	ErrorSeverityLevel
	CriticalSeverity
)

func (s ErrorSeverity) String() string {
	switch s {
	case DebugSeverity:
		return "DEBUG"
	case InfoSeverity:
		return "INFO"
	case WarningSeverity:
		return "WARNING"
	case ErrorSeverityLevel:
		return "ERROR"
	case CriticalSeverity:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Level returns the slog level for the severity.
func (s ErrorSeverity) Level() slog.Level {
	switch s {
	case DebugSeverity:
		return slog.LevelDebug
	case InfoSeverity:
		return slog.LevelInfo
	case WarningSeverity:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Error codes.
const (
	// Dependents
	CodeDependentMissing       = "DEPENDENT_MISSING"
	CodeDependentMisconfigured = "DEPENDENT_MISCONFIGURED"
	CodeTrackedEntityRemoved   = "TRACKED_ENTITY_REMOVED"

	// Recalculation
	CodeRecalcInFlight = "RECALC_IN_FLIGHT"
	CodeRecalcFailed   = "RECALC_FAILED"
	CodeDecodeFailed   = "DECODE_FAILED"

	// Persistence
	CodeStoreSaveFailed = "STORE_SAVE_FAILED"
	CodeStoreLoadFailed = "STORE_LOAD_FAILED"

	// Outputs
	CodePublishFailed = "PUBLISH_FAILED"
	CodeAdapterFail   = "ADAPTER_FAIL"
	CodeEmitterFail   = "EMITTER_FAIL"

	CodeShutdown = "SHUTDOWN"
)

// NewErrorEvent creates a recoverable error event stamped with the current time.
func NewErrorEvent(severity ErrorSeverity, code, component, message string) ErrorEvent {
	return ErrorEvent{
		Severity:    severity,
		Code:        code,
		Component:   component,
		Message:     message,
		Timestamp:   time.Now(),
		Context:     make(map[string]any),
		Recoverable: true,
	}
}

// WithEntity sets the related tracked entity.
func (e ErrorEvent) WithEntity(entity string) ErrorEvent {
	e.Entity = entity
	return e
}

// WithContext adds a context key-value pair.
func (e ErrorEvent) WithContext(key string, value any) ErrorEvent {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e ErrorEvent) WithRecoverable(recoverable bool) ErrorEvent {
	e.Recoverable = recoverable
	return e
}

// LogAttrs returns the event as slog attributes.
func (e ErrorEvent) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("component", e.Component),
		slog.Bool("recoverable", e.Recoverable),
	}
	if e.Entity != "" {
		attrs = append(attrs, slog.String("entity", e.Entity))
	}
	for k, v := range e.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("[%s] %s: %s (component=%s, entity=%s, recoverable=%t)",
		e.Severity, e.Code, e.Message, e.Component, e.Entity, e.Recoverable)
}
