package movement

import (
	"bytes"

	"github.com/go-json-experiment/json"
)

// Opt is a value that is either Missing or Explicit. An explicit zero value
// (false, 0, "") is distinct from Missing and survives serialization.
//
// Missing marshals as null. Combined with the `omitzero` tag option a Missing
// field is left out of the object entirely.
type Opt[T any] struct {
	v  T
	ok bool
}

// Some returns an explicit value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v: v, ok: true}
}

// None returns a missing value.
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it is explicit.
func (o Opt[T]) Get() (T, bool) {
	return o.v, o.ok
}

// IsSet reports whether the value is explicit.
func (o Opt[T]) IsSet() bool {
	return o.ok
}

// IsZero reports whether the value is missing.
func (o Opt[T]) IsZero() bool {
	return !o.ok
}

// Or returns the value, or def when missing.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

func (o *Opt[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
