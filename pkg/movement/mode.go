package movement

import (
	"fmt"

	"github.com/go-json-experiment/json"
)

// Mode is a mode of transit. The empty Mode means the mode is unknown.
type Mode string

const (
	NoMode  Mode = ""
	Walking Mode = "walking"
	Biking  Mode = "biking"
	Driving Mode = "driving"
)

// Modes lists the known modes, slowest first.
var Modes = []Mode{Walking, Biking, Driving}

// Level orders modes Walking < Biking < Driving. Unknown modes are -1.
func (m Mode) Level() int {
	switch m {
	case Walking:
		return 0
	case Biking:
		return 1
	case Driving:
		return 2
	default:
		return -1
	}
}

// Known reports whether m is one of Walking, Biking or Driving.
func (m Mode) Known() bool {
	return m.Level() >= 0
}

func (m Mode) String() string {
	if m == NoMode {
		return "none"
	}
	return string(m)
}

// ParseMode parses a mode name. The empty string parses to NoMode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if m == NoMode || m.Known() {
		return m, nil
	}
	return NoMode, fmt.Errorf("unknown mode of transit %q", s)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	if m == NoMode {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*m = NoMode
		return nil
	}
	parsed, err := ParseMode(*s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
