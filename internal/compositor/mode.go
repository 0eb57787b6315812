package compositor

import (
	"fmt"
	"strings"
)

// Mode is the placement policy used to map a source image onto a canvas
type Mode int

const (
	// ModeNone is the sentinel for an unrecognized mode name
	ModeNone Mode = iota
	// ModeCenter draws the image at native size, centered
	ModeCenter
	// ModeFill stretches the image to the canvas, ignoring aspect ratio
	ModeFill
	// ModeFull scales the image uniformly so it fits inside the canvas
	ModeFull
	// ModeTile repeats the image at native size, aligned on the canvas center
	ModeTile
)

// ParseMode converts a mode name to a Mode. An empty name selects ModeFull;
// unknown names map to ModeNone.
func ParseMode(name string) Mode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return ModeFull
	case "center":
		return ModeCenter
	case "fill":
		return ModeFill
	case "full":
		return ModeFull
	case "tile":
		return ModeTile
	default:
		return ModeNone
	}
}

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ModeCenter:
		return "center"
	case ModeFill:
		return "fill"
	case ModeFull:
		return "full"
	case ModeTile:
		return "tile"
	default:
		return "none"
	}
}

// Valid reports whether m names an implemented placement policy
func (m Mode) Valid() bool {
	return m >= ModeCenter && m <= ModeTile
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names are
// rejected here so that a typo in a config file fails at load time.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed := ParseMode(string(text))
	if parsed == ModeNone {
		return fmt.Errorf("%w: %q (should be center, fill, full or tile)", ErrUnimplementedMode, string(text))
	}
	*m = parsed
	return nil
}
