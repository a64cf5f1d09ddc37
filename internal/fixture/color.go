package fixture

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is one node colour.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

var (
	// White is used for shapes that declare no colour.
	White = RGB{R: 255, G: 255, B: 255}
	// FallbackColor replaces a colour attribute that is present but unreadable.
	FallbackColor = RGB{R: 200, G: 200, B: 200}
)

// ParseColor reads "#RRGGBB" (the leading '#' is optional).
func ParseColor(s string) (RGB, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("color %q: expected 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// ColorOrFallback parses s, returning FallbackColor when it cannot be read.
func ColorOrFallback(s string) (RGB, bool) {
	c, err := ParseColor(s)
	if err != nil {
		return FallbackColor, false
	}
	return c, true
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
