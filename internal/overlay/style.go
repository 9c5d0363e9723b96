package overlay

import (
	"fmt"
	"image/color"
	"strconv"

	"github.com/suniash/yolo-playground/internal/tracks"
)

// DefaultTrailWindow is how many samples before the current frame the ball
// trail reaches back.
const DefaultTrailWindow = 30

// Color is a non-premultiplied RGBA color. It encodes as a CSS color string.
type Color color.NRGBA

// Hex parses "#rrggbb" into an opaque Color.
func Hex(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return Color{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func mustHex(s string) Color {
	c, err := Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// NRGBA returns c as an image/color value.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA(c)
}

// String formats c as "#rrggbb" when opaque, otherwise as "rgba(r, g, b, a)".
func (c Color) String() string {
	if c.A == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	alpha := strconv.FormatFloat(float64(c.A)/0xff, 'f', 2, 64)
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, alpha)
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Style holds the fixed visual policy of the overlay.
type Style struct {
	TeamA Color
	TeamB Color
	Ball  Color
	Trail Color

	PlayerLineWidth float64
	BallLineWidth   float64
	TrailLineWidth  float64

	// Label anchor relative to the scaled top-left corner of a box.
	LabelOffsetX float64
	LabelOffsetY float64

	TrailWindow int
}

// DefaultStyle returns the dashboard palette.
func DefaultStyle() Style {
	return Style{
		TeamA:           mustHex("#4cc9f0"),
		TeamB:           mustHex("#f48c06"),
		Ball:            mustHex("#f72585"),
		Trail:           Color{R: 247, G: 37, B: 133, A: 153},
		PlayerLineWidth: 3,
		BallLineWidth:   2,
		TrailLineWidth:  2,
		LabelOffsetX:    4,
		LabelOffsetY:    -4,
		TrailWindow:     DefaultTrailWindow,
	}
}

// colorFor picks the stroke color of an object. Confidence plays no part.
func (s Style) colorFor(obj tracks.Object) Color {
	if obj.Label == tracks.LabelBall {
		return s.Ball
	}
	if obj.Team == tracks.TeamB {
		return s.TeamB
	}
	return s.TeamA
}

func (s Style) lineWidthFor(obj tracks.Object) float64 {
	if obj.Label == tracks.LabelBall {
		return s.BallLineWidth
	}
	return s.PlayerLineWidth
}
