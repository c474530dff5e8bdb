// Package light holds the in-memory state of the case light: brightness and
// the color selected for each zone.
package light

import (
	"errors"
	"fmt"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Color is an index into the fixed firmware color table.
type Color uint8

// None turns a zone off.
const None Color = 0

// NumColors is the size of the firmware color table.
const NumColors = 17

// ErrInvalidColor is returned for names or indexes outside the color table.
var ErrInvalidColor = errors.New("invalid color")

type paletteEntry struct {
	name string
	hex  string
}

// Order matches the firmware table. Hex values approximate the gem tint and
// are only used for display.
var palette = [NumColors]paletteEntry{
	{"none", "#000000"},
	{"ruby", "#e0115f"},
	{"citrine", "#e4d00a"},
	{"amber", "#ffbf00"},
	{"peridot", "#b4c424"},
	{"emerald", "#50c878"},
	{"jade", "#00a86b"},
	{"topaz", "#ffc87c"},
	{"tanzanite", "#4d5aaf"},
	{"aquamarine", "#7fffd4"},
	{"sapphire", "#0f52ba"},
	{"iolite", "#5a4fcf"},
	{"amythest", "#9966cc"},
	{"kunzite", "#f0a1c2"},
	{"rhodolite", "#b3446c"},
	{"coral", "#ff7f50"},
	{"diamond", "#f4f8ff"},
}

// Valid reports whether c is inside the color table.
func (c Color) Valid() bool {
	return c < NumColors
}

func (c Color) String() string {
	if !c.Valid() {
		return fmt.Sprintf("color(%d)", uint8(c))
	}
	return palette[c].name
}

var tints [NumColors]colorful.Color

func init() {
	for i, e := range palette {
		c, err := colorful.Hex(e.hex)
		if err != nil {
			panic(fmt.Sprintf("palette %s: %v", e.name, err))
		}
		tints[i] = c
	}
}

// RGB returns the display tint of the color at full brightness.
func (c Color) RGB() colorful.Color {
	if !c.Valid() {
		return colorful.Color{}
	}
	return tints[c]
}

// Hex returns the full-brightness tint as #rrggbb.
func (c Color) Hex() string {
	return c.RGB().Hex()
}

// Effective returns the tint as it shows at brightness: the HSV value is
// scaled by brightness/MaxBrightness.
func (c Color) Effective(brightness uint8) colorful.Color {
	if brightness >= MaxBrightness {
		return c.RGB()
	}
	h, s, v := c.RGB().Hsv()
	return colorful.Hsv(h, s, v*float64(brightness)/float64(MaxBrightness)).Clamped()
}

// Nearest returns the palette color closest to hex (#rrggbb) by CIEDE2000
// distance. None is never returned.
func Nearest(hex string) (Color, error) {
	target, err := colorful.Hex(hex)
	if err != nil {
		return None, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	best, bestDist := Color(1), target.DistanceCIEDE2000(tints[1])
	for i := 2; i < NumColors; i++ {
		if d := target.DistanceCIEDE2000(tints[i]); d < bestDist {
			best, bestDist = Color(i), d
		}
	}
	return best, nil
}

// ParseColor resolves an exact color name.
func ParseColor(name string) (Color, error) {
	for i, e := range palette {
		if e.name == name {
			return Color(i), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrInvalidColor, name)
}

// Colors returns the full color table in firmware order.
func Colors() []Color {
	out := make([]Color, NumColors)
	for i := range out {
		out[i] = Color(i)
	}
	return out
}

// Names returns the color names in firmware order.
func Names() []string {
	out := make([]string, NumColors)
	for i, e := range palette {
		out[i] = e.name
	}
	return out
}

// FormatSelection lists every color name followed by a space, with the
// selected one in brackets, terminated by a newline.
func FormatSelection(selected Color) string {
	var sb strings.Builder
	for i, e := range palette {
		if Color(i) == selected {
			sb.WriteString("[" + e.name + "] ")
		} else {
			sb.WriteString(e.name + " ")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
