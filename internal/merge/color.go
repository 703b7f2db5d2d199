package merge

import (
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Palette is used when a calendar has no override, no usable native color and
// no remembered color. Indexed by calendar position.
var Palette = []string{
	"#4f86f7",
	"#34a853",
	"#f4b400",
	"#db4437",
	"#9c27b0",
	"#00acc1",
	"#ff7043",
	"#7cb342",
}

// darkLightness is the CIE L* threshold below which a color is too dark to
// read text on.
const darkLightness = 0.35

// brightenedLightness is the HSL lightness a too-dark color is lifted to.
const brightenedLightness = 0.6

// NormalizeHex accepts #rgb, #rrggbb and #rrggbbaa (CalDAV servers append an
// alpha channel) and returns lower-case #rrggbb, or "" when unusable.
func NormalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) == 9 {
		s = s[:7]
	}
	c, err := colorful.Hex(expandShort(s))
	if err != nil {
		return ""
	}
	return c.Hex()
}

func expandShort(s string) string {
	if len(s) != 4 {
		return s
	}
	return "#" + strings.Repeat(s[1:2], 2) + strings.Repeat(s[2:3], 2) + strings.Repeat(s[3:4], 2)
}

// TooDark reports whether a color falls under the luminance threshold.
func TooDark(hex string) bool {
	c, err := colorful.Hex(hex)
	if err != nil {
		return false
	}
	l, _, _ := c.Lab()
	return l < darkLightness
}

// Brighten lifts a too-dark color while keeping its hue.
func Brighten(hex string) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return hex
	}
	h, s, _ := c.Hsl()
	return colorful.Hsl(h, s, brightenedLightness).Clamped().Hex()
}

// ResolveColor applies the display color priority: user override, then the
// provider color (brightened when too dark), then the last remembered color,
// then the palette.
func ResolveColor(override string, overridden bool, native, remembered string, index int) string {
	if overridden {
		if c := NormalizeHex(override); c != "" {
			return c
		}
	}
	if c := NormalizeHex(native); c != "" {
		if TooDark(c) {
			return Brighten(c)
		}
		return c
	}
	if c := NormalizeHex(remembered); c != "" {
		return c
	}
	if index < 0 {
		index = -index
	}
	return Palette[index%len(Palette)]
}
