package render

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Theme is the palette the compositor draws with.
type Theme struct {
	Fill       color.RGBA
	Background color.RGBA
	Outline    color.RGBA
	Text       color.RGBA
	Dim        color.RGBA
}

// ThemeHex is a Theme spelled as "#rrggbb" strings, the form configuration uses.
type ThemeHex struct {
	Fill       string
	Background string
	Outline    string
	Text       string
	Dim        string
}

// DefaultThemeHex is the built-in palette.
var DefaultThemeHex = ThemeHex{
	Fill:       "#00b4ff",
	Background: "#1e1e1e",
	Outline:    "#505050",
	Text:       "#ffffff",
	Dim:        "#a0a0a0",
}

// ParseTheme converts hex strings into a Theme. Empty fields take the default.
func ParseTheme(h ThemeHex) (Theme, error) {
	var t Theme
	fields := []struct {
		name string
		hex  string
		def  string
		dst  *color.RGBA
	}{
		{"fill", h.Fill, DefaultThemeHex.Fill, &t.Fill},
		{"background", h.Background, DefaultThemeHex.Background, &t.Background},
		{"outline", h.Outline, DefaultThemeHex.Outline, &t.Outline},
		{"text", h.Text, DefaultThemeHex.Text, &t.Text},
		{"dim", h.Dim, DefaultThemeHex.Dim, &t.Dim},
	}
	for _, f := range fields {
		hex := f.hex
		if hex == "" {
			hex = f.def
		}
		c, err := colorful.Hex(hex)
		if err != nil {
			return Theme{}, fmt.Errorf("theme.%s: %w", f.name, err)
		}
		r, g, b := c.Clamped().RGB255()
		*f.dst = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return t, nil
}

// DefaultTheme returns the parsed built-in palette.
func DefaultTheme() Theme {
	t, err := ParseTheme(DefaultThemeHex)
	if err != nil {
		panic(err)
	}
	return t
}
