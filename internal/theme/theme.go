package theme

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultName is the built-in theme used when no override is provided.
const DefaultName = "default"

// Token represents a semantic color slot within the CLI.
type Token string

const (
	ColorTextPrimary Token = "text.primary"
	ColorTextMuted   Token = "text.muted"
	ColorBorder      Token = "border"
	ColorAccent      Token = "accent"
	ColorNotice      Token = "notice"
	ColorSuccess     Token = "success"
	ColorSuccessText Token = "success.text"
	ColorWarning     Token = "warning"
	ColorDanger      Token = "danger"
)

// Color stores light and dark variants for adaptive rendering.
type Color struct {
	Light string
	Dark  string
}

// Adaptive converts the color into a lipgloss adaptive color.
func (c Color) Adaptive() lipgloss.AdaptiveColor {
	light, dark := strings.TrimSpace(c.Light), strings.TrimSpace(c.Dark)
	switch {
	case light == "" && dark == "":
		return lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	case light == "":
		light = dark
	case dark == "":
		dark = light
	}
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// Palette represents a concrete theme.
type Palette struct {
	Name   string
	About  string
	Colors map[Token]Color
}

// Color returns a color for the provided token, falling back to the default palette.
func (p Palette) Color(token Token) Color {
	if c, ok := p.Colors[token]; ok {
		return c
	}
	if p.Name != DefaultName {
		return defaultPalette().Color(token)
	}
	return Color{}
}

// Adaptive returns the lipgloss adaptive color for the provided token.
func (p Palette) Adaptive(token Token) lipgloss.AdaptiveColor {
	return p.Color(token).Adaptive()
}

// ForegroundStyle returns a lipgloss style with the foreground set to the requested token.
func (p Palette) ForegroundStyle(token Token) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(p.Adaptive(token))
}

var (
	registryOnce sync.Once
	palettes     map[string]Palette
)

// Available returns the registered theme names, sorted.
func Available() []string {
	ensureRegistry()
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the palette with the provided name. An empty name selects the
// default palette.
func Get(name string) (Palette, bool) {
	ensureRegistry()
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = DefaultName
	}
	p, ok := palettes[name]
	return p, ok
}

// Lookup is Get with an error naming the valid choices.
func Lookup(name string) (Palette, error) {
	p, ok := Get(name)
	if !ok {
		return Palette{}, fmt.Errorf("unknown color theme %q, available: %s", name, strings.Join(Available(), ", "))
	}
	return p, nil
}

func ensureRegistry() {
	registryOnce.Do(func() {
		palettes = make(map[string]Palette)
		for _, p := range []Palette{
			defaultPalette(),
			derive("ocean", "Cool blues on either background.", "#0077B6", "#00B4D8", "#2A9D8F", "#E9C46A", "#E63946"),
			derive("ember", "Warm oranges and reds.", "#C2410C", "#FB923C", "#15803D", "#CA8A04", "#B91C1C"),
			derive("forest", "Muted greens.", "#2D6A4F", "#74C69D", "#40916C", "#D4A373", "#BC4749"),
		} {
			palettes[p.Name] = p
		}
	})
}

func defaultPalette() Palette {
	return Palette{
		Name:  DefaultName,
		About: "Adaptive palette that follows the terminal background.",
		Colors: map[Token]Color{
			ColorTextPrimary: {Light: "#1A1A1A", Dark: "#EDEDED"},
			ColorTextMuted:   {Light: "#7A7A7A", Dark: "#8C8C8C"},
			ColorBorder:      {Light: "#C8C8C8", Dark: "#3C3C3C"},
			ColorAccent:      {Light: "#0B5CAD", Dark: "#5FB3F9"},
			ColorNotice:      {Light: "#5E5E5E", Dark: "#A0A0A0"},
			ColorSuccess:     {Light: "#1F7A3A", Dark: "#6FCF97"},
			ColorSuccessText: {Light: "#FFFFFF", Dark: "#0B1F11"},
			ColorWarning:     {Light: "#8A5A00", Dark: "#F2C94C"},
			ColorDanger:      {Light: "#B00020", Dark: "#FF6B6B"},
		},
	}
}

// derive builds an adaptive palette from a handful of base colors. Light
// backgrounds get the darker accent, dark backgrounds the brighter one; muted
// and border tones are blended from the accent.
func derive(name, about, accent, accentBright, success, warning, danger string) Palette {
	accent, accentBright = normalizeHex(accent), normalizeHex(accentBright)
	return Palette{
		Name:  name,
		About: about,
		Colors: map[Token]Color{
			ColorTextPrimary: {Light: "#1A1A1A", Dark: "#EDEDED"},
			ColorTextMuted:   {Light: blend(accent, "#808080", 0.7), Dark: blend(accentBright, "#808080", 0.6)},
			ColorBorder:      {Light: lighten(accent, 0.7), Dark: darken(accentBright, 0.6)},
			ColorAccent:      {Light: accent, Dark: accentBright},
			ColorNotice:      {Light: darken(accent, 0.3), Dark: lighten(accentBright, 0.3)},
			ColorSuccess:     {Light: normalizeHex(success), Dark: lighten(success, 0.25)},
			ColorSuccessText: {Light: contrastColor(success), Dark: contrastColor(lighten(success, 0.25))},
			ColorWarning:     {Light: darken(warning, 0.2), Dark: normalizeHex(warning)},
			ColorDanger:      {Light: normalizeHex(danger), Dark: lighten(danger, 0.3)},
		},
	}
}

func normalizeHex(hex string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(hex, "#"))
	switch len(trimmed) {
	case 0:
		return ""
	case 3:
		var b strings.Builder
		b.WriteString("#")
		for _, r := range trimmed {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		return strings.ToUpper(b.String())
	default:
		if len(trimmed) > 6 {
			trimmed = trimmed[:6]
		}
		return "#" + strings.ToUpper(trimmed)
	}
}

func contrastColor(hex string) string {
	c, err := colorful.Hex(normalizeHex(hex))
	if err != nil {
		return "#121418"
	}
	r, g, b := c.LinearRgb()
	if 0.2126*r+0.7152*g+0.0722*b > 0.4 {
		return "#121418"
	}
	return "#F8F8F8"
}

func blend(hex, with string, amount float64) string {
	c, err := colorful.Hex(normalizeHex(hex))
	if err != nil {
		return normalizeHex(hex)
	}
	w, err := colorful.Hex(normalizeHex(with))
	if err != nil {
		return normalizeHex(hex)
	}
	return strings.ToUpper(c.BlendLab(w, min(max(amount, 0), 1)).Clamped().Hex())
}

func lighten(hex string, amount float64) string {
	return blend(hex, "#FFFFFF", amount)
}

func darken(hex string, amount float64) string {
	return blend(hex, "#000000", amount)
}
