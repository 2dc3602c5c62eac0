package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableIsSortedAndHasDefault(t *testing.T) {
	names := Available()
	assert.IsNonDecreasing(t, names)
	assert.Contains(t, names, DefaultName)
}

func TestGet(t *testing.T) {
	p, ok := Get("")
	require.True(t, ok)
	assert.Equal(t, DefaultName, p.Name)

	p, ok = Get("  Ocean ")
	require.True(t, ok)
	assert.Equal(t, "ocean", p.Name)

	_, ok = Get("nope")
	assert.False(t, ok)
}

func TestLookupListsChoices(t *testing.T) {
	_, err := Lookup("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultName)
	assert.Contains(t, err.Error(), "ember")
}

func TestDerivedPaletteIsComplete(t *testing.T) {
	base := defaultPalette()
	for _, name := range Available() {
		p, _ := Get(name)
		for token := range base.Colors {
			c := p.Colors[token]
			assert.NotEmpty(t, c.Light, "%s %s light", name, token)
			assert.NotEmpty(t, c.Dark, "%s %s dark", name, token)
		}
	}
}

func TestColorFallsBackToDefault(t *testing.T) {
	p := Palette{Name: "partial", Colors: map[Token]Color{ColorAccent: {Light: "#111111"}}}
	assert.Equal(t, "#111111", p.Adaptive(ColorAccent).Dark)
	assert.Equal(t, defaultPalette().Colors[ColorDanger], p.Color(ColorDanger))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "#AABBCC", normalizeHex("abc"))
	assert.Equal(t, "#12AB34", normalizeHex("#12ab34ff"))
	assert.Equal(t, "#121418", contrastColor("#FFFFFF"))
	assert.Equal(t, "#F8F8F8", contrastColor("#000000"))
	assert.Equal(t, "#121418", contrastColor(lighten("#336699", 0.9)))
	assert.Equal(t, "#F8F8F8", contrastColor(darken("#336699", 0.5)))
}
