package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTFallsBackToDefault(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "en_US.UTF-8")
	assert.Equal(t, "Send one message", T("test.missing", "Send one message"))
}

func TestTUsesLocale(t *testing.T) {
	require.NoError(t, Register(language.German, "test.greeting", "Hallo"))

	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "Hallo", T("test.greeting", "Hello"))

	t.Setenv("LANG", "C")
	assert.Equal(t, "Hello", T("test.greeting", "Hello"))
}

func TestUserLanguage(t *testing.T) {
	t.Setenv("LANG", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LC_ALL", "pt_BR@euro")
	assert.Equal(t, language.MustParse("pt-BR"), userLanguage())
}
