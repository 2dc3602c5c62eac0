package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSanitizesBeforeChecks(t *testing.T) {
	require := require.New(t)

	res := Validate("  he\u200bllo\x07 \n", DefaultConfig())
	require.True(res.Valid)
	require.Nil(res.Error)
	require.Equal("hello", res.Sanitized)
}

func TestValidateKeepsNewlinesAndTabs(t *testing.T) {
	res := Validate("line one\n\tline two", DefaultConfig())
	require.True(t, res.Valid)
	assert.Equal(t, "line one\n\tline two", res.Sanitized)
}

func TestValidateNormalizesToNFC(t *testing.T) {
	decomposed := "cafe\u0301"
	res := Validate(decomposed, DefaultConfig())
	require.True(t, res.Valid)
	assert.Equal(t, "caf\u00e9", res.Sanitized)
}

func TestValidateFailureOrder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		cfg     Config
		code    Code
	}{
		{
			name:    "empty after sanitizing",
			content: " \u200b ",
			cfg:     DefaultConfig(),
			code:    CodeEmpty,
		},
		{
			name:    "too short",
			content: "hi",
			cfg:     Config{MinLength: 3},
			code:    CodeTooShort,
		},
		{
			name:    "too long counts runes",
			content: "\u00e9\u00e9\u00e9",
			cfg:     Config{MaxLength: 2},
			code:    CodeTooLong,
		},
		{
			name:    "long word",
			content: "short supercalifragilistic",
			cfg:     Config{MaxWordLength: 10},
			code:    CodeWordTooLong,
		},
		{
			name:    "forbidden pattern",
			content: "my password is hunter2",
			cfg:     Config{ForbiddenPatterns: []string{`nomatch`, `(?i)password`}},
			code:    CodeForbidden,
		},
		{
			name:    "length before pattern",
			content: "password",
			cfg:     Config{MaxLength: 3, ForbiddenPatterns: []string{`password`}},
			code:    CodeTooLong,
		},
		{
			name:    "bad pattern",
			content: "hello",
			cfg:     Config{ForbiddenPatterns: []string{`(`}},
			code:    CodeInvalidPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.content, tt.cfg)
			require.False(t, res.Valid)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.Empty(t, res.Sanitized)
		})
	}
}

func TestValidateAllowEmpty(t *testing.T) {
	res := Validate("   ", Config{TrimWhitespace: true, AllowEmpty: true})
	require.True(t, res.Valid)
	assert.Equal(t, "", res.Sanitized)
}

func TestValidateIsStableOnSanitizedInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWordLength = 20
	inputs := []string{
		"  hello\u200d world  ",
		"cafe\u0301 au lait",
		strings.Repeat("a", 25),
		"\tindented\n",
	}

	for _, in := range inputs {
		sanitized := Sanitize(in, cfg)
		assert.Equal(t, Validate(sanitized, cfg), Validate(Sanitize(sanitized, cfg), cfg), in)
	}
}

func TestErrorMessage(t *testing.T) {
	res := Validate("abcdef", Config{MaxLength: 5})
	require.False(t, res.Valid)
	assert.Equal(t, "message must be at most 5 characters", res.Error.Error())
	assert.Equal(t, 5, res.Error.Limit)
	assert.Equal(t, 6, res.Error.Actual)
}
