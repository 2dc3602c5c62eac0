package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Code classifies a validation failure.
type Code string

const (
	CodeEmpty          Code = "empty"
	CodeTooShort       Code = "too_short"
	CodeTooLong        Code = "too_long"
	CodeWordTooLong    Code = "word_too_long"
	CodeForbidden      Code = "forbidden"
	CodeInvalidPattern Code = "invalid_pattern"
)

// Config controls the sanitization pipeline and the checks applied afterwards.
// Zero values disable the corresponding length checks.
type Config struct {
	TrimWhitespace    bool
	StripInvisible    bool
	Normalize         bool
	AllowEmpty        bool
	MinLength         int
	MaxLength         int
	MaxWordLength     int
	ForbiddenPatterns []string
}

// DefaultConfig mirrors the settings used by the chat input.
func DefaultConfig() Config {
	return Config{
		TrimWhitespace: true,
		StripInvisible: true,
		Normalize:      true,
		MaxLength:      10000,
	}
}

// Error describes the first failed check.
type Error struct {
	Code    Code
	Message string
	Limit   int
	Actual  int
	Pattern string
}

func (e *Error) Error() string {
	if e == nil {
		return "invalid content"
	}
	return e.Message
}

// Result is the outcome of Validate. Sanitized is only set when Valid is true
// and is what the caller should send in place of the raw input.
type Result struct {
	Valid     bool
	Error     *Error
	Sanitized string
}

// Validate sanitizes content according to cfg and runs the checks in order,
// returning the first failure.
func Validate(content string, cfg Config) Result {
	sanitized := Sanitize(content, cfg)
	length := utf8.RuneCountInString(sanitized)

	if length == 0 && !cfg.AllowEmpty {
		return fail(&Error{Code: CodeEmpty, Message: "message cannot be empty"})
	}
	if cfg.MinLength > 0 && length < cfg.MinLength {
		return fail(&Error{
			Code:    CodeTooShort,
			Message: fmt.Sprintf("message must be at least %d characters", cfg.MinLength),
			Limit:   cfg.MinLength,
			Actual:  length,
		})
	}
	if cfg.MaxLength > 0 && length > cfg.MaxLength {
		return fail(&Error{
			Code:    CodeTooLong,
			Message: fmt.Sprintf("message must be at most %d characters", cfg.MaxLength),
			Limit:   cfg.MaxLength,
			Actual:  length,
		})
	}
	if cfg.MaxWordLength > 0 {
		for _, word := range strings.Fields(sanitized) {
			if n := utf8.RuneCountInString(word); n > cfg.MaxWordLength {
				return fail(&Error{
					Code:    CodeWordTooLong,
					Message: fmt.Sprintf("words must be at most %d characters", cfg.MaxWordLength),
					Limit:   cfg.MaxWordLength,
					Actual:  n,
				})
			}
		}
	}
	for _, pattern := range cfg.ForbiddenPatterns {
		re, err := compile(pattern)
		if err != nil {
			return fail(&Error{
				Code:    CodeInvalidPattern,
				Message: fmt.Sprintf("invalid forbidden pattern %q: %v", pattern, err),
				Pattern: pattern,
			})
		}
		if re.MatchString(sanitized) {
			return fail(&Error{
				Code:    CodeForbidden,
				Message: "message contains forbidden content",
				Pattern: pattern,
			})
		}
	}

	return Result{Valid: true, Sanitized: sanitized}
}

// Sanitize runs only the pipeline: trim, strip invisible characters, NFC.
func Sanitize(content string, cfg Config) string {
	out := content
	if cfg.TrimWhitespace {
		out = strings.TrimSpace(out)
	}
	if cfg.StripInvisible {
		out = stripInvisible(out)
	}
	if cfg.Normalize {
		out = norm.NFC.String(out)
	}
	return out
}

var patternCache sync.Map

func compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

func fail(err *Error) Result {
	return Result{Valid: false, Error: err}
}

func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t':
			return r
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
