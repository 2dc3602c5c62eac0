// Package jq filters and prints JSON values with gojq, one result per line.
package jq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/itchyny/gojq"
	cmdpkg "github.com/kong/agentchat/internal/cmd"
	cmdcommon "github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/config"
	"github.com/kong/agentchat/internal/iostreams"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	FlagName                    = "jq"
	ColorFlagName               = "jq-color"
	ColorThemeFlagName          = "jq-color-theme"
	RawOutputFlagName           = "jq-raw-output"
	RawOutputFlagShort          = "r"
	DefaultExpressionConfigPath = "jq.default-expression"
	ColorEnabledConfigPath      = "jq.color.enabled"
	ColorThemeConfigPath        = "jq.color.theme"
	RawOutputConfigPath         = "jq.raw-output"
	DefaultTheme                = "friendly"
)

var jqQueryCache sync.Map

type Settings struct {
	Filter    string
	ColorMode cmdcommon.ColorMode
	Theme     string
	RawOutput bool
}

func AddFlags(flags *pflag.FlagSet) {
	flags.String(FlagName, "",
		fmt.Sprintf(`Filter each value with a jq expression (gojq).
- Config path: [ %s ]`, DefaultExpressionConfigPath))

	jqColor := cmdpkg.NewEnum(cmdcommon.ColorModes, cmdcommon.DefaultColorMode)
	flags.Var(jqColor, ColorFlagName,
		fmt.Sprintf(`Controls colorized output for jq results.
- Config path: [ %s ]
- Allowed    : [ %s ]`, ColorEnabledConfigPath, strings.Join(cmdcommon.ColorModes, "|")))

	flags.String(ColorThemeFlagName, DefaultTheme,
		fmt.Sprintf(`Select the color theme used for jq results.
- Config path: [ %s ]
- Examples   : [ friendly, github-dark, dracula ]`, ColorThemeConfigPath))

	flags.BoolP(RawOutputFlagName, RawOutputFlagShort, false,
		fmt.Sprintf(`Output string jq results without JSON quotes (like jq -r).
- Config path: [ %s ]`, RawOutputConfigPath))
}

func BindFlags(cfg config.Hook, flags *pflag.FlagSet) error {
	if cfg == nil || flags == nil {
		return nil
	}

	bindings := []struct{ flag, cfgPath string }{
		{ColorFlagName, ColorEnabledConfigPath},
		{ColorThemeFlagName, ColorThemeConfigPath},
		{RawOutputFlagName, RawOutputConfigPath},
	}
	for _, b := range bindings {
		if f := flags.Lookup(b.flag); f != nil {
			if err := cfg.BindFlag(b.cfgPath, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResolveSettings merges the jq flags of command with cfg. The filter flag
// wins over the configured default expression.
func ResolveSettings(command *cobra.Command, cfg config.Hook) (Settings, error) {
	settings := Settings{
		Theme:     DefaultTheme,
		ColorMode: cmdcommon.ColorModeAuto,
	}
	if command == nil || command.Flags().Lookup(FlagName) == nil {
		return settings, nil
	}
	flags := command.Flags()

	filter, err := flags.GetString(FlagName)
	if err != nil {
		return Settings{}, err
	}
	settings.Filter = strings.TrimSpace(filter)
	if flags.Changed(FlagName) && settings.Filter == "" {
		settings.Filter = "."
	}

	if cfg == nil {
		settings.RawOutput, err = flags.GetBool(RawOutputFlagName)
		return settings, err
	}

	if !flags.Changed(FlagName) {
		if def := strings.TrimSpace(cfg.GetString(DefaultExpressionConfigPath)); def != "" {
			settings.Filter = def
		}
	}
	mode, err := cmdcommon.ColorModeStringToIota(strings.ToLower(strings.TrimSpace(cfg.GetString(ColorEnabledConfigPath))))
	if err != nil {
		return Settings{}, &cmdpkg.ConfigurationError{Err: err}
	}
	settings.ColorMode = mode
	if theme := strings.TrimSpace(cfg.GetString(ColorThemeConfigPath)); theme != "" {
		settings.Theme = theme
	}
	settings.RawOutput = cfg.GetBool(RawOutputConfigPath)

	if settings.RawOutput && !settings.HasFilter() {
		return Settings{}, &cmdpkg.ConfigurationError{
			Err: fmt.Errorf("--%s requires --%s", RawOutputFlagName, FlagName),
		}
	}
	if settings.HasFilter() {
		if _, err := getCachedQuery(settings.Filter); err != nil {
			return Settings{}, &cmdpkg.ConfigurationError{Err: err}
		}
	}
	return settings, nil
}

func (s Settings) HasFilter() bool {
	return strings.TrimSpace(s.Filter) != ""
}

// Write filters value and prints every result on its own line. Without a
// filter the value itself is printed. Colors are applied to objects and arrays
// when the color mode allows it for out.
func (s Settings) Write(value any, out io.Writer) error {
	results := []any{value}
	if s.HasFilter() {
		var err error
		results, err = Evaluate(value, s.Filter)
		if err != nil {
			return err
		}
	}

	color := ShouldUseColor(s.ColorMode, out)
	for _, result := range results {
		if str, ok := result.(string); ok && s.RawOutput {
			if _, err := fmt.Fprintln(out, str); err != nil {
				return err
			}
			continue
		}
		line, err := encode(result, color, s.Theme)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs filter against value. value is round-tripped through JSON so
// structs are seen the way they serialize.
func Evaluate(value any, filter string) ([]any, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		filter = "."
	}

	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value before applying jq filter: %w", err)
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("value is not valid JSON: %w", err)
	}

	query, err := getCachedQuery(filter)
	if err != nil {
		return nil, err
	}

	iter := query.Run(payload)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq filter failed: %w", err)
		}
		results = append(results, normalizeGoJQValue(v))
	}
	return results, nil
}

func encode(value any, color bool, theme string) (string, error) {
	if !color {
		b, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to encode filtered result: %w", err)
		}
		return string(b), nil
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode filtered result: %w", err)
	}
	switch value.(type) {
	case map[string]any, []any:
		return strings.TrimRight(colorize(string(b), theme), "\n"), nil
	default:
		return string(b), nil
	}
}

func getCachedQuery(filter string) (*gojq.Code, error) {
	if code, ok := jqQueryCache.Load(filter); ok {
		return code.(*gojq.Code), nil
	}

	parsed, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression: %w", err)
	}

	jqQueryCache.Store(filter, code)
	return code, nil
}

func normalizeGoJQValue(v any) any {
	switch value := v.(type) {
	case map[any]any:
		converted := make(map[string]any, len(value))
		for k, val := range value {
			converted[fmt.Sprint(k)] = normalizeGoJQValue(val)
		}
		return converted
	case []any:
		for i := range value {
			value[i] = normalizeGoJQValue(value[i])
		}
		return value
	default:
		return value
	}
}

func ShouldUseColor(mode cmdcommon.ColorMode, out io.Writer) bool {
	switch mode {
	case cmdcommon.ColorModeAlways:
		return true
	case cmdcommon.ColorModeNever:
		return false
	default:
		if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
			return false
		}
		return iostreams.IsTerminal(out)
	}
}

func colorize(formatted, theme string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		return formatted
	}
	iterator, err := lexer.Tokenise(nil, formatted)
	if err != nil {
		return formatted
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		return formatted
	}

	style := styles.Get(theme)
	if style == nil {
		style = styles.Fallback
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return formatted
	}
	return buf.String()
}
