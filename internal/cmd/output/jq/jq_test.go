package jq

import (
	"bytes"
	"testing"
	"time"

	cmdcommon "github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/chat/event"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	values     map[string]string
	boolValues map[string]bool
}

func (s stubConfig) GetString(key string) string           { return s.values[key] }
func (s stubConfig) GetBool(key string) bool               { return s.boolValues[key] }
func (s stubConfig) GetInt(string) int                     { return 0 }
func (s stubConfig) GetIntOrElse(_ string, orElse int) int { return orElse }
func (s stubConfig) GetDuration(string) time.Duration      { return 0 }
func (s stubConfig) GetStringSlice(string) []string        { return nil }
func (s stubConfig) IsSet(key string) bool                 { _, ok := s.values[key]; return ok }
func (s stubConfig) Set(string, any)                       {}
func (s stubConfig) BindFlag(string, *pflag.Flag) error    { return nil }
func (s stubConfig) GetProfile() string                    { return "default" }
func (s stubConfig) GetPath() string                       { return "" }

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	command := &cobra.Command{Use: "test"}
	AddFlags(command.Flags())
	require.NoError(t, command.Flags().Parse(args))
	return command
}

func TestResolveSettingsDefaults(t *testing.T) {
	settings, err := ResolveSettings(newCommand(t), nil)
	require.NoError(t, err)
	require.Equal(t, "", settings.Filter)
	require.Equal(t, cmdcommon.ColorModeAuto, settings.ColorMode)
	require.Equal(t, DefaultTheme, settings.Theme)
}

func TestResolveSettingsEmptyFilterDefaultsToIdentity(t *testing.T) {
	command := newCommand(t)
	require.NoError(t, command.Flags().Set(FlagName, ""))

	settings, err := ResolveSettings(command, nil)
	require.NoError(t, err)
	require.Equal(t, ".", settings.Filter)
}

func TestResolveSettingsReadsRawOutputShortFlag(t *testing.T) {
	settings, err := ResolveSettings(newCommand(t, "-r"), nil)
	require.NoError(t, err)
	require.True(t, settings.RawOutput)
}

func TestResolveSettingsUsesConfiguredDefaultExpression(t *testing.T) {
	cfg := stubConfig{values: map[string]string{
		DefaultExpressionConfigPath: ".type",
		ColorEnabledConfigPath:      "never",
	}}

	settings, err := ResolveSettings(newCommand(t), cfg)
	require.NoError(t, err)
	require.Equal(t, ".type", settings.Filter)
	require.Equal(t, cmdcommon.ColorModeNever, settings.ColorMode)

	settings, err = ResolveSettings(newCommand(t, "--jq", ".content"), cfg)
	require.NoError(t, err)
	require.Equal(t, ".content", settings.Filter)
}

func TestResolveSettingsRejectsInvalidExpression(t *testing.T) {
	_, err := ResolveSettings(newCommand(t, "--jq", ".["), stubConfig{})
	require.Error(t, err)
}

func TestResolveSettingsRawRequiresFilter(t *testing.T) {
	cfg := stubConfig{boolValues: map[string]bool{RawOutputConfigPath: true}}
	_, err := ResolveSettings(newCommand(t), cfg)
	require.Error(t, err)
}

func TestWriteFiltersEvents(t *testing.T) {
	evt := event.Event{Type: event.TypeTaskOutput, ConversationID: "c1", Content: "Hello"}

	var out bytes.Buffer
	settings := Settings{Filter: ".content", ColorMode: cmdcommon.ColorModeNever, RawOutput: true}
	require.NoError(t, settings.Write(evt, &out))
	require.Equal(t, "Hello\n", out.String())

	out.Reset()
	settings = Settings{Filter: "{type, conversationId}", ColorMode: cmdcommon.ColorModeNever}
	require.NoError(t, settings.Write(evt, &out))
	require.JSONEq(t, `{"type":"task_output","conversationId":"c1"}`, out.String())
}

func TestWriteWithoutFilterPrintsCompactJSON(t *testing.T) {
	var out bytes.Buffer
	settings := Settings{ColorMode: cmdcommon.ColorModeNever}
	require.NoError(t, settings.Write(map[string]any{"a": 1}, &out))
	require.Equal(t, "{\"a\":1}\n", out.String())
}

func TestWriteMultipleResults(t *testing.T) {
	var out bytes.Buffer
	settings := Settings{Filter: ".[]", ColorMode: cmdcommon.ColorModeNever}
	require.NoError(t, settings.Write([]int{1, 2}, &out))
	require.Equal(t, "1\n2\n", out.String())
}

func TestWriteColorAlways(t *testing.T) {
	var out bytes.Buffer
	settings := Settings{ColorMode: cmdcommon.ColorModeAlways, Theme: DefaultTheme}
	require.NoError(t, settings.Write(map[string]any{"a": 1}, &out))
	require.Contains(t, out.String(), "\x1b[")
}
