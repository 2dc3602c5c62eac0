// Package chat holds the interactive chat command and the session wiring
// shared by every command that talks to the chat server.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kong/agentchat/internal/chat/tui"
	"github.com/kong/agentchat/internal/cmd"
	cmdcommon "github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/cmd/root/verbs"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/theme"
	"github.com/kong/agentchat/internal/util/i18n"
	"github.com/kong/agentchat/internal/util/normalizers"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Chat

	ThemeFlagName   = "theme"
	ThemeConfigPath = "theme"
)

var (
	chatShort = i18n.T("root.verbs.chat.short", "Start an interactive chat with the agent")
	chatLong  = normalizers.LongDesc(i18n.T("root.verbs.chat.long", `
  Open a full screen conversation with the agent. Replies stream in as the
  agent works; tool calls and progress are listed in the activity panel.

  Keys: Enter sends, Alt+Enter inserts a newline, Ctrl+R retries the last
  failed message, Ctrl+T cancels the running task, Ctrl+L clears the
  conversation, Ctrl+A toggles the activity panel and Ctrl+C quits.`))
	chatExamples = normalizers.Examples(i18n.T("root.verbs.chat.examples",
		fmt.Sprintf(`
	# Chat with the agent configured for the default profile
	%[1]s chat

	# Chat with a local server and keep a transcript
	%[1]s chat --base-url http://localhost:3000/api --transcript`, meta.CLIName)))
)

// AddColorFlag registers --color on c.
func AddColorFlag(c *cobra.Command) {
	colorMode := cmd.NewEnum(cmdcommon.ColorModes, cmdcommon.DefaultColorMode)
	c.Flags().Var(colorMode, cmdcommon.ColorFlagName,
		fmt.Sprintf(`Controls colorized terminal output.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			cmdcommon.ColorConfigPath, strings.Join(colorMode.Allowed, "|")))
}

// BindColorFlag binds --color when c declares it.
func BindColorFlag(c *cobra.Command, args []string) error {
	f := c.Flags().Lookup(cmdcommon.ColorFlagName)
	if f == nil {
		return nil
	}
	cfg, err := cmd.BuildHelper(c, args).GetConfig()
	if err != nil {
		return err
	}
	return cfg.BindFlag(cmdcommon.ColorConfigPath, f)
}

func NewChatCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     Verb.String(),
		Short:   chatShort,
		Long:    chatLong,
		Example: chatExamples,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			if err := BindFlags(c, args); err != nil {
				return err
			}
			if err := BindColorFlag(c, args); err != nil {
				return err
			}
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return cfg.BindFlag(ThemeConfigPath, c.Flags().Lookup(ThemeFlagName))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return runInteractive(cmd.BuildHelper(c, args))
		},
	}

	AddSessionFlags(command)
	AddColorFlag(command)
	command.Flags().String(ThemeFlagName, theme.DefaultName,
		fmt.Sprintf(`Color theme of the chat view.
- Config path: [ %s ]
- Allowed    : [ %s ]`, ThemeConfigPath, strings.Join(theme.Available(), "|")))

	return command
}

func runInteractive(helper cmd.Helper) error {
	streams := helper.GetStreams()
	if !streams.IsInteractive() {
		return cmd.PrepareExecutionError(
			"interactive chat requires a TTY",
			errors.New("input or output stream is not a terminal"),
			helper.GetCmd(),
		)
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	palette, err := theme.Lookup(cfg.GetString(ThemeConfigPath))
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	rt, err := NewRuntime(helper)
	if err != nil {
		return err
	}

	// stderr belongs to the UI until it exits
	applog.DisableErrorMirroring()
	defer applog.EnableErrorMirroring()

	rt.Start()
	defer func() {
		if err := rt.Stop(); err != nil {
			logDebug(rt.Context(), "chat session ended with error", slog.String("error", err.Error()))
		}
	}()

	err = tui.Run(rt.Context(), streams, rt.Controller, tui.Options{
		UseColor:         helper.UseColor(),
		Version:          meta.Version,
		BaseURL:          rt.Settings.BaseURL,
		WorkingDirectory: rt.Settings.WorkingDirectory,
		TranscriptDir:    rt.Recorder.Directory(),
		Theme:            palette,
	})
	if err != nil {
		return cmd.PrepareExecutionError("chat session failed", err, helper.GetCmd())
	}
	return nil
}
