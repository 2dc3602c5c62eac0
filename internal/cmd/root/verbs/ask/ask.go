package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kong/agentchat/internal/chat/message"
	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/chat/render"
	"github.com/kong/agentchat/internal/chat/validation"
	"github.com/kong/agentchat/internal/cmd"
	cmdcommon "github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/cmd/root/verbs"
	"github.com/kong/agentchat/internal/cmd/root/verbs/chat"
	"github.com/kong/agentchat/internal/iostreams"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/util/i18n"
	"github.com/kong/agentchat/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Ask

	TimeoutFlagName   = "timeout"
	TimeoutConfigPath = "ask.timeout"
	DefaultTimeout    = 5 * time.Minute
)

var (
	askUse = fmt.Sprintf("%s <prompt>", Verb.String())

	askShort = i18n.T("root.verbs.ask.askShort", "Send one message to the agent and print the reply")

	askLong = normalizers.LongDesc(i18n.T("root.verbs.ask.askLong", `
  Send a single message, wait for the agent to finish and print its reply.
  The message goes through the same validation as the interactive chat.
  Use "-" as the prompt to read it from standard input.`))

	askExamples = normalizers.Examples(i18n.T("root.verbs.ask.askExamples",
		fmt.Sprintf(`
	# Ask the agent a question
	%[1]s ask "Summarize the README in this directory"

	# Ask without quotes (arguments joined with spaces)
	%[1]s ask list the failing tests

	# Read the prompt from a file and print the whole exchange as JSON
	%[1]s ask - -o json < prompt.txt`, meta.CLIName)))
)

// Result is the machine readable outcome of an ask.
type Result struct {
	SessionID      string             `json:"sessionId"                yaml:"sessionId"`
	ConversationID string             `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	Reply          string             `json:"reply"                    yaml:"reply"`
	Status         message.Status     `json:"status"                   yaml:"status"`
	Error          *message.ErrorInfo `json:"error,omitempty"          yaml:"error,omitempty"`
	Tools          []reducer.ToolCall `json:"tools,omitempty"          yaml:"tools,omitempty"`
	Activity       []reducer.Activity `json:"activity,omitempty"       yaml:"activity,omitempty"`
}

func NewAskCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     askUse,
		Short:   askShort,
		Long:    askLong,
		Example: askExamples,
		Args:    cobra.MinimumNArgs(1),
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			if err := chat.BindFlags(c, args); err != nil {
				return err
			}
			if err := chat.BindColorFlag(c, args); err != nil {
				return err
			}
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return cfg.BindFlag(TimeoutConfigPath, c.Flags().Lookup(TimeoutFlagName))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	chat.AddSessionFlags(command)
	chat.AddColorFlag(command)
	command.Flags().Duration(TimeoutFlagName, DefaultTimeout,
		fmt.Sprintf(`How long to wait for the agent to finish.
- Config path: [ %s ]`, TimeoutConfigPath))

	return command
}

func readPrompt(helper cmd.Helper) (string, error) {
	args := helper.GetArgs()
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(helper.GetStreams().In)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}

func run(helper cmd.Helper) error {
	prompt, err := readPrompt(helper)
	if err != nil {
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	timeout := cfg.GetDuration(TimeoutConfigPath)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rt, err := chat.NewRuntime(helper)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(rt.Context(), timeout)
	defer cancel()

	rt.Start()
	defer func() { _ = rt.Stop() }()

	if err := rt.WaitConnected(ctx); err != nil {
		return cmd.PrepareExecutionError("could not reach the chat server", err, helper.GetCmd())
	}

	if err := rt.Controller.Submit(prompt); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return cmd.PrepareExecutionError(verr.Message, err, helper.GetCmd(), "code", string(verr.Code))
		}
		return cmd.PrepareExecutionErrorFromErr(helper, err)
	}

	snap, err := rt.Controller.WaitIdle(ctx)
	if err != nil {
		return cmd.PrepareExecutionError("the agent did not finish in time", err, helper.GetCmd(),
			"timeout", timeout.String())
	}

	res := buildResult(rt.SessionID, snap)
	logger.LogAttrs(rt.Context(), slog.LevelDebug, "ask finished",
		slog.String("status", string(res.Status)),
		slog.String("conversation_id", res.ConversationID),
		slog.Int("tool_calls", len(res.Tools)))

	if err := print(helper, outType, res); err != nil {
		return err
	}
	if res.Status == message.StatusError {
		msg := "the agent reported an error"
		if res.Error != nil && res.Error.Message != "" {
			msg = res.Error.Message
		}
		cause := errors.New(msg)
		return cmd.PrepareExecutionError(msg, cause, helper.GetCmd(), cmd.TryConvertErrorToAttrs(cause)...)
	}
	return nil
}

// buildResult picks the outcome of the only exchange in snap. A failed send
// leaves the user message in error and no reply.
func buildResult(sessionID string, snap reducer.Snapshot) Result {
	res := Result{
		SessionID:      sessionID,
		ConversationID: snap.ConversationID,
		Tools:          snap.Tools,
		Activity:       snap.Activity,
	}

	for _, msg := range snap.Messages {
		if msg.Sender == message.SenderSelf && msg.Status == message.StatusError {
			res.Status = message.StatusError
			res.Error = msg.Error
			return res
		}
	}

	if reply, ok := snap.LastReply(); ok {
		res.Reply = reply.Content
		res.Status = reply.Status
		res.Error = reply.Error
	}
	return res
}

func print(helper cmd.Helper, outType cmdcommon.OutputFormat, res Result) error {
	out := helper.GetStreams().Out
	switch outType {
	case cmdcommon.JSON, cmdcommon.YAML:
		printer, err := cli.Format(outType.String(), out)
		if err != nil {
			return err
		}
		defer printer.Flush()
		printer.Print(res)
		return nil
	default:
		if strings.TrimSpace(res.Reply) == "" {
			return nil
		}
		formatted := render.Markdown(res.Reply, render.Options{
			NoColor: !helper.UseColor(),
			Width:   iostreams.TerminalWidth(out),
		})
		_, err := fmt.Fprintln(out, formatted)
		return err
	}
}
