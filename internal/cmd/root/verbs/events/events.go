package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/cmd"
	cmdcommon "github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/cmd/output/jq"
	"github.com/kong/agentchat/internal/cmd/root/verbs"
	"github.com/kong/agentchat/internal/cmd/root/verbs/chat"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/util/i18n"
	"github.com/kong/agentchat/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	Verb = verbs.Events

	ConversationIDFlagName = "conversation-id"
	CountFlagName          = "count"
	TypeFlagName           = "type"
)

var (
	eventsShort = i18n.T("root.verbs.events.eventsShort", "Print events from the chat server stream")

	eventsLong = normalizers.LongDesc(i18n.T("root.verbs.events.eventsLong", `
  Subscribe to the chat server event stream and print every event as it
  arrives. The stream reconnects with backoff until interrupted or until
  --count events have been printed.

  Text output prints one line per event. JSON output prints one compact
  object per line and can be filtered with --jq.`))

	eventsExamples = normalizers.Examples(i18n.T("root.verbs.events.eventsExamples",
		fmt.Sprintf(`
	# Follow every event
	%[1]s events

	# Follow one conversation and print only the agent output
	%[1]s events --conversation-id c1 --type task_output --jq .content -r

	# Wait for the next completed task and exit
	%[1]s events --type task_completed --count 1 -o json`, meta.CLIName)))
)

func NewEventsCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     Verb.String(),
		Short:   eventsShort,
		Long:    eventsLong,
		Example: eventsExamples,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			c.SetContext(context.WithValue(c.Context(), verbs.Verb, Verb))
			if err := chat.BindFlags(c, args); err != nil {
				return err
			}
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return jq.BindFlags(cfg, c.Flags())
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	chat.AddConnectionFlags(command)
	command.Flags().String(ConversationIDFlagName, "",
		"Only receive events of this conversation.")
	command.Flags().Int(CountFlagName, 0,
		"Exit after this many events have been printed. 0 follows the stream until interrupted.")
	command.Flags().StringSlice(TypeFlagName, nil,
		"Only print events of these types. Legacy type names match their modern counterparts.")
	jq.AddFlags(command.Flags())

	return command
}

type options struct {
	conversationID string
	count          int
	types          []event.Type
}

func readOptions(c *cobra.Command) (options, error) {
	var opts options
	var err error
	if opts.conversationID, err = c.Flags().GetString(ConversationIDFlagName); err != nil {
		return opts, err
	}
	if opts.count, err = c.Flags().GetInt(CountFlagName); err != nil {
		return opts, err
	}
	if opts.count < 0 {
		return opts, &cmd.ConfigurationError{Err: fmt.Errorf("--%s cannot be negative", CountFlagName)}
	}
	types, err := c.Flags().GetStringSlice(TypeFlagName)
	if err != nil {
		return opts, err
	}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			opts.types = append(opts.types, event.Type(t).Canonical())
		}
	}
	return opts, nil
}

func (o options) wants(evt event.Event) bool {
	return len(o.types) == 0 || slices.Contains(o.types, evt.Type.Canonical())
}

func run(helper cmd.Helper) error {
	opts, err := readOptions(helper.GetCmd())
	if err != nil {
		return err
	}
	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	jqSettings, err := jq.ResolveSettings(helper.GetCmd(), cfg)
	if err != nil {
		return err
	}
	settings, err := chat.LoadSettings(helper)
	if err != nil {
		return err
	}
	client, err := chat.NewClient(settings)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	ctx := applog.WithChatLogContext(helper.GetContext(), applog.ChatLogContext{
		CommandPath:    helper.GetCmd().CommandPath(),
		ConversationID: opts.conversationID,
	})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := client.Subscribe(ctx, opts.conversationID)
	defer func() {
		if err := sub.Close(); err != nil {
			logDebug(ctx, "failed to close event stream", slog.String("error", err.Error()))
		}
	}()

	write := writerFor(outType, jqSettings, helper.GetStreams().Out)
	printed := 0
	changes := sub.StatusChanges()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			logDebug(ctx, "event stream status changed", slog.String("status", string(st)))
		case evt, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if !opts.wants(evt) {
				continue
			}
			if err := write(evt); err != nil {
				return cmd.PrepareExecutionError("failed to print event", err, helper.GetCmd())
			}
			printed++
			if opts.count > 0 && printed >= opts.count {
				return nil
			}
		}
	}
}

// writerFor picks how events are printed. A jq filter always works on the
// JSON form of the event.
func writerFor(outType cmdcommon.OutputFormat, settings jq.Settings, out io.Writer) func(event.Event) error {
	switch {
	case settings.HasFilter() || outType == cmdcommon.JSON:
		return func(evt event.Event) error { return settings.Write(evt, out) }
	case outType == cmdcommon.YAML:
		return func(evt event.Event) error {
			printer, err := cli.Format(outType.String(), out)
			if err != nil {
				return err
			}
			printer.Print(evt)
			printer.Flush()
			return nil
		}
	default:
		return func(evt event.Event) error {
			_, err := fmt.Fprintln(out, textLine(evt))
			return err
		}
	}
}

func textLine(evt event.Event) string {
	parts := []string{string(evt.Type)}
	if evt.ConversationID != "" {
		parts = append(parts, evt.ConversationID)
	}
	if agent := evt.Agent(); agent != "" {
		parts = append(parts, agent)
	}
	text := strings.TrimSpace(evt.Text())
	if text == "" {
		text = strings.TrimSpace(evt.Error)
	}
	if text != "" {
		parts = append(parts, strings.Join(strings.Fields(text), " "))
	}
	return strings.Join(parts, "\t")
}

func logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger := applog.FromContext(ctx)
	if logger == nil {
		return
	}
	attrs = append(applog.ChatLogContextAttrs(ctx), attrs...)
	logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}
