package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kong/agentchat/internal/cmd"
	"github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/cmd/root/verbs/ask"
	"github.com/kong/agentchat/internal/cmd/root/verbs/chat"
	"github.com/kong/agentchat/internal/cmd/root/verbs/events"
	"github.com/kong/agentchat/internal/cmd/root/version"
	"github.com/kong/agentchat/internal/config"
	"github.com/kong/agentchat/internal/iostreams"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/util/i18n"
	"github.com/kong/agentchat/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const defaultProfile = "default"

var (
	rootLong = normalizers.LongDesc(i18n.T("root.rootLong", `
  agentchat is a terminal client for a multi-agent chat server.

  It sends your messages to the server, follows the agent's work over a
  server-sent event stream and renders the replies as they arrive.`))

	rootShort = i18n.T("root.rootShort", fmt.Sprintf("%s talks to your coding agents", meta.CLIName))

	rootCmd *cobra.Command

	defaultConfigFilePath, _ = config.GetDefaultConfigFilePath()

	// Stores the global runtime value for the Configuration file path
	configFilePath = defaultConfigFilePath
	currProfile    = defaultProfile

	currConfig   config.Hook
	streams      *iostreams.IOStreams
	logCloser    io.Closer
	outputFormat = cmd.NewEnum(common.OutputFormats, common.DefaultOutputFormat)
	logLevel     = cmd.NewEnum(common.LogLevels, common.DefaultLogLevel)
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           meta.CLIName,
		Short:         rootShort,
		Long:          rootLong,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			// arguments are valid, failures from here on are not usage errors
			c.SilenceUsage = true

			logger, err := buildLogger()
			if err != nil {
				return err
			}
			ctx := context.WithValue(c.Context(), config.ConfigKey, currConfig)
			ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
			ctx = context.WithValue(ctx, applog.LoggerKey, logger)
			c.SetContext(ctx)

			logger.LogAttrs(ctx, applog.LevelTrace, "command starting",
				slog.String("command_path", c.CommandPath()),
				slog.String("profile", currConfig.GetProfile()),
				slog.String("config_file", currConfig.GetPath()))
			return nil
		},
	}

	// parses all flags not just the target command
	rootCmd.TraverseChildren = true

	rootCmd.PersistentFlags().StringVar(&configFilePath, common.ConfigFilePathFlagName,
		defaultConfigFilePath,
		i18n.T("root."+common.ConfigFilePathFlagName, "Path to the configuration file to load."))

	rootCmd.PersistentFlags().StringVarP(&currProfile, common.ProfileFlagName, common.ProfileFlagShort,
		defaultProfile,
		fmt.Sprintf(`Specify the profile to use for this command.
- Environment: [ %s_PROFILE ]`, strings.ToUpper(meta.CLIName)))

	rootCmd.PersistentFlags().VarP(outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.OutputConfigPath, strings.Join(outputFormat.Allowed, "|")))

	rootCmd.PersistentFlags().Var(logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Configures the logging level. Execution logs are written to the log file.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.LogLevelConfigPath, strings.Join(logLevel.Allowed, "|")))

	rootCmd.PersistentFlags().String(common.LogFileFlagName, "",
		fmt.Sprintf(`Write execution logs to this file.
- Config path: [ %s ]`, common.LogFileConfigPath))

	return rootCmd
}

// addCommands adds the root subcommands to the command.
func addCommands() {
	rootCmd.AddCommand(version.NewVersionCmd())
	rootCmd.AddCommand(chat.NewChatCmd())
	rootCmd.AddCommand(ask.NewAskCmd())
	rootCmd.AddCommand(events.NewEventsCmd())
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()
	addCommands()

	// Because the profile is not part of the configuration, we can't use viper
	// to read it following it's built in priorities. So here we look for a well known
	// profile variable and set our package level variable if it's set before
	// continuing to process the command run. This creates a ENV_VAR < CLI_FLAG priority
	if profileEnvVar, found := os.LookupEnv(fmt.Sprintf("%s_PROFILE", strings.ToUpper(meta.CLIName))); found {
		currProfile = profileEnvVar
	}
}

func initConfig() {
	cfg, err := config.GetConfig(configFilePath, currProfile, defaultConfigFilePath)
	cobra.CheckErr(err)
	currConfig = cfg

	bindings := []struct{ flag, cfgPath string }{
		{common.OutputFlagName, common.OutputConfigPath},
		{common.LogLevelFlagName, common.LogLevelConfigPath},
		{common.LogFileFlagName, common.LogFileConfigPath},
	}
	for _, b := range bindings {
		cobra.CheckErr(cfg.BindFlag(b.cfgPath, rootCmd.PersistentFlags().Lookup(b.flag)))
	}
}

func buildLogger() (*slog.Logger, error) {
	logFile := currConfig.GetString(common.LogFileConfigPath)
	logger, closer, err := applog.New(applog.Options{
		Level:  currConfig.GetString(common.LogLevelConfigPath),
		File:   os.ExpandEnv(logFile),
		ErrOut: streams.ErrOut,
	})
	if err != nil {
		return nil, &cmd.ConfigurationError{Err: fmt.Errorf("%s %q: %w", common.LogFileConfigPath, logFile, err)}
	}
	logCloser = closer
	return logger, nil
}

// errorReport is the structured form of a failed execution.
type errorReport struct {
	Error   string         `json:"error"             yaml:"error"`
	Details string         `json:"details,omitempty" yaml:"details,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"   yaml:"attrs,omitempty"`
}

func reportError(err error, errOut io.Writer) {
	var (
		executionError *cmd.ExecutionError
		configError    *cmd.ConfigurationError
		report         errorReport
	)
	switch {
	case errors.As(err, &executionError):
		report = errorReport{Error: executionError.Msg, Attrs: attrsToMap(executionError.Attrs)}
		if report.Error == "" {
			report.Error = executionError.Err.Error()
		} else if cause := executionError.Err.Error(); cause != report.Error {
			report.Details = cause
		}
	case errors.As(err, &configError):
		report = errorReport{Error: "invalid configuration", Details: configError.Error()}
	default:
		report = errorReport{Error: err.Error()}
	}

	format := outputFormat.String()
	if currConfig != nil {
		if configured := currConfig.GetString(common.OutputConfigPath); configured != "" {
			format = configured
		}
	}
	if format == common.DefaultOutputFormat {
		fmt.Fprintf(errOut, "Error: %s\n", report.Error)
		if report.Details != "" {
			fmt.Fprintf(errOut, "  cause: %s\n", report.Details)
		}
		return
	}
	printer, perr := cli.Format(format, errOut)
	if perr != nil {
		fmt.Fprintf(errOut, "Error: %s\n", report.Error)
		return
	}
	printer.Print(report)
	printer.Flush()
}

func attrsToMap(attrs []any) map[string]any {
	if len(attrs) < 2 {
		return nil
	}
	out := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		out[fmt.Sprint(attrs[i])] = attrs[i+1]
	}
	return out
}

func Execute(ctx context.Context, s *iostreams.IOStreams) {
	cobra.EnableTraverseRunHooks = true
	streams = s
	err := rootCmd.ExecuteContext(ctx)
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		reportError(err, s.ErrOut)
		os.Exit(1)
	}
}
