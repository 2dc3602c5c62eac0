package version

import (
	"fmt"
	"io"

	"github.com/kong/agentchat/internal/cmd"
	"github.com/kong/agentchat/internal/cmd/common"
	"github.com/kong/agentchat/internal/cmd/root/verbs"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/util/i18n"
	"github.com/kong/agentchat/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	ShowCommitFlagName   = "show-commit"
	ShowCommitConfigPath = "version." + ShowCommitFlagName
)

var (
	versionShort = i18n.T("root.version.versionShort",
		fmt.Sprintf("Print the %s version", meta.CLIName))
	versionLong = normalizers.LongDesc(i18n.T("root.version.versionLong",
		`The version command prints the version and other optional information`))
	versionExample = normalizers.Examples(i18n.T("root.version.versionExamples",
		fmt.Sprintf(`
		# Print the simple version
		%[1]s version
		# Print the version and the git commit hash
		%[1]s version --show-commit
		`, meta.CLIName)))
)

type result struct {
	Version string `json:"version"          yaml:"version"`
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// Build a new instance of the version command
func NewVersionCmd() *cobra.Command {
	rv := &cobra.Command{
		Use:     verbs.Version.String(),
		Short:   versionShort,
		Long:    versionLong,
		Example: versionExample,
		Args:    cobra.NoArgs,
		PreRunE: func(c *cobra.Command, args []string) error {
			return bindFlags(cmd.BuildHelper(c, args))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	rv.Flags().Bool(ShowCommitFlagName, false,
		i18n.T(fmt.Sprintf("root.%s", ShowCommitConfigPath),
			fmt.Sprintf("True to show the git commit hash when built.\n (config path = '%s')", ShowCommitConfigPath)))

	return rv
}

func bindFlags(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	return cfg.BindFlag(ShowCommitConfigPath, helper.GetCmd().Flags().Lookup(ShowCommitFlagName))
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	res := result{Version: meta.Version}
	if cfg.GetBool(ShowCommitConfigPath) {
		res.Commit = meta.Commit
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	if outType == common.TEXT {
		return printText(res, helper.GetStreams().Out)
	}

	p, err := cli.Format(outType.String(), helper.GetStreams().Out)
	if err != nil {
		return err
	}
	defer p.Flush()
	p.Print(res)

	return nil
}

func printText(res result, out io.Writer) error {
	if res.Commit == "" {
		_, err := fmt.Fprintln(out, res.Version)
		return err
	}
	_, err := fmt.Fprintf(out, "%s (%s)\n", res.Version, res.Commit)
	return err
}
