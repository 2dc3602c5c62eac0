// Package cmdtest runs commands against in-memory configuration and streams.
package cmdtest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kong/agentchat/internal/config"
	"github.com/kong/agentchat/internal/iostreams"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/spf13/cobra"
	v "github.com/spf13/viper"
)

// NewConfig returns a profile holding values. Keys use config paths such as
// chat.base-url.
func NewConfig(t *testing.T, values map[string]any) *config.ProfiledConfig {
	t.Helper()
	mainv := v.New()
	mainv.Set("default", map[string]any{"output": "text"})
	cfg := config.BuildProfiledConfig("default", "", mainv)
	for k, val := range values {
		cfg.Set(k, val)
	}
	return cfg
}

// Result captures what a command wrote.
type Result struct {
	Out    string
	ErrOut string
}

// Execute runs c with args in a context carrying cfg, test streams and a
// discarding logger.
func Execute(ctx context.Context, t *testing.T, c *cobra.Command, cfg config.Hook, args ...string) (Result, error) {
	t.Helper()
	streams, _, out, errOut := iostreams.NewTestIOStreams()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, config.ConfigKey, cfg)
	ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
	ctx = context.WithValue(ctx, applog.LoggerKey, slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.SetArgs(args)
	c.SetOut(out)
	c.SetErr(errOut)
	err := c.ExecuteContext(ctx)
	return Result{Out: out.String(), ErrOut: errOut.String()}, err
}
