package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kong/agentchat/internal/chat/transport"
	"github.com/kong/agentchat/internal/cmd"
	"github.com/kong/agentchat/internal/cmd/cmdtest"
	"github.com/kong/agentchat/internal/config"
)

func TestChatRequiresTerminal(t *testing.T) {
	_, err := cmdtest.Execute(context.Background(), t, NewChatCmd(), cmdtest.NewConfig(t, nil))
	var execErr *cmd.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "interactive chat requires a TTY", execErr.Msg)
}

// runWithSession runs fn as the body of a command that declares the session flags.
func runWithSession(t *testing.T, values map[string]any, fn func(cmd.Helper) error, args ...string) error {
	t.Helper()
	c := &cobra.Command{
		Use: "session-test",
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return BindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return fn(cmd.BuildHelper(c, args))
		},
	}
	AddSessionFlags(c)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := cmdtest.Execute(ctx, t, c, cmdtest.NewConfig(t, values), args...)
	return err
}

func TestLoadSettingsFromFlags(t *testing.T) {
	var got config.ChatSettings
	err := runWithSession(t, nil, func(h cmd.Helper) error {
		var err error
		got, err = LoadSettings(h)
		return err
	}, "--base-url", "http://agents.internal:8080/api", "--token", "secret", "--transcript")
	require.NoError(t, err)

	assert.Equal(t, "http://agents.internal:8080/api", got.BaseURL)
	assert.Equal(t, "secret", got.Token)
	assert.True(t, got.TranscriptEnabled)
	assert.NotEmpty(t, got.WorkingDirectory)
}

func TestLoadSettingsRejectsBadURL(t *testing.T) {
	err := runWithSession(t, map[string]any{config.BaseURLConfigPath: "not a url"}, func(h cmd.Helper) error {
		_, err := LoadSettings(h)
		return err
	})
	var cfgErr *cmd.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRuntimeWaitsForStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	values := map[string]any{
		config.BaseURLConfigPath:          srv.URL + "/api",
		config.WorkingDirectoryConfigPath: "/work",
	}
	err := runWithSession(t, values, func(h cmd.Helper) error {
		rt, err := NewRuntime(h)
		if err != nil {
			return err
		}
		assert.Nil(t, rt.Recorder)
		assert.NotEmpty(t, rt.SessionID)

		rt.Start()
		if err := rt.WaitConnected(rt.Context()); err != nil {
			return err
		}
		assert.Equal(t, transport.StatusConnected, rt.Controller.Connection())
		return rt.Stop()
	})
	require.NoError(t, err)
}
