package chat

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/kong/agentchat/internal/chat/session"
	"github.com/kong/agentchat/internal/chat/storage"
	"github.com/kong/agentchat/internal/chat/transport"
	"github.com/kong/agentchat/internal/cmd"
	"github.com/kong/agentchat/internal/config"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/kong/agentchat/internal/meta"
	"github.com/spf13/cobra"
)

const (
	BaseURLFlagName          = "base-url"
	TokenFlagName            = "token"
	WorkingDirectoryFlagName = "working-directory"
	TranscriptFlagName       = "transcript"
)

// AddConnectionFlags registers the flags shared by every command that talks to
// the chat server.
func AddConnectionFlags(c *cobra.Command) {
	c.Flags().String(BaseURLFlagName, config.DefaultBaseURL,
		fmt.Sprintf(`Base URL of the chat server API.
- Config path: [ %s ]`, config.BaseURLConfigPath))

	c.Flags().String(TokenFlagName, "",
		fmt.Sprintf(`Bearer token sent with every request.
- Config path: [ %s ]`, config.TokenConfigPath))
}

// AddSessionFlags registers the flags of commands that send messages.
func AddSessionFlags(c *cobra.Command) {
	AddConnectionFlags(c)

	c.Flags().String(WorkingDirectoryFlagName, "",
		fmt.Sprintf(`Working directory reported to the agent. Defaults to the current directory.
- Config path: [ %s ]`, config.WorkingDirectoryConfigPath))

	c.Flags().Bool(TranscriptFlagName, false,
		fmt.Sprintf(`Record a diagnostic transcript of the session.
- Config path: [ %s ]`, config.TranscriptEnabledConfigPath))
}

// BindFlags binds whichever chat flags c declares to their config paths.
func BindFlags(c *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(c, args)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	bindings := []struct{ flag, cfgPath string }{
		{BaseURLFlagName, config.BaseURLConfigPath},
		{TokenFlagName, config.TokenConfigPath},
		{WorkingDirectoryFlagName, config.WorkingDirectoryConfigPath},
		{TranscriptFlagName, config.TranscriptEnabledConfigPath},
	}
	for _, b := range bindings {
		if f := c.Flags().Lookup(b.flag); f != nil {
			if err := cfg.BindFlag(b.cfgPath, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadSettings resolves the chat settings of the active profile.
func LoadSettings(helper cmd.Helper) (config.ChatSettings, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return config.ChatSettings{}, err
	}
	settings, err := config.LoadChatSettings(cfg)
	if err != nil {
		return config.ChatSettings{}, &cmd.ConfigurationError{Err: err}
	}
	if settings.WorkingDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			settings.WorkingDirectory = wd
		}
	}
	return settings, nil
}

// NewClient builds the transport client for settings.
func NewClient(settings config.ChatSettings) (*transport.Client, error) {
	return transport.NewClient(transport.Options{
		BaseURL:      settings.BaseURL,
		Token:        settings.Token,
		InitialDelay: settings.ReconnectInitialDelay,
		MaxDelay:     settings.ReconnectMaxDelay,
	})
}

// Runtime is a chat session wired for one command invocation.
type Runtime struct {
	Settings   config.ChatSettings
	SessionID  string
	Controller *session.Controller
	Recorder   *storage.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	errCh  chan error
}

// NewRuntime wires the transport, the optional transcript recorder and the
// session controller. Nothing talks to the server until Start.
func NewRuntime(helper cmd.Helper) (*Runtime, error) {
	settings, err := LoadSettings(helper)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(settings)
	if err != nil {
		return nil, &cmd.ConfigurationError{Err: err}
	}

	sessionID := uuid.NewString()
	ctx := applog.WithChatLogContext(helper.GetContext(), applog.ChatLogContext{
		CommandPath: helper.GetCmd().CommandPath(),
		SessionID:   sessionID,
	})

	opts := session.Options{
		Transport:        session.FromClient(client),
		Validation:       settings.Validation,
		WorkingDirectory: settings.WorkingDirectory,
		RequestTimeout:   settings.RequestTimeout,
	}

	var recorder *storage.Recorder
	if settings.TranscriptEnabled {
		recorder, err = storage.NewRecorder(sessionID, storage.Options{
			BaseURL:          settings.BaseURL,
			WorkingDirectory: settings.WorkingDirectory,
			CLIVersion:       meta.Version,
		})
		if err != nil {
			return nil, cmd.PrepareExecutionErrorWithHelper(helper, "failed to create transcript", err)
		}
		opts.Recorder = recorder
		logDebug(ctx, "recording transcript", slog.String("directory", recorder.Directory()))
	}

	controller, err := session.New(opts)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Settings:   settings,
		SessionID:  sessionID,
		Controller: controller,
		Recorder:   recorder,
		ctx:        ctx,
	}, nil
}

// Context carries the logger and the chat log attributes of this session.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Start runs the controller in the background.
func (r *Runtime) Start() {
	ctx, cancel := context.WithCancel(r.ctx)
	r.cancel = cancel
	r.errCh = make(chan error, 1)
	_ = r.Recorder.RecordLifecycle("session started")
	go func() { r.errCh <- r.Controller.Run(ctx) }()
}

// Stop ends the controller and waits for it to release the stream.
func (r *Runtime) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	err := <-r.errCh
	r.cancel = nil
	_ = r.Recorder.RecordLifecycle("session ended")
	return err
}

// WaitConnected blocks until the event stream is connected so no event of
// the first exchange is missed.
func (r *Runtime) WaitConnected(ctx context.Context) error {
	c := r.Controller
	for c.Connection() != transport.StatusConnected {
		select {
		case <-ctx.Done():
			return fmt.Errorf("event stream did not connect: %w", ctx.Err())
		case <-c.Done():
			return session.ErrClosed
		case <-c.Updates():
		}
	}
	return nil
}

func logDebug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logger := applog.FromContext(ctx)
	if logger == nil {
		return
	}
	attrs = append(applog.ChatLogContextAttrs(ctx), attrs...)
	logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}
