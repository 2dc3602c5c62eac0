package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDualHandlerMirrorsErrorsToSecondary(t *testing.T) {
	t.Cleanup(EnableErrorMirroring)
	EnableErrorMirroring()

	var primaryBuf, secondaryBuf bytes.Buffer
	primary := slog.NewTextHandler(&primaryBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	secondary := slog.NewTextHandler(&secondaryBuf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewDualHandler(primary, secondary))

	logger.Error("stream failed", slog.String("endpoint", "chat/stream"))
	logger.Info("reconnecting")

	assert.Contains(t, primaryBuf.String(), "stream failed")
	assert.Contains(t, primaryBuf.String(), "reconnecting")
	assert.Contains(t, secondaryBuf.String(), "stream failed")
	assert.NotContains(t, secondaryBuf.String(), "reconnecting")
}

func TestDualHandlerCanDisableMirroring(t *testing.T) {
	t.Cleanup(EnableErrorMirroring)
	DisableErrorMirroring()

	var primaryBuf, secondaryBuf bytes.Buffer
	primary := slog.NewTextHandler(&primaryBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	secondary := slog.NewTextHandler(&secondaryBuf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewDualHandler(primary, secondary))

	logger.Error("stream failed")

	assert.Contains(t, primaryBuf.String(), "stream failed")
	assert.Empty(t, secondaryBuf.String())
}

func TestFriendlyHandlerHidesChatContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewFriendlyErrorHandler(&buf))

	logger.Error("failed to send chat message",
		slog.String("error", "unexpected status 503: busy"),
		slog.String("session_id", "abc"),
		slog.String("conversation_id", "c1"),
		slog.String("suggestion", "check chat.base-url"))

	assert.Equal(t, "Error: failed to send chat message\n"+
		"  cause: unexpected status 503: busy\n"+
		"  suggestion: check chat.base-url\n"+
		"  conversation_id: c1\n", buf.String())
}

func TestFriendlyHandlerFallsBackToError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewFriendlyErrorHandler(&buf))

	logger.Error("", slog.Any("error", errors.New("boom")))
	logger.Info("ignored")

	assert.Equal(t, "Error: boom\n", buf.String())
}

func TestFriendlyHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewFriendlyErrorHandler(&buf)).WithGroup("chat")

	logger.Error("send failed",
		slog.Group("request", slog.Int("status", 502), slog.String("body", "bad gateway\n\nretry later")))

	assert.Equal(t, "Error: send failed\n"+
		"  chat.request.body: bad gateway\n"+
		"    retry later\n"+
		"  chat.request.status: 502\n", buf.String())
}

func TestNewWritesTraceToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agentchat.log")
	var errOut bytes.Buffer

	logger, closer, err := New(Options{Level: "trace", File: path, ErrOut: &errOut})
	require.NoError(t, err)

	logger.Log(context.Background(), LevelTrace, "frame decoded")
	logger.Error("stream failed")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "level=TRACE")
	assert.Contains(t, string(data), "frame decoded")
	assert.Equal(t, "Error: stream failed\n", errOut.String())
}
