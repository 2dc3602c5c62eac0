package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kong/agentchat/internal/chat/event"
	"github.com/kong/agentchat/internal/cmd/cmdtest"
)

func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

var frames = []string{
	`{"type":"task_started","conversationId":"c1","agentName":"coder","taskId":"t1"}`,
	`{"type":"output","conversationId":"c1","content":"Hello\nworld"}`,
	`{"type":"task_completed","conversationId":"c1","data":{"success":true}}`,
}

func execute(t *testing.T, values map[string]any, args ...string) (cmdtest.Result, error) {
	t.Helper()
	srv := streamServer(t, frames...)
	cfg := map[string]any{"chat.base-url": srv.URL + "/api"}
	for k, v := range values {
		cfg[k] = v
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cmdtest.Execute(ctx, t, NewEventsCmd(), cmdtest.NewConfig(t, cfg), args...)
}

func TestEventsTextOutput(t *testing.T) {
	res, err := execute(t, nil, "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"task_started\tc1\tcoder",
		"output\tc1\tHello world",
		"task_completed\tc1",
	}, strings.Split(strings.TrimSpace(res.Out), "\n"))
}

func TestEventsTypeFilterMatchesLegacyNames(t *testing.T) {
	res, err := execute(t, nil, "--type", "task_output", "--count", "1")
	require.NoError(t, err)
	assert.Equal(t, "output\tc1\tHello world\n", res.Out)
}

func TestEventsJQRawOutput(t *testing.T) {
	res, err := execute(t, nil, "--jq", ".type", "-r", "--count", "2")
	require.NoError(t, err)
	assert.Equal(t, "task_started\noutput\n", res.Out)
}

func TestEventsJSONLines(t *testing.T) {
	res, err := execute(t, map[string]any{"output": "json"}, "--count", "1")
	require.NoError(t, err)
	assert.JSONEq(t, frames[0], strings.TrimSpace(res.Out))
}

func TestEventsRejectsNegativeCount(t *testing.T) {
	_, err := execute(t, nil, "--count", "-1")
	require.Error(t, err)
}

func TestTextLineFallsBackToError(t *testing.T) {
	line := textLine(event.ConnectionLost("EOF"))
	assert.Equal(t, "error\tconnection lost: EOF", line)
}
