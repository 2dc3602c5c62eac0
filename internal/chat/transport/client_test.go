package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kong/agentchat/internal/chat/reducer"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:    "https://chat.example.com/api",
		Token:      "test-token",
		HTTPClient: &http.Client{Transport: fn},
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	require := require.New(t)

	_, err := NewClient(Options{})
	require.Error(err)

	_, err = NewClient(Options{BaseURL: "ftp://example.com"})
	require.ErrorContains(err, "scheme must be http or https")

	c, err := NewClient(Options{BaseURL: "http://localhost:3000"})
	require.NoError(err)
	require.Equal(DefaultInitialDelay, c.initialDelay)
	require.Equal(DefaultMaxDelay, c.maxDelay)
}

func TestSendMessage(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(http.MethodPost, req.Method)
		require.Equal("/api/chat/messages", req.URL.Path)
		require.Equal("Bearer test-token", req.Header.Get("Authorization"))
		require.Equal("application/json", req.Header.Get("Content-Type"))

		payload, err := io.ReadAll(req.Body)
		require.NoError(err)
		require.JSONEq(`{"content":"Hi","workingDirectory":"/work"}`, string(payload))

		return jsonResponse(http.StatusOK, `{"success":true,"conversationId":"c1","messageId":"m1"}`), nil
	})

	resp, err := client.SendMessage(context.Background(), reducer.SendRequest{
		ExchangeID:       "local-1",
		Content:          "Hi",
		WorkingDirectory: "/work",
	})
	require.NoError(err)
	require.Equal(reducer.SendResponse{ConversationID: "c1", MessageID: "m1"}, resp)
}

func TestSendMessageIncludesConversationID(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		payload, err := io.ReadAll(req.Body)
		require.NoError(err)
		require.Contains(string(payload), `"conversationId":"c1"`)
		return jsonResponse(http.StatusOK, `{"conversationId":"c1","messageId":"m2"}`), nil
	})

	resp, err := client.SendMessage(context.Background(), reducer.SendRequest{Content: "again", ConversationID: "c1"})
	require.NoError(err)
	require.Equal("m2", resp.MessageID)
}

func TestSendMessageUnexpectedStatus(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"error":"overloaded"}`), nil
	})

	_, err := client.SendMessage(context.Background(), reducer.SendRequest{Content: "Hi"})
	require.Error(err)

	var httpErr *HTTPError
	require.ErrorAs(err, &httpErr)
	require.Equal(http.StatusServiceUnavailable, httpErr.StatusCode)
	require.Equal("http_503", httpErr.ErrorCode())
	require.True(httpErr.Temporary())
	require.Contains(err.Error(), "unexpected status 503")
}

func TestSendMessageServerRejects(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false,"error":"agent offline"}`), nil
	})

	_, err := client.SendMessage(context.Background(), reducer.SendRequest{Content: "Hi"})
	var httpErr *HTTPError
	require.ErrorAs(err, &httpErr)
	require.Equal("rejected", httpErr.ErrorCode())
	require.Contains(err.Error(), "agent offline")
}

func TestSendMessageTransientFailure(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return nil, syscall.ECONNREFUSED
	})

	_, err := client.SendMessage(context.Background(), reducer.SendRequest{Content: "Hi"})
	require.Error(err)
	require.True(IsTransientError(err))
}

func TestCancelTask(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(http.MethodDelete, req.Method)
		require.Equal("/api/chat/tasks/task-1", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	})

	ok, err := client.CancelTask(context.Background(), "task-1")
	require.NoError(err)
	require.True(ok)

	_, err = client.CancelTask(context.Background(), " ")
	require.Error(err)
}

func TestCancelTaskDeclined(t *testing.T) {
	require := require.New(t)

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false}`), nil
	})

	ok, err := client.CancelTask(context.Background(), "task-1")
	require.NoError(err)
	require.False(ok)
}

func TestWrapIfTransient(t *testing.T) {
	require := require.New(t)

	require.True(IsTransientError(wrapIfTransient(io.ErrUnexpectedEOF)))
	require.False(IsTransientError(wrapIfTransient(errors.New("bad request"))))
	require.NoError(wrapIfTransient(nil))

	wrapped := wrapIfTransient(io.EOF)
	require.Same(wrapped, wrapIfTransient(wrapped))
}
