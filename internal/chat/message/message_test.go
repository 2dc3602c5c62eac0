package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

func sampleLog() Log {
	return Log{
		{ID: "a", Sender: SenderSelf, Content: "hi", Status: StatusSending, Timestamp: fixedTime},
		{ID: "b", Sender: SenderOther, Content: "", Status: StatusSending, Timestamp: fixedTime},
	}
}

func TestNewSystemMessageHasNoStatus(t *testing.T) {
	msg := New(SenderSystem, "notice", StatusSent, fixedTime)
	assert.Equal(t, StatusNone, msg.Status)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, fixedTime, msg.Timestamp)
}

func TestAppendDoesNotShareBackingArray(t *testing.T) {
	require := require.New(t)

	base := make(Log, 1, 4)
	base[0] = Message{ID: "a"}

	first := Append(base, Message{ID: "b"})
	second := Append(base, Message{ID: "c"})

	require.Len(first, 2)
	require.Len(second, 2)
	require.Equal("b", first[1].ID)
	require.Equal("c", second[1].ID)
	require.Len(base, 1)
}

func TestUpdateStatusReplacesOnlyTarget(t *testing.T) {
	require := require.New(t)

	log := sampleLog()
	updated := UpdateStatus(log, "a", StatusSent)

	require.Equal(StatusSent, updated[0].Status)
	require.Equal(StatusSending, log[0].Status, "original must not be mutated")
	require.Equal(log[1], updated[1])
}

func TestUpdateStatusClearsError(t *testing.T) {
	require := require.New(t)

	log := UpdateError(sampleLog(), "a", ErrorInfo{Code: "network", Message: "down", Retryable: true})
	require.Equal(StatusError, log[0].Status)
	require.NotNil(log[0].Error)

	kept := UpdateStatus(log, "a", StatusError)
	require.NotNil(kept[0].Error)

	cleared := UpdateStatus(log, "a", StatusSending)
	require.Nil(cleared[0].Error)
	require.NotNil(log[0].Error)
}

func TestUnknownIDIsNoOp(t *testing.T) {
	log := sampleLog()

	assert.Equal(t, log, UpdateStatus(log, "missing", StatusSent))
	assert.Equal(t, log, UpdateError(log, "missing", ErrorInfo{}))
	assert.Equal(t, log, AppendContent(log, "missing", "x"))
	assert.Equal(t, log, RemoveByID(log, "missing"))
	assert.Equal(t, log, UpdateStatus(log, "", StatusSent))
}

func TestAppendContentPreservesOrder(t *testing.T) {
	log := sampleLog()
	log = AppendContent(log, "b", "Hel")
	log = AppendContent(log, "b", "lo")

	msg, ok := Find(log, "b")
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, fixedTime, msg.Timestamp, "timestamp is fixed at creation")
}

func TestRemoveByID(t *testing.T) {
	log := sampleLog()
	out := RemoveByID(log, "a")

	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Len(t, log, 2)
}

func TestReplaceDeepCopiesMetadata(t *testing.T) {
	log := Log{{ID: "a", Metadata: map[string]any{"k": "v"}}}
	out := ReplaceContent(log, "a", "new")
	out[0].Metadata["k"] = "changed"

	assert.Equal(t, "v", log[0].Metadata["k"])
	assert.Equal(t, "new", out[0].Content)
}
