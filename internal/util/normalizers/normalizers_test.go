package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLongDesc(t *testing.T) {
	in := `
  Open a conversation with the agent.

  Keys:
    Enter sends
`
	assert.Equal(t, "Open a conversation with the agent.\n\nKeys:\n  Enter sends", LongDesc(in))
	assert.Empty(t, LongDesc("\n   \n"))
}

func TestExamples(t *testing.T) {
	in := `
	# Follow every event
	agentchat events

	# Nested
	agentchat ask \
	  "hello"`
	assert.Equal(t,
		"  # Follow every event\n  agentchat events\n\n  # Nested\n  agentchat ask \\\n    \"hello\"",
		Examples(in))
}
