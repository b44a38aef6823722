// File: internal/agent/memory_test.go
package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpilot/droidpilot/internal/vlm"
)

func TestConversationMemoryTrimsOldestFirst(t *testing.T) {
	mem := NewConversationMemory(3)
	for i := 0; i < 5; i++ {
		mem.Append(vlm.Message{Role: vlm.RoleUser, Text: fmt.Sprintf("msg-%d", i)})
	}

	msgs := mem.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-2", msgs[0].Text)
	assert.Equal(t, "msg-4", msgs[2].Text)
}

func TestConversationMemoryPreservesSystemMessage(t *testing.T) {
	mem := NewConversationMemory(3)
	mem.Append(vlm.Message{Role: vlm.RoleSystem, Text: "system"})
	for i := 0; i < 5; i++ {
		mem.Append(vlm.Message{Role: vlm.RoleUser, Text: fmt.Sprintf("msg-%d", i)})
	}

	msgs := mem.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, vlm.RoleSystem, msgs[0].Role, "the leading system message survives trimming")
	assert.Equal(t, "msg-4", msgs[len(msgs)-1].Text)
}

func TestConversationMemoryUnboundedWhenDepthZero(t *testing.T) {
	mem := NewConversationMemory(0)
	for i := 0; i < 50; i++ {
		mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "x"})
	}
	assert.Equal(t, 50, mem.Len())
}

func TestDropLastRollsBackUnansweredTurn(t *testing.T) {
	mem := NewConversationMemory(0)
	mem.Append(vlm.Message{Role: vlm.RoleSystem, Text: "system"})
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "attempt", PNG: []byte{1}})

	// A failed call drops its turn; the retry of the same step appends a
	// fresh one instead of stacking duplicates.
	mem.DropLast()
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "retry", PNG: []byte{1}})

	msgs := mem.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "retry", msgs[1].Text)

	t.Run("empty memory is a no-op", func(t *testing.T) {
		empty := NewConversationMemory(0)
		empty.DropLast()
		assert.Zero(t, empty.Len())
	})
}

func TestStripOldImagesKeepsOnlyTheLatest(t *testing.T) {
	mem := NewConversationMemory(0)
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "first", PNG: []byte{1}})
	mem.Append(vlm.Message{Role: vlm.RoleAssistant, Text: "reply"})
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "second", PNG: []byte{2}})
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "third", PNG: []byte{3}})

	mem.StripOldImages()

	msgs := mem.Messages()
	require.Len(t, msgs, 4)
	assert.Nil(t, msgs[0].PNG)
	assert.Nil(t, msgs[2].PNG)
	assert.Equal(t, []byte{3}, msgs[3].PNG, "the most recent frame is retained")
}

func TestStripOldImagesWithoutImagesIsHarmless(t *testing.T) {
	mem := NewConversationMemory(0)
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "only text"})
	mem.StripOldImages()
	assert.Equal(t, 1, mem.Len())
}

func TestMessagesReturnsACopy(t *testing.T) {
	mem := NewConversationMemory(0)
	mem.Append(vlm.Message{Role: vlm.RoleUser, Text: "original"})

	msgs := mem.Messages()
	msgs[0].Text = "mutated"

	assert.Equal(t, "original", mem.Messages()[0].Text)
}
