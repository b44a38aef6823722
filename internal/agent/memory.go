// File: internal/agent/memory.go
package agent

import "github.com/droidpilot/droidpilot/internal/vlm"

// ConversationMemory is the bounded running context fed to the general VLM
// mode. Messages are append-only; trimming drops whole oldest turns and image
// stripping removes every attachment except the most recent one (images are
// expensive and only the latest frame matters going forward).
type ConversationMemory struct {
	messages []vlm.Message
	// depth bounds the number of retained messages for the non-extended
	// modes; zero means unbounded.
	depth int
}

// NewConversationMemory creates a memory trimmed to depth messages.
func NewConversationMemory(depth int) *ConversationMemory {
	return &ConversationMemory{depth: depth}
}

// Append adds one message and applies the trim discipline.
func (m *ConversationMemory) Append(msg vlm.Message) {
	m.messages = append(m.messages, msg)
	if m.depth > 0 && len(m.messages) > m.depth {
		// Drop oldest first, but never the leading system message.
		drop := len(m.messages) - m.depth
		if len(m.messages) > 0 && m.messages[0].Role == vlm.RoleSystem {
			copy(m.messages[1:], m.messages[1+drop:])
			m.messages = m.messages[:len(m.messages)-drop]
		} else {
			m.messages = m.messages[drop:]
		}
	}
}

// DropLast removes the most recent message. Used to roll back an unanswered
// user turn after a failed model call so retries never stack duplicates.
func (m *ConversationMemory) DropLast() {
	if len(m.messages) > 0 {
		m.messages = m.messages[:len(m.messages)-1]
	}
}

// StripOldImages removes image attachments from every message except the
// most recent one that carries an image.
func (m *ConversationMemory) StripOldImages() {
	lastWithImage := -1
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].PNG != nil {
			lastWithImage = i
			break
		}
	}
	for i := range m.messages {
		if i != lastWithImage {
			m.messages[i].PNG = nil
		}
	}
}

// Messages returns a copy of the retained conversation.
func (m *ConversationMemory) Messages() []vlm.Message {
	out := make([]vlm.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of retained messages.
func (m *ConversationMemory) Len() int { return len(m.messages) }

// TokenEstimate returns the crude token budget of the retained conversation.
func (m *ConversationMemory) TokenEstimate() int {
	return vlm.EstimateTokens(m.messages)
}
