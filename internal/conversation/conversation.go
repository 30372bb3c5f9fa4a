// Package conversation holds the chat data model: messages, their
// roles, and the per-conversation summary state maintained by the
// context window manager.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation turn. Messages are append-only:
// after a message joins a conversation, only the Thinking side channel
// may be attached (it is extracted from raw model output after the
// fact).
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	Image     []byte    `json:"image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a generated id and the current time.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewImageMessage creates a user message with an attached image. The
// bytes travel with the message; whether a backend can see them is up
// to the runtime.
func NewImageMessage(content string, image []byte) *Message {
	msg := NewMessage(RoleUser, content)
	msg.Image = image
	return msg
}

// Conversation is an ordered sequence of messages plus the summary
// state for turns that have been trimmed out of the context window.
//
// Invariant: SummarizedUpTo ≤ message count, and HistorySummary (when
// non-empty) describes exactly messages [0, SummarizedUpTo).
type Conversation struct {
	ID string

	mu             sync.RWMutex
	messages       []*Message
	historySummary string
	summarizedUpTo int
}

// New creates an empty conversation with a generated id.
func New() *Conversation {
	return &Conversation{ID: uuid.NewString()}
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Snapshot returns a copy of the message slice. The messages themselves
// are shared; callers must treat them as read-only.
func (c *Conversation) Snapshot() []*Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Summary returns the cached history summary and the index it covers.
func (c *Conversation) Summary() (string, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.historySummary, c.summarizedUpTo
}

// SetSummary atomically replaces the history summary and advances the
// cut line. The boundary never moves backward and never passes the
// current message count; violations are rejected so a failed or stale
// summarization attempt cannot corrupt summary state.
func (c *Conversation) SetSummary(summary string, upTo int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if upTo < c.summarizedUpTo {
		return fmt.Errorf("conversation: summary boundary %d regresses below %d", upTo, c.summarizedUpTo)
	}
	if upTo > len(c.messages) {
		return fmt.Errorf("conversation: summary boundary %d past message count %d", upTo, len(c.messages))
	}
	c.historySummary = summary
	c.summarizedUpTo = upTo
	return nil
}
