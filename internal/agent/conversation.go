package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Turn is one immutable entry of the conversation log.
// An assistant turn requesting a tool carries its text in Content and the
// request in ToolCall; the answering user turn holds the tool_result block.
type Turn struct {
	ID        string             `json:"id"`
	Role      string             `json:"role"`
	Content   protocol.Content   `json:"content"`
	ToolCall  *protocol.ToolCall `json:"tool_call,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// IsToolUse reports whether the turn is an assistant tool request.
func (t Turn) IsToolUse() bool { return t.ToolCall != nil }

// EmptyReplyText stands in for an assistant reply that carried no text.
// The Messages API rejects empty text content on replay.
const EmptyReplyText = "(no response)"

// Message serializes the turn for the model: tool requests become
// [text, tool_use] when the text is non-empty and [tool_use] otherwise.
func (t Turn) Message() providers.Message {
	if t.ToolCall == nil {
		if t.Role == providers.RoleAssistant && t.Content.IsText() && strings.TrimSpace(t.Content.Text) == "" {
			return providers.Message{Role: t.Role, Content: protocol.TextContent(EmptyReplyText)}
		}
		return providers.Message{Role: t.Role, Content: t.Content}
	}
	var blocks []protocol.ContentBlock
	if text := t.Content.PlainText(); text != "" {
		blocks = append(blocks, protocol.TextBlock(text))
	}
	blocks = append(blocks, t.ToolCall.Block())
	return providers.Message{Role: t.Role, Content: protocol.BlockContent(blocks...)}
}

// Conversation is the append-only log. Indices stay valid until Clear.
// Turns returned from it share their content slices; callers must not mutate them.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
	byID  map[string]int
}

func NewConversation() *Conversation {
	return &Conversation{byID: make(map[string]int)}
}

// Append stores t, assigning an ID and timestamp when missing, and returns its index.
func (c *Conversation) Append(t Turn) (int, Turn) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.turns)
	c.turns = append(c.turns, t)
	c.byID[t.ID] = idx
	return idx, t
}

func (c *Conversation) At(i int) (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.turns) {
		return Turn{}, false
	}
	return c.turns[i], true
}

func (c *Conversation) ByID(id string) (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Turn{}, false
	}
	return c.turns[i], true
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Snapshot copies the log.
func (c *Conversation) Snapshot() []Turn {
	return c.Since(0)
}

// Since copies the turns from index i on.
func (c *Conversation) Since(i int) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 {
		i = 0
	}
	if i >= len(c.turns) {
		return []Turn{}
	}
	return append([]Turn(nil), c.turns[i:]...)
}

// Messages serializes the full ordered history for the model.
func (c *Conversation) Messages() []providers.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]providers.Message, len(c.turns))
	for i, t := range c.turns {
		msgs[i] = t.Message()
	}
	return msgs
}

// Clear drops every turn.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	clear(c.byID)
}
