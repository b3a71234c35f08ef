// Package providers is the model boundary: request/response types shared by
// the agent loop and the concrete LLM clients.
package providers

import (
	"context"
	"strings"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Stop reasons reported by the model.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ComputerToolType is the native computer-use tool revision.
const ComputerToolType = "computer_20241022"

// Message is one entry of the history sent to the model.
type Message struct {
	Role    string           `json:"role"`
	Content protocol.Content `json:"content"`
}

// ToolDefinition declares a tool to the model. Function-style tools use
// Name, Description and InputSchema; the native computer tool uses Type and
// the display fields.
type ToolDefinition struct {
	Type            string                 `json:"type,omitempty"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	InputSchema     map[string]interface{} `json:"input_schema,omitempty"`
	DisplayWidthPx  int                    `json:"display_width_px,omitempty"`
	DisplayHeightPx int                    `json:"display_height_px,omitempty"`
	DisplayNumber   *int                   `json:"display_number,omitempty"`
}

// IsNative reports whether the definition is a provider-native tool.
func (d ToolDefinition) IsNative() bool { return d.Type != "" && d.Type != "custom" }

// ComputerToolDefinition declares the native computer tool for a display.
func ComputerToolDefinition(name string, width, height, number int) ToolDefinition {
	return ToolDefinition{
		Type:            ComputerToolType,
		Name:            name,
		DisplayWidthPx:  width,
		DisplayHeightPx: height,
		DisplayNumber:   &number,
	}
}

// ChatRequest is one model call.
type ChatRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the model reply.
type ChatResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []protocol.ContentBlock `json:"content"`
	Usage      Usage                   `json:"usage"`
}

// ToolUse returns the first tool_use block and how many more followed it.
func (r *ChatResponse) ToolUse() (call protocol.ToolCall, extra int, ok bool) {
	for _, b := range r.Content {
		tc, isCall := b.ToolCall()
		if !isCall {
			continue
		}
		if !ok {
			call, ok = tc, true
			continue
		}
		extra++
	}
	return call, extra, ok
}

// Text joins the text blocks of the reply.
func (r *ChatResponse) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == protocol.BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Provider is an LLM backend.
type Provider interface {
	Name() string
	DefaultModel() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
