package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// PartType tags a ResultPart variant.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// MediaTypePNG is the media type of captured screenshots.
const MediaTypePNG = "image/png"

// ContentBlock is one element of a block-list message. Fields are used per
// Type:
//   - text:        Text
//   - tool_use:    ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
type ContentBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   []ResultPart    `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultPart is one element of a tool result.
type ResultPart struct {
	Type   PartType     `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ToolCall is a single tool invocation requested by the model.
// Input holds the model's JSON verbatim.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Action decodes the call input as a computer action.
func (tc ToolCall) Action() (Action, error) {
	return ParseAction(tc.Input)
}

// Block returns the tool_use block for this call.
func (tc ToolCall) Block() ContentBlock {
	return ToolUseBlock(tc.ID, tc.Name, tc.Input)
}

// TextBlock creates a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool_use block. A nil input becomes {}.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result block. An empty parts list is the
// success acknowledgement.
func ToolResultBlock(toolUseID string, parts []ResultPart, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: parts, IsError: isError}
}

// TextPart creates a text result part.
func TextPart(text string) ResultPart {
	return ResultPart{Type: PartText, Text: text}
}

// ImagePart creates an inline base64 image result part.
func ImagePart(mediaType, base64Data string) ResultPart {
	return ResultPart{
		Type:   PartImage,
		Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: base64Data},
	}
}

// ToolCall returns the call carried by a tool_use block.
func (b ContentBlock) ToolCall() (ToolCall, bool) {
	if b.Type != BlockToolUse {
		return ToolCall{}, false
	}
	return ToolCall{ID: b.ID, Name: b.Name, Input: b.Input}, true
}

// ImageParts returns the image parts of a tool_result block.
func (b ContentBlock) ImageParts() []ResultPart {
	var out []ResultPart
	for _, p := range b.Content {
		if p.Type == PartImage {
			out = append(out, p)
		}
	}
	return out
}

// Content is a message body: either a plain string or a list of blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent creates a plain string body.
func TextContent(text string) Content { return Content{Text: text} }

// BlockContent creates a block-list body.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: append([]ContentBlock{}, blocks...)}
}

// IsText reports whether the body is a plain string.
func (c Content) IsText() bool { return c.Blocks == nil }

// PlainText returns the string body, or the concatenated text blocks.
func (c Content) PlainText() string {
	if c.IsText() {
		return c.Text
	}
	var buf bytes.Buffer
	for _, b := range c.Blocks {
		if b.Type == BlockText {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(b.Text)
		}
	}
	return buf.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsText() {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty content")
	}
	switch trimmed[0] {
	case '"':
		c.Blocks = nil
		return json.Unmarshal(trimmed, &c.Text)
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	default:
		return fmt.Errorf("content must be a string or an array, got %q", trimmed[:1])
	}
}
