package tools

import (
	"strings"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Result is the unified return type from tool execution.
type Result struct {
	Parts   []protocol.ResultPart // content sent to the model; empty is a plain acknowledgement
	IsError bool
	Err     error // internal error (not sent)
}

func NewResult(parts ...protocol.ResultPart) *Result {
	return &Result{Parts: parts}
}

func ErrorResult(message string) *Result {
	return &Result{Parts: []protocol.ResultPart{protocol.TextPart(message)}, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// Text joins the text parts.
func (r *Result) Text() string {
	var parts []string
	for _, p := range r.Parts {
		if p.Type == protocol.PartText {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Images counts the image parts.
func (r *Result) Images() int {
	n := 0
	for _, p := range r.Parts {
		if p.Type == protocol.PartImage {
			n++
		}
	}
	return n
}

// ToolResultBlock converts the result into the tool_result answering toolUseID.
func (r *Result) ToolResultBlock(toolUseID string) protocol.ContentBlock {
	return protocol.ToolResultBlock(toolUseID, r.Parts, r.IsError)
}
