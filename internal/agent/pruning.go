package agent

import (
	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// OmittedScreenshotText replaces screenshots pruned from the request history.
const OmittedScreenshotText = "[older screenshot omitted]"

// pruneScreenshots keeps only the keep most recent screenshot images in the
// request. Older image parts become a text placeholder. keep <= 0 disables
// pruning. The conversation log is never modified: changed messages are copies.
func pruneScreenshots(msgs []providers.Message, keep int) []providers.Message {
	if keep <= 0 {
		return msgs
	}

	seen := 0
	var out []providers.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != providers.RoleUser || m.Content.IsText() {
			continue
		}
		var blocks []protocol.ContentBlock
		for bi := len(m.Content.Blocks) - 1; bi >= 0; bi-- {
			b := m.Content.Blocks[bi]
			if b.Type != protocol.BlockToolResult {
				continue
			}
			var parts []protocol.ResultPart
			for pi := len(b.Content) - 1; pi >= 0; pi-- {
				if b.Content[pi].Type != protocol.PartImage {
					continue
				}
				seen++
				if seen <= keep {
					continue
				}
				if parts == nil {
					parts = append([]protocol.ResultPart(nil), b.Content...)
				}
				parts[pi] = protocol.TextPart(OmittedScreenshotText)
			}
			if parts == nil {
				continue
			}
			if blocks == nil {
				blocks = append([]protocol.ContentBlock(nil), m.Content.Blocks...)
			}
			blocks[bi].Content = parts
		}
		if blocks == nil {
			continue
		}
		if out == nil {
			out = append([]providers.Message(nil), msgs...)
		}
		out[i] = providers.Message{Role: m.Role, Content: protocol.BlockContent(blocks...)}
	}
	if out == nil {
		return msgs
	}
	return out
}
