package agent

import (
	"testing"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

func screenshotResult(id, data string) providers.Message {
	block := protocol.ToolResultBlock(id, []protocol.ResultPart{protocol.ImagePart(protocol.MediaTypePNG, data)}, false)
	return providers.Message{Role: providers.RoleUser, Content: protocol.BlockContent(block)}
}

func TestPruneScreenshots(t *testing.T) {
	msgs := []providers.Message{
		{Role: providers.RoleUser, Content: protocol.TextContent("look")},
		screenshotResult("a", "AAA"),
		screenshotResult("b", "BBB"),
		screenshotResult("c", "CCC"),
	}

	if got := pruneScreenshots(msgs, 0); &got[0] != &msgs[0] {
		t.Error("keep=0 must return the input unchanged")
	}

	got := pruneScreenshots(msgs, 2)
	if part := got[1].Content.Blocks[0].Content[0]; part.Type != protocol.PartText || part.Text != OmittedScreenshotText {
		t.Errorf("oldest screenshot not pruned: %+v", part)
	}
	for i, want := range map[int]string{2: "BBB", 3: "CCC"} {
		part := got[i].Content.Blocks[0].Content[0]
		if part.Source == nil || part.Source.Data != want {
			t.Errorf("message %d: expected image %s kept, got %+v", i, want, part)
		}
	}
	if msgs[1].Content.Blocks[0].Content[0].Type != protocol.PartImage {
		t.Error("input messages were mutated")
	}
}

func TestPruneScreenshots_NothingToPrune(t *testing.T) {
	msgs := []providers.Message{screenshotResult("a", "AAA")}
	if got := pruneScreenshots(msgs, 3); &got[0] != &msgs[0] {
		t.Error("expected the original slice when nothing is pruned")
	}
}
