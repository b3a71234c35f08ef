package mcp

import (
	"context"
	"encoding/json"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

type recorder struct {
	mu     sync.Mutex
	frames []hid.Frame
}

func (r *recorder) SendFrame(f hid.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func newTestServer(t *testing.T) (*Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	src := screen.NewStaticSource(image.NewRGBA(image.Rect(0, 0, 16, 12)), 1024, 768)
	tool := tools.NewComputerTool(rec, src, tools.DefaultDisplay)
	tool.SetSleeper(func(time.Duration) {})
	reg := tools.NewRegistry()
	reg.Register(tool)
	return NewServer(reg, "test"), rec
}

func callTool(t *testing.T, s *Server, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	req := mcpgo.CallToolRequest{}
	req.Params.Name = tools.ComputerToolName
	req.Params.Arguments = args
	res, err := s.handler(tools.ComputerToolName)(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return res
}

func TestScreenshotBecomesImageContent(t *testing.T) {
	s, _ := newTestServer(t)
	res := callTool(t, s, map[string]any{"action": "screenshot"})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("content = %d items, want 1", len(res.Content))
	}
	img, ok := res.Content[0].(mcpgo.ImageContent)
	if !ok {
		t.Fatalf("content[0] = %T, want ImageContent", res.Content[0])
	}
	if img.MIMEType != "image/png" || img.Data == "" {
		t.Errorf("image = %s (%d bytes)", img.MIMEType, len(img.Data))
	}
}

func TestClickDrivesDevice(t *testing.T) {
	s, rec := newTestServer(t)
	res := callTool(t, s, map[string]any{"action": "left_click", "coordinate": []any{100, 200}})
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.frames) != 3 {
		t.Errorf("frames = %d, want move, down, up", len(rec.frames))
	}
	text, ok := res.Content[0].(mcpgo.TextContent)
	if !ok || text.Text != "ok" {
		t.Errorf("content = %+v, want ok text", res.Content)
	}
}

func TestInvalidActionIsErrorResult(t *testing.T) {
	s, rec := newTestServer(t)
	res := callTool(t, s, map[string]any{"action": "mouse_move"})
	if !res.IsError {
		t.Fatal("mouse_move without coordinate must be an error result")
	}
	if len(rec.frames) != 0 {
		t.Errorf("frames = %d, want none", len(rec.frames))
	}
}

func TestToolsListed(t *testing.T) {
	s, _ := newTestServer(t)
	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"name":"computer"`) {
		t.Errorf("tools/list = %s", data)
	}
}

func TestMapToInputSchema(t *testing.T) {
	schema := mapToInputSchema(map[string]interface{}{
		"properties": map[string]interface{}{"action": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"action"},
	})
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	if _, ok := schema.Properties["action"]; !ok {
		t.Error("expected action property")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "action" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestToResultEmptyIsOK(t *testing.T) {
	res := toResult(tools.NewResult())
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("result = %+v", res)
	}
	res = toResult(tools.ErrorResult("boom"))
	if !res.IsError {
		t.Error("error result lost IsError")
	}
	if text := res.Content[0].(mcpgo.TextContent); text.Text != "boom" {
		t.Errorf("text = %q", text.Text)
	}
	// nil image sources are dropped
	res = toResult(&tools.Result{Parts: []protocol.ResultPart{{Type: protocol.PartImage}}})
	if len(res.Content) != 1 {
		t.Errorf("content = %+v", res.Content)
	}
}
