package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const toolUseReply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "stop_reason": "tool_use",
  "content": [
    {"type": "text", "text": "I'll click the button."},
    {"type": "tool_use", "id": "toolu_01", "name": "computer", "input": {"action":"left_click","coordinate":[640,360]}}
  ],
  "usage": {"input_tokens": 1200, "output_tokens": 40}
}`

func TestAnthropicProvider_Chat(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolUseReply)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", srv.URL+"/v1", "")
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   "You control a computer.",
		Messages: []Message{{Role: RoleUser, Content: protocol.TextContent("Click the button")}},
		Tools:    []ToolDefinition{ComputerToolDefinition("computer", 1024, 768, 1)},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotHeaders.Get("x-api-key") != "sk-test" {
		t.Errorf("x-api-key = %q", gotHeaders.Get("x-api-key"))
	}
	if gotHeaders.Get("anthropic-version") != "2023-06-01" {
		t.Errorf("anthropic-version = %q", gotHeaders.Get("anthropic-version"))
	}
	if gotHeaders.Get("anthropic-beta") != "computer-use-2024-10-22" {
		t.Errorf("anthropic-beta = %q", gotHeaders.Get("anthropic-beta"))
	}
	if gotBody["model"] != "claude-3-5-sonnet-20241022" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	tools := gotBody["tools"].([]interface{})
	tool := tools[0].(map[string]interface{})
	if tool["type"] != "computer_20241022" || tool["display_width_px"] != float64(1024) ||
		tool["display_height_px"] != float64(768) || tool["display_number"] != float64(1) {
		t.Errorf("tool = %v", tool)
	}
	msgs := gotBody["messages"].([]interface{})
	if msgs[0].(map[string]interface{})["content"] != "Click the button" {
		t.Errorf("first message = %v", msgs[0])
	}

	if resp.StopReason != StopToolUse {
		t.Errorf("stop_reason = %q", resp.StopReason)
	}
	call, extra, ok := resp.ToolUse()
	if !ok || extra != 0 || call.ID != "toolu_01" || call.Name != "computer" {
		t.Fatalf("ToolUse() = %+v, %d, %v", call, extra, ok)
	}
	if string(call.Input) != `{"action":"left_click","coordinate":[640,360]}` {
		t.Errorf("input = %s", call.Input)
	}
	if resp.Text() != "I'll click the button." {
		t.Errorf("Text() = %q", resp.Text())
	}
	if resp.Usage.InputTokens != 1200 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicProvider_CleansFunctionToolSchemas(t *testing.T) {
	var gotBody struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}
		_, _ = io.WriteString(w, `{"type":"message","role":"assistant","stop_reason":"end_turn","content":[]}`)
	}))
	defer srv.Close()

	lookup := ToolDefinition{
		Name: "lookup",
		InputSchema: map[string]interface{}{
			"$schema":    "https://json-schema.org/draft/2020-12/schema",
			"type":       "object",
			"properties": map[string]interface{}{"q": map[string]interface{}{"$ref": "#/$defs/q"}},
			"$defs":      map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
		},
	}
	_, err := NewAnthropicProvider("k", srv.URL, "").Chat(context.Background(), ChatRequest{
		Tools: []ToolDefinition{ComputerToolDefinition("computer", 1024, 768, 1), lookup},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(gotBody.Tools) != 2 {
		t.Fatalf("tools = %v", gotBody.Tools)
	}
	if gotBody.Tools[0]["type"] != ComputerToolType {
		t.Errorf("native tool altered: %v", gotBody.Tools[0])
	}
	raw, _ := json.Marshal(gotBody.Tools[1]["input_schema"])
	for _, key := range []string{"$schema", "$defs", "$ref"} {
		if strings.Contains(string(raw), key) {
			t.Errorf("input_schema still has %s: %s", key, raw)
		}
	}
	if _, ok := lookup.InputSchema["$defs"]; !ok {
		t.Error("caller's schema was mutated")
	}
}

func TestAnthropicProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", srv.URL, "")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: protocol.TextContent("hi")}}})
	if !errors.Is(err, ErrModelBoundary) {
		t.Fatalf("expected ErrModelBoundary, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != 429 || !apiErr.RateLimited() || apiErr.RetryAfter != 7*time.Second {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "rate_limit_error") {
		t.Errorf("message = %q", apiErr.Error())
	}
}

func TestAnthropicProvider_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", srv.URL, "").Chat(context.Background(), ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Overloaded() {
		t.Fatalf("expected overloaded APIError, got %v", err)
	}
}

func TestAnthropicProvider_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewAnthropicProvider("k", srv.URL, "").Chat(context.Background(), ChatRequest{})
	var be *BoundaryError
	if !errors.As(err, &be) || be.Op != "request" {
		t.Fatalf("expected request BoundaryError, got %v", err)
	}
	if !errors.Is(err, ErrModelBoundary) {
		t.Error("transport error should match ErrModelBoundary")
	}
}

func TestAnthropicProvider_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content": [`)
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", srv.URL, "").Chat(context.Background(), ChatRequest{})
	var be *BoundaryError
	if !errors.As(err, &be) || be.Op != "decode" {
		t.Fatalf("expected decode BoundaryError, got %v", err)
	}
}

func TestAnthropicProvider_SkipsUnknownBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
  "id": "msg_02", "type": "message", "role": "assistant", "model": "claude-x",
  "stop_reason": "end_turn",
  "content": [
    {"type": "thinking", "thinking": "hmm", "signature": "sig"},
    {"type": "text", "text": "Done."}
  ],
  "usage": {"input_tokens": 5, "output_tokens": 3}
}`)
	}))
	defer srv.Close()

	resp, err := NewAnthropicProvider("k", srv.URL, "").Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Content) != 1 || resp.Text() != "Done." {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.ID != "msg_02" || resp.Model != "claude-x" || resp.StopReason != StopEndTurn {
		t.Errorf("envelope = %s %s %s", resp.ID, resp.Model, resp.StopReason)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatResponse_ToolUseExtras(t *testing.T) {
	resp := &ChatResponse{Content: []protocol.ContentBlock{
		protocol.ToolUseBlock("a", "computer", json.RawMessage(`{"action":"screenshot"}`)),
		protocol.TextBlock("and"),
		protocol.ToolUseBlock("b", "computer", json.RawMessage(`{"action":"screenshot"}`)),
	}}
	call, extra, ok := resp.ToolUse()
	if !ok || call.ID != "a" || extra != 1 {
		t.Errorf("ToolUse() = %s, %d, %v", call.ID, extra, ok)
	}

	if _, _, ok := (&ChatResponse{Content: []protocol.ContentBlock{protocol.TextBlock("done")}}).ToolUse(); ok {
		t.Error("text-only reply reported a tool use")
	}
}

type countingProvider struct{ calls int }

func (c *countingProvider) Name() string         { return "fake" }
func (c *countingProvider) DefaultModel() string { return "m" }
func (c *countingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.calls++
	return &ChatResponse{StopReason: StopEndTurn}, nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingProvider{}
	p := NewRateLimited(inner, 1)

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrModelBoundary) {
		t.Fatalf("second call: expected deadline boundary error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	if NewRateLimited(inner, 0) != Provider(inner) {
		t.Error("rpm 0 should return the provider unchanged")
	}
}

func TestAdjustableRateLimited(t *testing.T) {
	inner := &countingProvider{}
	p := NewAdjustableRateLimited(inner, 0)
	for i := 0; i < 5; i++ {
		if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
			t.Fatalf("unlimited call %d: %v", i, err)
		}
	}

	p.SetRPM(1)
	p.Chat(context.Background(), ChatRequest{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected throttled call after SetRPM, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAnthropicProvider("k", "", ""))
	if _, err := r.Get("anthropic"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("openai"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if got := r.List(); len(got) != 1 || got[0] != "anthropic" {
		t.Errorf("List() = %v", got)
	}
}
