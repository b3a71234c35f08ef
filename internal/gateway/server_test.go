package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/internal/device/fakedevice"
	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/internal/session"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

type fakeProvider struct {
	mu      sync.Mutex
	replies []*providers.ChatResponse
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) Name() string         { return "fake" }
func (p *fakeProvider) DefaultModel() string { return "fake-model" }

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if i >= len(p.replies) {
		return &providers.ChatResponse{
			StopReason: providers.StopEndTurn,
			Content:    []protocol.ContentBlock{protocol.TextBlock("done")},
		}, nil
	}
	return p.replies[i], nil
}

func clickReply() *providers.ChatResponse {
	return &providers.ChatResponse{
		StopReason: providers.StopToolUse,
		Content: []protocol.ContentBlock{
			protocol.ToolUseBlock("toolu_1", tools.ComputerToolName, json.RawMessage(`{"action":"left_click"}`)),
		},
	}
}

type harness struct {
	dev    *fakedevice.Device
	sess   *session.Session
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T, p providers.Provider, opts Options) *harness {
	t.Helper()
	dev, err := fakedevice.New(nil)
	if err != nil {
		t.Fatalf("fakedevice.New: %v", err)
	}
	kvm := httptest.NewServer(dev)
	t.Cleanup(kvm.Close)

	sess, err := session.Open(context.Background(), session.Options{
		KVMURL:   kvm.URL,
		Provider: p,
		Screen:   screen.NewStaticSource(image.NewRGBA(image.Rect(0, 0, 32, 24)), 1024, 768),
		Tracing:  opts.Tracing,
		Sleep:    func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	srv := NewServer(sess, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &harness{dev: dev, sess: sess, server: srv, http: ts}
}

type response struct {
	OK      bool                 `json:"ok"`
	Payload json.RawMessage      `json:"payload"`
	Error   *protocol.ErrorShape `json:"error"`
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.http.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode, out
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{Token: "secret", Version: "test"})

	if code, resp := h.do(t, http.MethodGet, "/health", "", nil); code != http.StatusOK || !resp.OK {
		t.Fatalf("health = %d %+v", code, resp)
	}

	code, resp := h.do(t, http.MethodGet, "/api/state", "", nil)
	if code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("unauthenticated state = %d %+v", code, resp)
	}
	if code, _ := h.do(t, http.MethodGet, "/api/state", "wrong", nil); code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", code)
	}
	if code, _ := h.do(t, http.MethodGet, "/api/state", "secret", nil); code != http.StatusOK {
		t.Errorf("valid token = %d", code)
	}
}

func TestChatRunsToolAndReturnsTurns(t *testing.T) {
	p := &fakeProvider{replies: []*providers.ChatResponse{clickReply()}}
	tc := tracing.NewCollector(0)
	h := newHarness(t, p, Options{Tracing: tc})

	code, resp := h.do(t, http.MethodPost, "/api/chat", "", chatRequest{Message: "click"})
	if code != http.StatusOK || !resp.OK {
		t.Fatalf("chat = %d %+v", code, resp)
	}
	var reply struct {
		Text       string            `json:"text"`
		ToolRounds int               `json:"tool_rounds"`
		Turns      []json.RawMessage `json:"turns"`
	}
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Text != "done" || reply.ToolRounds != 1 || len(reply.Turns) != 4 {
		t.Errorf("reply = text %q rounds %d turns %d", reply.Text, reply.ToolRounds, len(reply.Turns))
	}
	if frames, ok := h.dev.WaitFrames(2, time.Second); !ok {
		t.Errorf("device frames = %d, want 2", len(frames))
	}

	_, resp = h.do(t, http.MethodGet, "/api/messages", "", nil)
	var msgs struct {
		Turns []json.RawMessage `json:"turns"`
	}
	if err := json.Unmarshal(resp.Payload, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs.Turns) != 4 {
		t.Errorf("messages = %d turns, want 4", len(msgs.Turns))
	}

	_, resp = h.do(t, http.MethodGet, "/api/traces", "", nil)
	var traces struct {
		Spans []tracing.SpanData `json:"spans"`
	}
	if err := json.Unmarshal(resp.Payload, &traces); err != nil {
		t.Fatal(err)
	}
	if len(traces.Spans) == 0 {
		t.Fatal("expected spans after a run")
	}
	code, _ = h.do(t, http.MethodGet, "/api/traces/"+traces.Spans[0].TraceID.String(), "", nil)
	if code != http.StatusOK {
		t.Errorf("trace lookup = %d", code)
	}
	if code, _ := h.do(t, http.MethodGet, "/api/traces/not-a-uuid", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad trace id = %d", code)
	}
}

func TestChatRejectsWhileBusy(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newHarness(t, p, Options{})

	firstDone := make(chan int, 1)
	go func() {
		code, _ := h.do(t, http.MethodPost, "/api/chat", "", chatRequest{Message: "first"})
		firstDone <- code
	}()
	<-p.entered

	code, resp := h.do(t, http.MethodPost, "/api/chat", "", chatRequest{Message: "second"})
	if code != http.StatusConflict || resp.Error == nil || resp.Error.Code != protocol.ErrFailedPrecondition {
		t.Fatalf("busy chat = %d %+v", code, resp)
	}
	if code, _ := h.do(t, http.MethodPost, "/api/reset", "", nil); code != http.StatusConflict {
		t.Errorf("reset while busy = %d", code)
	}

	p.mu.Lock()
	p.entered = nil
	p.mu.Unlock()
	close(p.gate)
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first chat = %d", code)
	}
	if n := h.sess.Loop.Conversation().Len(); n != 2 {
		t.Errorf("conversation = %d turns, want 2", n)
	}
}

func TestChatRateLimited(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{RateLimitRPM: 1})

	var last int
	for i := 0; i < defaultBurst+1; i++ {
		last, _ = h.do(t, http.MethodPost, "/api/chat", "", chatRequest{})
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("last status = %d, want 429", last)
	}
}

func TestChatValidation(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{})

	if code, _ := h.do(t, http.MethodPost, "/api/chat", "", chatRequest{Message: "  "}); code != http.StatusBadRequest {
		t.Errorf("blank message = %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/api/chat", "", "not an object"); code != http.StatusBadRequest {
		t.Errorf("bad body = %d", code)
	}
}

func TestScreenshotAndStream(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, Options{})

	resp, err := http.Get(h.http.URL + "/api/screenshot")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("screenshot = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	// The harness uses a static screen, so there is no upstream to relay.
	if code, _ := h.do(t, http.MethodGet, "/api/stream/mjpeg", "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("stream = %d, want 503", code)
	}
}

func TestWebsocketEventsAndMethods(t *testing.T) {
	p := &fakeProvider{replies: []*providers.ChatResponse{clickReply()}}
	h := newHarness(t, p, Options{})

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello protocol.EventFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Event != protocol.EventHealth {
		t.Fatalf("first event = %q, want health", hello.Event)
	}

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "1", Method: protocol.MethodChatSend,
		Params: json.RawMessage(`{"message":"click"}`)}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	var (
		agentEvents int
		lastSeq     int64
		answered    bool
	)
	for !answered {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frameType, err := protocol.ParseFrameType(data)
		if err != nil {
			t.Fatal(err)
		}
		switch frameType {
		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Seq <= lastSeq {
				t.Errorf("seq %d not after %d", ev.Seq, lastSeq)
			}
			lastSeq = ev.Seq
			if ev.Event == protocol.EventAgent {
				agentEvents++
			}
		case protocol.FrameTypeResponse:
			var resp response
			if err := json.Unmarshal(data, &resp); err != nil {
				t.Fatal(err)
			}
			if !resp.OK {
				t.Fatalf("chat.send failed: %+v", resp.Error)
			}
			answered = true
		}
	}
	// run.started, 4 turns, tool.call, tool.result, run.completed
	if agentEvents != 8 {
		t.Errorf("agent events = %d, want 8", agentEvents)
	}

	if err := conn.WriteJSON(protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "2", Method: "nope"}); err != nil {
		t.Fatal(err)
	}
	var unknown response
	if err := conn.ReadJSON(&unknown); err != nil {
		t.Fatal(err)
	}
	if unknown.OK || unknown.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("unknown method = %+v", unknown)
	}
}

func TestSubmitErrorResponse(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{agent.ErrBusy, protocol.ErrFailedPrecondition},
		{fmt.Errorf("wrapped: %w", agent.ErrInputBlocked), protocol.ErrInvalidRequest},
		{errors.New("x"), protocol.ErrInternal},
	}
	for _, tt := range tests {
		if got := submitErrorResponse("", tt.err).Error.Code; got != tt.code {
			t.Errorf("submitErrorResponse(%v) = %s, want %s", tt.err, got, tt.code)
		}
	}
}
