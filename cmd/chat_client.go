package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// gatewayBackend drives a running `kvmagent serve` over its websocket.
type gatewayBackend struct {
	conn  *websocket.Conn
	base  string
	token string
	r     *renderer
	http  *http.Client
}

func runClientChat(ctx context.Context, cfg *config.Config, addr, message string) error {
	header := http.Header{}
	if cfg.Gateway.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Gateway.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/ws", header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.New("gateway rejected the token (check gateway.token)")
		}
		return fmt.Errorf("connect gateway: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	r := newRenderer()
	b := &gatewayBackend{
		conn:  conn,
		base:  "http://" + addr,
		token: cfg.Gateway.Token,
		r:     r,
		http:  &http.Client{Timeout: 30 * time.Second},
	}

	if message != "" {
		text, err := b.send(ctx, message)
		if err != nil {
			return err
		}
		r.answer(text)
		return nil
	}

	r.banner("kvmagent chat (via gateway "+addr+")",
		`Type "exit" to quit, "/new" for a new conversation, "/help" for commands`)
	repl(ctx, r, b)
	return nil
}

// call sends one request and reads frames until its response arrives,
// rendering agent events on the way.
func (b *gatewayBackend) call(method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()[:8]
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	if err := b.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		frameType, _ := protocol.ParseFrameType(raw)
		switch frameType {
		case protocol.FrameTypeEvent:
			b.renderEvent(raw)
		case protocol.FrameTypeResponse:
			var resp struct {
				ID      string               `json:"id"`
				OK      bool                 `json:"ok"`
				Payload json.RawMessage      `json:"payload"`
				Error   *protocol.ErrorShape `json:"error"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			if resp.ID != id {
				continue
			}
			if !resp.OK {
				if resp.Error != nil {
					return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				return nil, fmt.Errorf("%s failed", method)
			}
			return resp.Payload, nil
		}
	}
}

// wireAgentEvent mirrors agent.Event with the state kept as its text form.
type wireAgentEvent struct {
	Type    string             `json:"type"`
	State   string             `json:"state"`
	Tool    *protocol.ToolCall `json:"tool"`
	IsError bool               `json:"is_error"`
}

func (b *gatewayBackend) renderEvent(raw []byte) {
	var frame struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if json.Unmarshal(raw, &frame) != nil {
		return
	}
	switch frame.Event {
	case protocol.EventAgent:
		var e wireAgentEvent
		if json.Unmarshal(frame.Payload, &e) != nil || e.Tool == nil {
			return
		}
		switch e.Type {
		case protocol.AgentEventToolCall:
			b.r.toolCall(*e.Tool)
		case protocol.AgentEventToolResult:
			if e.IsError {
				b.r.toolFailed(e.Tool.Name)
			}
		}
	case protocol.EventDevice:
		var d struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if json.Unmarshal(frame.Payload, &d) == nil && d.Type != "" {
			b.r.info("[device] %s %s", d.Type, d.Error)
		}
	case protocol.EventShutdown:
		b.r.info("[gateway] shutting down")
	}
}

func (b *gatewayBackend) send(ctx context.Context, message string) (string, error) {
	payload, err := b.call(protocol.MethodChatSend, map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	var reply struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		b.r.error(errors.New(reply.Error))
	}
	return reply.Text, nil
}

func (b *gatewayBackend) reset() error {
	_, err := b.call(protocol.MethodChatReset, nil)
	return err
}

func (b *gatewayBackend) reconnect(ctx context.Context) error {
	_, err := b.call(protocol.MethodDeviceReconnect, nil)
	return err
}

func (b *gatewayBackend) screenshot(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+"/api/screenshot", nil)
	if err != nil {
		return 0, err
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("screenshot: gateway returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (b *gatewayBackend) hid(ctx context.Context, args []string) error {
	return errors.New("/hid needs direct device access; stop the gateway or use `kvmagent chat --local`")
}

func (b *gatewayBackend) status() (string, error) {
	payload, err := b.call(protocol.MethodStatus, nil)
	if err != nil {
		return "", err
	}
	var st struct {
		Session struct {
			State     string `json:"state"`
			Connected bool   `json:"connected"`
			Model     string `json:"model"`
			Turns     int    `json:"turns"`
		} `json:"session"`
		Clients int `json:"clients"`
	}
	if err := json.Unmarshal(payload, &st); err != nil {
		return "", err
	}
	return fmt.Sprintf("state=%s connected=%t model=%s turns=%d clients=%d",
		st.Session.State, st.Session.Connected, st.Session.Model, st.Session.Turns, st.Clients), nil
}
