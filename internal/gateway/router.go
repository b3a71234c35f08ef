package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const defaultTraceLimit = 50

// MethodHandler processes a single /ws request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to its handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method))
		return
	}
	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
	r.Register(protocol.MethodChatSend, r.handleChatSend)
	r.Register(protocol.MethodChatHistory, r.handleChatHistory)
	r.Register(protocol.MethodChatReset, r.handleChatReset)
	r.Register(protocol.MethodDeviceReconnect, r.handleDeviceReconnect)
	r.Register(protocol.MethodTraces, r.handleTraces)
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"status": "ok"}))
}

func (r *MethodRouter) handleStatus(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, r.server.statusPayload()))
}

type chatSendParams struct {
	Message string `json:"message"`
}

// handleChatSend answers when the run ends; progress arrives as agent events.
func (r *MethodRouter) handleChatSend(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if !r.server.limiter.Allow(client.remote) {
		client.SendResponse(rateLimitedResponse(req.ID))
		return
	}
	var params chatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
		return
	}
	if strings.TrimSpace(params.Message) == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "message is required"))
		return
	}

	go func() {
		res, err := r.server.chat(ctx, params.Message)
		if err != nil {
			client.SendResponse(submitErrorResponse(req.ID, err))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, newChatReply(res)))
	}()
}

func (r *MethodRouter) handleChatHistory(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"turns": r.server.sess.Loop.Snapshot(),
	}))
}

func (r *MethodRouter) handleChatReset(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if err := r.server.sess.Loop.Reset(); err != nil {
		client.SendResponse(submitErrorResponse(req.ID, err))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"reset": true}))
}

func (r *MethodRouter) handleDeviceReconnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.server.sess.Reconnect(rctx); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{"connected": true}))
}

type tracesParams struct {
	Limit int `json:"limit"`
}

func (r *MethodRouter) handleTraces(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params tracesParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid params: "+err.Error()))
			return
		}
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"spans": r.server.recentSpans(params.Limit),
	}))
}

// chatReply is the payload answering a chat request.
type chatReply struct {
	*agent.RunResult
	Error string `json:"error,omitempty"`
}

func newChatReply(res *agent.RunResult) chatReply {
	reply := chatReply{RunResult: res}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	return reply
}

func submitErrorResponse(id string, err error) *protocol.ResponseFrame {
	switch {
	case errors.Is(err, agent.ErrBusy):
		resp := protocol.NewErrorResponse(id, protocol.ErrFailedPrecondition, err.Error())
		resp.Error.Retryable = true
		return resp
	case errors.Is(err, agent.ErrInputBlocked):
		return protocol.NewErrorResponse(id, protocol.ErrInvalidRequest, err.Error())
	default:
		return protocol.NewErrorResponse(id, protocol.ErrInternal, err.Error())
	}
}

func rateLimitedResponse(id string) *protocol.ResponseFrame {
	resp := protocol.NewErrorResponse(id, protocol.ErrResourceExhausted, "rate limit exceeded, please wait before sending more messages")
	resp.Error.Retryable = true
	return resp
}
