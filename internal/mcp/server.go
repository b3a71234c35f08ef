// Package mcp serves the tool registry over the Model Context Protocol so
// other MCP hosts can drive the NanoKVM through the same computer tool.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	ServerName = "kvmagent"

	// sessionKey scopes the tool rate limit for MCP callers.
	sessionKey = "mcp"
)

// Server exposes every registered tool as an MCP tool.
type Server struct {
	registry *tools.Registry
	mcp      *server.MCPServer
}

// NewServer registers the registry's tools with a new MCP server.
func NewServer(registry *tools.Registry, version string) *Server {
	s := &Server{
		registry: registry,
		mcp: server.NewMCPServer(ServerName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	for _, name := range registry.List() {
		tool, ok := registry.Get(name)
		if !ok {
			continue
		}
		s.mcp.AddTool(toolFor(tool), s.handler(name))
	}
	return s
}

// MCPServer returns the underlying server (in-process clients, tests).
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio speaks MCP over in/out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("mcp: serving on stdio", "tools", s.registry.List())
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		input := json.RawMessage("{}")
		if req.Params.Arguments != nil {
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return mcpgo.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			input = raw
		}

		call := protocol.ToolCall{ID: "mcp_" + uuid.NewString(), Name: name, Input: input}
		ctx = tools.WithToolSessionKey(ctx, sessionKey)
		res := s.registry.Run(ctx, call)
		if res.IsError {
			slog.Warn("mcp: tool returned an error", "tool", name, "error", res.Text())
		}
		return toResult(res), nil
	}
}

// toolFor converts a registry tool into its MCP declaration.
func toolFor(t tools.Tool) mcpgo.Tool {
	return mcpgo.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: mapToInputSchema(t.Parameters()),
	}
}

// mapToInputSchema converts a tools.Tool.Parameters() map to the MCP schema type.
func mapToInputSchema(m map[string]interface{}) mcpgo.ToolInputSchema {
	schema := mcpgo.ToolInputSchema{Type: "object"}
	if t, ok := m["type"].(string); ok && t != "" {
		schema.Type = t
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	}
	switch req := m["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// toResult maps text parts to text content and image parts to image content.
func toResult(res *tools.Result) *mcpgo.CallToolResult {
	out := &mcpgo.CallToolResult{IsError: res.IsError}
	for _, p := range res.Parts {
		switch p.Type {
		case protocol.PartText:
			out.Content = append(out.Content, mcpgo.NewTextContent(p.Text))
		case protocol.PartImage:
			if p.Source != nil {
				out.Content = append(out.Content, mcpgo.NewImageContent(p.Source.Data, p.Source.MediaType))
			}
		}
	}
	if len(out.Content) == 0 {
		out.Content = []mcpgo.Content{mcpgo.NewTextContent("ok")}
	}
	return out
}
