package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	anthropicDefaultBase  = "https://api.anthropic.com/v1"
	anthropicDefaultModel = "claude-3-5-sonnet-20241022"
	anthropicVersion      = "2023-06-01"

	// ComputerUseBeta enables the computer_20241022 tool.
	ComputerUseBeta = "computer-use-2024-10-22"

	defaultMaxTokens   = 1024
	maxErrorBodyBytes  = 64 * 1024
	defaultHTTPTimeout = 120 * time.Second
)

// AnthropicProvider calls the Messages API.
type AnthropicProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	betas        []string
	client       *http.Client
}

// AnthropicOption customizes an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = c }
}

// WithBetas replaces the anthropic-beta flags.
func WithBetas(betas ...string) AnthropicOption {
	return func(p *AnthropicProvider) { p.betas = betas }
}

func NewAnthropicProvider(apiKey, apiBase, defaultModel string, opts ...AnthropicOption) *AnthropicProvider {
	if apiBase == "" {
		apiBase = anthropicDefaultBase
	}
	if defaultModel == "" {
		defaultModel = anthropicDefaultModel
	}
	p := &AnthropicProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		betas:        []string{ComputerUseBeta},
		client:       &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// Chat sends one non-streaming Messages request.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	req.Tools = CleanToolSchemas(p.Name(), req.Tools)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &BoundaryError{Provider: p.Name(), Op: "encode", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &BoundaryError{Provider: p.Name(), Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if len(p.betas) > 0 {
		httpReq.Header.Set("anthropic-beta", strings.Join(p.betas, ","))
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &BoundaryError{Provider: p.Name(), Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BoundaryError{Provider: p.Name(), Op: "read", Err: err}
	}
	var msg anthropic.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &BoundaryError{Provider: p.Name(), Op: "decode", Err: err}
	}
	out := fromMessage(&msg)

	slog.Debug("anthropic chat completed",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"blocks", len(out.Content),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// fromMessage maps an SDK message onto ChatResponse. Block types other
// than text and tool_use carry nothing the agent acts on and are dropped.
func fromMessage(m *anthropic.Message) *ChatResponse {
	out := &ChatResponse{
		ID:         m.ID,
		Model:      string(m.Model),
		StopReason: string(m.StopReason),
		Usage: Usage{
			InputTokens:  int(m.Usage.InputTokens),
			OutputTokens: int(m.Usage.OutputTokens),
		},
	}
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			out.Content = append(out.Content, protocol.TextBlock(b.Text))
		case "tool_use":
			out.Content = append(out.Content, protocol.ToolUseBlock(b.ID, b.Name, b.Input))
		default:
			slog.Debug("anthropic: skipped content block", "type", b.Type)
		}
	}
	return out
}

func (p *AnthropicProvider) parseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{
		Provider:   p.Name(),
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

var _ Provider = (*AnthropicProvider)(nil)
