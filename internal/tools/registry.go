package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Registry manages tool registration and execution.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *ToolRateLimiter // nil = no rate limiting
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetRateLimiter enables per-session tool rate limiting. nil disables it.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = rl
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Execute runs the call and returns the tool_result block answering it.
func (r *Registry) Execute(ctx context.Context, call protocol.ToolCall) protocol.ContentBlock {
	return r.Run(ctx, call).ToolResultBlock(call.ID)
}

// Run executes the call. Unknown tools and rate-limited sessions yield
// error results, never a Go error.
func (r *Registry) Run(ctx context.Context, call protocol.ToolCall) *Result {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	rl := r.rateLimiter
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + call.Name)
	}

	if key := ToolSessionKeyFromCtx(ctx); rl != nil && key != "" {
		if err := rl.Allow(key); err != nil {
			return ErrorResult(err.Error()).WithError(err)
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, call)
	duration := time.Since(start)

	slog.Debug("tool executed",
		"tool", call.Name,
		"tool_use_id", call.ID,
		"run", ToolRunIDFromCtx(ctx),
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
		"images", result.Images(),
	)

	return result
}

// ProviderDefs returns tool definitions for LLM provider APIs, sorted by name.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.sortedNamesLocked() {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
