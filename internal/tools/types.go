package tools

import (
	"context"

	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, call protocol.ToolCall) *Result
}

// Definer tools declare themselves to the model with a provider-native
// definition instead of a function schema.
type Definer interface {
	Definition() providers.ToolDefinition
}

// ToProviderDef converts a Tool to a providers.ToolDefinition for LLM APIs.
func ToProviderDef(t Tool) providers.ToolDefinition {
	if d, ok := t.(Definer); ok {
		return d.Definition()
	}
	return providers.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Parameters(),
	}
}
