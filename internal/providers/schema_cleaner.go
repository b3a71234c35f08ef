package providers

import "slices"

// Schema keys the Messages API rejects in input_schema.
var anthropicUnsupportedKeys = []string{"$ref", "$defs", "$schema"}

// CleanToolSchemas returns a copy of tools with provider-incompatible
// JSON Schema fields removed from each function-style input schema.
// Native tools and providers that need no cleaning pass through unchanged.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	removeKeys := unsupportedKeysForProvider(providerName)
	if removeKeys == nil || len(tools) == 0 {
		return tools
	}

	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned[i] = t
		if !t.IsNative() && t.InputSchema != nil {
			cleaned[i].InputSchema = cleanSchema(t.InputSchema, removeKeys)
		}
	}
	return cleaned
}

func unsupportedKeysForProvider(name string) []string {
	if name == "anthropic" {
		return anthropicUnsupportedKeys
	}
	return nil
}

// cleanSchema recursively removes unsupported keys from a JSON Schema map.
func cleanSchema(schema map[string]interface{}, removeKeys []string) map[string]interface{} {
	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if slices.Contains(removeKeys, k) {
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = cleanSchema(val, removeKeys)
		case []interface{}:
			items := make([]interface{}, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]interface{}); ok {
					items[i] = cleanSchema(m, removeKeys)
				} else {
					items[i] = item
				}
			}
			result[k] = items
		default:
			result[k] = v
		}
	}
	return result
}
