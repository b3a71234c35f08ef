// Package agent runs the conversational loop that drives the computer tool.
//
// InputGuard scans user messages for known injection patterns before they
// reach a model that can operate a real machine. The action is configurable
// via model.injection_action:
//   - "log":   info-level logging (quiet)
//   - "warn":  warning-level logging (default)
//   - "block": reject the message with ErrInputBlocked
//   - "off":   disable scanning entirely
package agent

import (
	"regexp"
	"strings"
)

const (
	InjectionLog   = "log"
	InjectionWarn  = "warn"
	InjectionBlock = "block"
	InjectionOff   = "off"
)

func normalizeInjectionAction(action string) string {
	switch action {
	case InjectionLog, InjectionWarn, InjectionBlock, InjectionOff:
		return action
	default:
		return InjectionWarn
	}
}

type guardPattern struct {
	name    string
	pattern *regexp.Regexp
}

// InputGuard scans user input for known prompt injection patterns.
type InputGuard struct {
	patterns []guardPattern
}

func NewInputGuard() *InputGuard {
	return &InputGuard{patterns: defaultGuardPatterns()}
}

// Scan returns the names of the matched patterns (nil for no match).
func (g *InputGuard) Scan(message string) []string {
	if message == "" {
		return nil
	}
	var matches []string
	for _, gp := range g.patterns {
		if gp.pattern.MatchString(message) {
			matches = append(matches, gp.name)
		}
	}
	return matches
}

func defaultGuardPatterns() []guardPattern {
	defs := []struct{ name, expr string }{
		{"ignore_instructions", `(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|rules?|prompts?)`},
		{"role_override", `(?i)(you are now|from now on you are|pretend you are)\s+`},
		{"system_tags", `(?i)</?system>|\[SYSTEM\]|\[INST\]|<<SYS>>|<\|im_start\|>system`},
		{"instruction_injection", `(?i)(new instructions?:|override:|system prompt:)`},
		{"null_bytes", `\x00`},
		{"delimiter_escape", `(?i)(end of system|begin user input|</?(instructions?|rules|prompt)>)`},
	}
	patterns := make([]guardPattern, len(defs))
	for i, d := range defs {
		patterns[i] = guardPattern{name: d.name, pattern: regexp.MustCompile(d.expr)}
	}
	return patterns
}

// HasPatterns returns true if the guard has any patterns configured.
func (g *InputGuard) HasPatterns() bool {
	return len(g.patterns) > 0
}

func (g *InputGuard) PatternNames() []string {
	names := make([]string, len(g.patterns))
	for i, gp := range g.patterns {
		names[i] = gp.name
	}
	return names
}

// ContainsNullBytes is a fast check for null bytes without regex overhead.
func ContainsNullBytes(s string) bool {
	return strings.ContainsRune(s, 0)
}
