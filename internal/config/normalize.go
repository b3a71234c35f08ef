package config

import (
	"regexp"
	"strings"
)

const DefaultTailscaleHostname = "kvmagent"

var (
	validHostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	invalidChars    = regexp.MustCompile(`[^a-z0-9-]+`)
	edgeDashes      = regexp.MustCompile(`^-+|-+$`)
)

// Normalize cleans user-entered values in place.
func (c *Config) Normalize() {
	c.KVM.URL = NormalizeKVMURL(c.KVM.URL)
	if c.KVM.WSPath != "" && !strings.HasPrefix(c.KVM.WSPath, "/") {
		c.KVM.WSPath = "/" + c.KVM.WSPath
	}
	if c.KVM.StreamPath != "" && !strings.HasPrefix(c.KVM.StreamPath, "/") {
		c.KVM.StreamPath = "/" + c.KVM.StreamPath
	}
	if c.Tailscale.Hostname != "" {
		c.Tailscale.Hostname = NormalizeHostname(c.Tailscale.Hostname)
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// NormalizeKVMURL accepts a bare host ("192.168.1.50") or a URL and returns
// it with a scheme and without a trailing slash.
func NormalizeKVMURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// NormalizeHostname converts a user-provided name into a valid DNS label
// for the tailnet:
//   - Lowercase, max 63 chars
//   - Only [a-z0-9-] allowed, invalid runs replaced with "-"
//   - Leading/trailing dashes stripped
//   - Empty result defaults to "kvmagent"
func NormalizeHostname(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if validHostnameRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 63 {
		result = strings.TrimRight(result[:63], "-")
	}
	if result == "" {
		return DefaultTailscaleHostname
	}
	return result
}
