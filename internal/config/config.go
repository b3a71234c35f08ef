// Package config loads the kvmagent JSON5 configuration file, applies
// environment overrides and keyring secrets, and watches the file for
// changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	KVM       KVMConfig       `json:"kvm"`
	Display   DisplayConfig   `json:"display"`
	Model     ModelConfig     `json:"model"`
	Tools     ToolsConfig     `json:"tools"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tailscale TailscaleConfig `json:"tailscale"`
	Log       LogConfig       `json:"log"`
}

// KVMConfig locates the NanoKVM device.
type KVMConfig struct {
	URL                 string `json:"url"`         // e.g. "http://192.168.1.50"
	WSPath              string `json:"ws_path"`     // HID websocket, default "/api/ws"
	StreamPath          string `json:"stream_path"` // MJPEG stream, default "/api/stream/mjpeg"
	KeepAliveSeconds    int    `json:"keepalive_seconds"`
	StreamMaxAgeSeconds int    `json:"stream_max_age_seconds"` // frames older than this are refused; 0 accepts any age
}

// KeepAlive returns the keep-alive interval.
func (k KVMConfig) KeepAlive() time.Duration {
	return time.Duration(k.KeepAliveSeconds) * time.Second
}

// DisplayConfig is the screen geometry declared to the model.
type DisplayConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Number int `json:"number"`
}

type ModelConfig struct {
	Provider        string `json:"provider"`
	Name            string `json:"name"`
	APIKey          string `json:"api_key,omitempty"`
	APIBase         string `json:"api_base,omitempty"`
	MaxTokens       int    `json:"max_tokens"`
	RPM             int    `json:"rpm,omitempty"` // requests per minute, 0 = unlimited
	MaxToolRounds   int    `json:"max_tool_rounds"`
	KeepScreenshots int    `json:"keep_screenshots,omitempty"` // 0 resends every screenshot
	SystemPrompt    string `json:"system_prompt,omitempty"`
	InjectionAction string `json:"injection_action,omitempty"` // "log", "warn", "block", "off"
}

type ToolsConfig struct {
	RateLimitPerHour int `json:"rate_limit_per_hour,omitempty"` // device actions per hour, 0 = unlimited
}

type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"token,omitempty"`          // bearer token for /api and /ws; empty disables auth
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // chat requests per minute per client, 0 = unlimited
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TelemetryConfig enables OTLP span export (binaries built with -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig adds a tailnet listener (binaries built with -tags tsnet).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	AuthKey   string `json:"auth_key,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info" (default), "warn", "error"
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		KVM: KVMConfig{
			WSPath:              "/api/ws",
			StreamPath:          "/api/stream/mjpeg",
			KeepAliveSeconds:    60,
			StreamMaxAgeSeconds: 10,
		},
		Display: DisplayConfig{Width: 1024, Height: 768, Number: 1},
		Model: ModelConfig{
			Provider:        "anthropic",
			Name:            "claude-3-5-sonnet-20241022",
			MaxTokens:       1024,
			MaxToolRounds:   25,
			InjectionAction: "warn",
		},
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 18790},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Telemetry.Headers != nil {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k, v := range c.Telemetry.Headers {
			out.Telemetry.Headers[k] = v
		}
	}
	return &out
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.KVM.URL == "" {
		errs = append(errs, errors.New("kvm.url is required"))
	}
	if c.KVM.KeepAliveSeconds <= 0 {
		errs = append(errs, errors.New("kvm.keepalive_seconds must be positive"))
	}
	if c.KVM.StreamMaxAgeSeconds < 0 {
		errs = append(errs, errors.New("kvm.stream_max_age_seconds must not be negative"))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display %dx%d: dimensions must be positive", c.Display.Width, c.Display.Height))
	}
	if c.Model.Provider != "anthropic" {
		errs = append(errs, fmt.Errorf("model.provider %q is not supported", c.Model.Provider))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("model.max_tokens must be positive"))
	}
	if c.Model.MaxToolRounds <= 0 {
		errs = append(errs, errors.New("model.max_tool_rounds must be positive"))
	}
	switch c.Model.InjectionAction {
	case "", "log", "warn", "block", "off":
	default:
		errs = append(errs, fmt.Errorf("model.injection_action %q must be log, warn, block or off", c.Model.InjectionAction))
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: secrets keep only their edges.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	out.Model.APIKey = MaskSecret(out.Model.APIKey)
	out.Tailscale.AuthKey = MaskSecret(out.Tailscale.AuthKey)
	out.Gateway.Token = MaskSecret(out.Gateway.Token)
	for k, v := range out.Telemetry.Headers {
		out.Telemetry.Headers[k] = MaskSecret(v)
	}
	return out
}

// MaskSecret shows the first and last 4 characters of long secrets.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}

// MarshalIndent renders the config as indented JSON (valid JSON5).
func (c *Config) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
