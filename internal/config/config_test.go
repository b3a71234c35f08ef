package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAPIKey, EnvKVMURL, EnvModel, EnvConfigPath} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Display.Width != 1024 || cfg.Display.Height != 768 || cfg.Display.Number != 1 {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Model.Name != "claude-3-5-sonnet-20241022" || cfg.Model.MaxTokens != 1024 || cfg.Model.MaxToolRounds != 25 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.KVM.KeepAlive() != time.Minute || cfg.KVM.WSPath != "/api/ws" {
		t.Errorf("kvm = %+v", cfg.KVM)
	}
	if cfg.KVM.StreamMaxAgeSeconds != 10 {
		t.Errorf("stream max age = %d, want a bounded default", cfg.KVM.StreamMaxAgeSeconds)
	}
}

func TestLoad_StreamMaxAgeCanBeDisabled(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `{ kvm: { url: "http://kvm", stream_max_age_seconds: 0 } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KVM.StreamMaxAgeSeconds != 0 {
		t.Errorf("explicit 0 overridden to %d", cfg.KVM.StreamMaxAgeSeconds)
	}

	cfg.KVM.StreamMaxAgeSeconds = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "stream_max_age_seconds") {
		t.Errorf("negative max age: Validate = %v", err)
	}
}

func TestLoad_JSON5(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `{
  // the device on the bench
  kvm: { url: "192.168.1.50/", keepalive_seconds: 30 },
  display: { width: 1280, height: 800, },
  model: { name: 'claude-x', rpm: 20 },
  tailscale: { hostname: "My KVM Agent!" },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KVM.URL != "http://192.168.1.50" {
		t.Errorf("url = %q", cfg.KVM.URL)
	}
	if cfg.KVM.KeepAliveSeconds != 30 || cfg.KVM.WSPath != "/api/ws" {
		t.Errorf("kvm = %+v", cfg.KVM)
	}
	if cfg.Display.Width != 1280 || cfg.Display.Number != 1 {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Model.Name != "claude-x" || cfg.Model.RPM != 20 || cfg.Model.MaxTokens != 1024 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Tailscale.Hostname != "my-kvm-agent" {
		t.Errorf("hostname = %q", cfg.Tailscale.Hostname)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `{ kvm: `)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `{ kvm: { url: "http://file" }, model: { name: "file-model", api_key: "file-key" } }`)
	t.Setenv(EnvKVMURL, "http://env")
	t.Setenv(EnvModel, "env-model")
	t.Setenv(EnvAPIKey, "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KVM.URL != "http://env" || cfg.Model.Name != "env-model" || cfg.Model.APIKey != "env-key" {
		t.Errorf("env not applied: %+v %+v", cfg.KVM, cfg.Model)
	}
}

func TestLoad_KeyringFallback(t *testing.T) {
	clearEnv(t)
	if err := StoreAPIKey("sk-from-keyring"); err != nil {
		t.Fatal(err)
	}
	defer DeleteAPIKey()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.APIKey != "sk-from-keyring" {
		t.Errorf("api key = %q", cfg.Model.APIKey)
	}

	if err := DeleteAPIKey(); err != nil {
		t.Fatal(err)
	}
	if err := DeleteAPIKey(); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
	if key, err := KeyringAPIKeyValue(); err != nil || key != "" {
		t.Errorf("after delete: %q, %v", key, err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Display.Width = 0
	cfg.Model.Provider = "openai"
	cfg.Gateway.Port = 70000
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"kvm.url", "display", "model.provider", "gateway.port", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.json5")
	cfg := Default()
	cfg.KVM.URL = "http://kvm.local"
	cfg.Telemetry.Headers = map[string]string{"x-token": "abc"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.KVM.URL != "http://kvm.local" || loaded.Telemetry.Headers["x-token"] != "abc" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk-ant-0123456789"
	cfg.Tailscale.AuthKey = "short"
	red := cfg.Redacted()
	if red.Model.APIKey != "sk-a****6789" {
		t.Errorf("api key = %q", red.Model.APIKey)
	}
	if red.Tailscale.AuthKey != "****" {
		t.Errorf("auth key = %q", red.Tailscale.AuthKey)
	}
	if cfg.Model.APIKey != "sk-ant-0123456789" {
		t.Error("Redacted modified the original")
	}
}

func TestNormalize(t *testing.T) {
	urls := map[string]string{
		"":                     "",
		"192.168.1.50":         "http://192.168.1.50",
		" https://kvm.local/ ": "https://kvm.local",
		"http://kvm:8080":      "http://kvm:8080",
	}
	for in, want := range urls {
		if got := NormalizeKVMURL(in); got != want {
			t.Errorf("NormalizeKVMURL(%q) = %q, want %q", in, got, want)
		}
	}

	hosts := map[string]string{
		"kvmagent":       "kvmagent",
		"Lab KVM":        "lab-kvm",
		"--edge--":       "edge",
		"!!!":            DefaultTailscaleHostname,
		"":               DefaultTailscaleHostname,
		"under_score.io": "under-score-io",
	}
	for in, want := range hosts {
		if got := NormalizeHostname(in); got != want {
			t.Errorf("NormalizeHostname(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NormalizeHostname(strings.Repeat("a", 80)); len(got) != 63 {
		t.Errorf("long hostname not truncated: %d", len(got))
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/custom.json5")
	if got := DefaultPath(); got != "/tmp/custom.json5" {
		t.Errorf("DefaultPath = %q", got)
	}
}
