package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "KVMAGENT_CONFIG"
	EnvAPIKey     = "ANTHROPIC_API_KEY"
	EnvKVMURL     = "NANOKVM_URL"
	EnvModel      = "KVMAGENT_MODEL"
	EnvGatewayTok = "KVMAGENT_GATEWAY_TOKEN"
)

// DefaultPath returns $KVMAGENT_CONFIG or ~/.kvmagent/config.json5.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json5"
	}
	return filepath.Join(home, ".kvmagent", "config.json5")
}

// Load reads the config at path on top of Default. A missing file yields
// the defaults. Environment overrides win over the file; the API key falls
// back to the OS keyring. Load does not Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	cfg.Normalize()
	cfg.resolveSecrets()
	return cfg, nil
}

// ApplyEnv overlays the supported environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv(EnvKVMURL); v != "" {
		c.KVM.URL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv(EnvGatewayTok); v != "" {
		c.Gateway.Token = v
	}
}

// Save writes cfg to path as indented JSON, creating the directory.
// The file holds secrets, so it is created 0600.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := cfg.MarshalIndent()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}
