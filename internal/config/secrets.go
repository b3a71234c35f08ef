package config

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// Keyring coordinates of the stored API key.
const (
	KeyringService = "kvmagent"
	KeyringAPIKey  = "anthropic_api_key"
)

// StoreAPIKey saves key in the OS keyring.
func StoreAPIKey(key string) error {
	return keyring.Set(KeyringService, KeyringAPIKey, key)
}

// KeyringAPIKeyValue returns the stored API key, or "" when none is stored.
func KeyringAPIKeyValue() (string, error) {
	key, err := keyring.Get(KeyringService, KeyringAPIKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return key, err
}

// DeleteAPIKey removes the stored API key. Deleting a missing key is not an error.
func DeleteAPIKey() error {
	err := keyring.Delete(KeyringService, KeyringAPIKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// resolveSecrets fills the API key from the keyring when the file and
// environment leave it empty. Keyring failures (headless hosts) are logged.
func (c *Config) resolveSecrets() {
	if c.Model.APIKey != "" {
		return
	}
	key, err := KeyringAPIKeyValue()
	if err != nil {
		slog.Debug("keyring unavailable", "error", err)
		return
	}
	c.Model.APIKey = key
}

// StripSecrets clears values that belong in the keyring, not on disk.
func (c *Config) StripSecrets() {
	c.Model.APIKey = ""
}
