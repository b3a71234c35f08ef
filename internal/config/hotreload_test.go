package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcher_Reload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, `{ kvm: { url: "http://one" } }`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	changed := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changed <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(dir+"/other.txt", []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{ kvm: { url: "http://two" }, model: { name: "reloaded" } }`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.KVM.URL != "http://two" || cfg.Model.Name != "reloaded" {
			t.Errorf("reloaded config = %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}
}

func TestWatcher_InvalidConfigKept(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `{ kvm: { url: "http://one" } }`)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	called := false
	w.OnChange(func(*Config) { called = true })

	if err := os.WriteFile(path, []byte(`{ display: { width: -1 } }`), 0o600); err != nil {
		t.Fatal(err)
	}
	w.reload()
	if called {
		t.Error("handler called for an invalid config")
	}
	w.Stop()
}
