package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viscacam.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
camera:
  port: 1259
  timeout: 500ms
  max_retries: 10
  backoff: 5ms
bridge:
  port: 9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Port != 1259 || cfg.Camera.Timeout != 500*time.Millisecond || cfg.Camera.MaxRetries != 10 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Camera.Backoff != 5*time.Millisecond {
		t.Errorf("backoff = %s", cfg.Camera.Backoff)
	}
	if cfg.Camera.Model != "srg300" {
		t.Errorf("model default = %q", cfg.Camera.Model)
	}
	if cfg.Bridge.Port != 9100 || cfg.Bridge.Address != "127.0.0.1" {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("http port default = %d", cfg.HTTP.Port)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := map[string]string{
		"unknown field":    "camera:\n  colour: red\n",
		"port range":       "camera:\n  port: 70000\n",
		"negative retries": "camera:\n  max_retries: -1\n",
		"bad duration":     "camera:\n  timeout: soon\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("Load() succeeded")
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("missing file error = %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Camera.Port != 52381 || cfg.Camera.Timeout != 200*time.Millisecond {
		t.Errorf("Default() camera = %+v", cfg.Camera)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}
