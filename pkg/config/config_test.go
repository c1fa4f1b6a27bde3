package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name     string        `yaml:"name"`
	Port     int           `yaml:"port"`
	Debounce time.Duration `yaml:"debounce"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("DRAGLASS_TEST_NAME", "vault-a")
	p := writeFile(t, "name: ${DRAGLASS_TEST_NAME}\ndebounce: 500ms\n")

	cfg := sample{Port: 8080}
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "vault-a" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, default should be kept", cfg.Port)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Debounce)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	p := writeFile(t, "port: -1\n")
	cfg := sample{}
	err := Load(p, &cfg)
	if err == nil || !strings.Contains(err.Error(), "port must be positive") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := sample{Port: 1}
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg := sample{Port: 9000}
	if err := LoadOptional(missing, &cfg); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d", cfg.Port)
	}

	bad := sample{}
	if err := LoadOptional(missing, &bad); err == nil {
		t.Error("defaults should still be validated")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	cfg := sample{Port: 1}
	if err := Parse([]byte("name: [unterminated"), &cfg); err == nil {
		t.Error("expected parse error")
	}
}
