package internal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if got := cfg.IndexPath(); got != filepath.Join("vault", ".draglass", "index.db") {
		t.Errorf("index path = %q", got)
	}
	if got := cfg.App.HTTP.Address(); got != "127.0.0.1:8080" {
		t.Errorf("address = %q", got)
	}
	if cfg.Autosave.Debounce != 750*time.Millisecond {
		t.Errorf("autosave debounce = %v", cfg.Autosave.Debounce)
	}
}

func TestAutosaveConfig_Clamp(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{-time.Second, 0},
		{0, 0},
		{2 * time.Second, 2 * time.Second},
		{time.Minute, 10 * time.Second},
	}
	for _, tt := range tests {
		cfg := AutosaveConfig{Enabled: true, Debounce: tt.in}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate(%v): %v", tt.in, err)
		}
		if cfg.Debounce != tt.want {
			t.Errorf("Debounce(%v) = %v, want %v", tt.in, cfg.Debounce, tt.want)
		}
	}
}

func TestEditorConfig_Theme(t *testing.T) {
	cfg := EditorConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty theme should default: %v", err)
	}
	if cfg.Theme != ThemeDark {
		t.Errorf("theme = %q, want dark", cfg.Theme)
	}

	cfg = EditorConfig{Theme: "sepia"}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown theme should fail validation")
	}
}

func TestEditorConfig_PreviewOptions(t *testing.T) {
	cfg := EditorConfig{LivePreview: true, RenderDiagrams: true, Theme: ThemeLight}
	o := cfg.PreviewOptions()
	if !o.LivePreview || o.RenderImages || !o.RenderDiagrams || o.Theme != ThemeLight {
		t.Errorf("options = %+v", o)
	}
}

func TestDiagramConfig_CommandRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Diagram.Command = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty diagram command should fail validation")
	}
}

func TestConfig_IndexPath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Vault.Path = "/notes"
	if got := cfg.IndexPath(); got != filepath.Join("/notes", ".draglass", "index.db") {
		t.Errorf("default index path = %q", got)
	}
	cfg.SQLite.Path = "/tmp/idx.db"
	if got := cfg.IndexPath(); got != "/tmp/idx.db" {
		t.Errorf("explicit index path = %q", got)
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"127.0.0.1", 9000, "127.0.0.1:9000"},
		{"::1", 8080, "[::1]:8080"},
	}
	for _, tt := range tests {
		c := HTTPConfig{Host: tt.host, Port: tt.port}
		if got := c.Address(); got != tt.want {
			t.Errorf("Address(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}
