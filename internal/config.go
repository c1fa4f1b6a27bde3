package internal

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/draglass/internal/autosave"
	"github.com/starford/draglass/internal/diagram"
	"github.com/starford/draglass/internal/livepreview"
	"github.com/starford/draglass/internal/noteservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Editor    EditorConfig      `yaml:"editor"`
	Autosave  AutosaveConfig    `yaml:"autosave"`
	Backlinks BacklinksConfig   `yaml:"backlinks"`
	Diagram   DiagramConfig     `yaml:"diagram"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Editor.Validate(); err != nil {
		return err
	}
	if err := c.Autosave.Validate(); err != nil {
		return err
	}
	if err := c.Backlinks.Validate(); err != nil {
		return err
	}
	return c.Diagram.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. The API edits files on disk,
// so the default host only accepts local connections; an empty host listens
// on every interface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// defaultIndexDir holds the index inside the vault. Dot folders are never
// listed or watched as notes.
const defaultIndexDir = ".draglass"

// SQLiteConfig holds the index database location. An empty path keeps the
// index in the vault's .draglass folder.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	if c.Path == "" {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Length(1, 4096)),
	)
}

// IndexPath returns the SQLite database path for the configured vault.
func (c *Config) IndexPath() string {
	if c.SQLite.Path != "" {
		return c.SQLite.Path
	}
	return filepath.Join(c.Vault.Path, defaultIndexDir, "index.db")
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// Editor themes.
const (
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// EditorConfig holds the live-preview toggles.
type EditorConfig struct {
	LivePreview      bool   `yaml:"live_preview"`
	RenderImages     bool   `yaml:"render_images"`
	RenderDiagrams   bool   `yaml:"render_diagrams"`
	Theme            string `yaml:"theme"`
	DiagramCacheSize int    `yaml:"diagram_cache_size"`
}

// Validate validates the editor configuration.
func (c *EditorConfig) Validate() error {
	if c.Theme == "" {
		c.Theme = ThemeDark
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Theme, validation.In(ThemeDark, ThemeLight)),
		validation.Field(&c.DiagramCacheSize, validation.Min(1), validation.Max(10000)),
	)
}

// PreviewOptions converts the config to decoration builder options.
func (c *EditorConfig) PreviewOptions() livepreview.Options {
	return livepreview.Options{
		LivePreview:    c.LivePreview,
		RenderImages:   c.RenderImages,
		RenderDiagrams: c.RenderDiagrams,
		Theme:          c.Theme,
	}
}

// maxAutosaveDebounce caps the autosave delay.
const maxAutosaveDebounce = 10 * time.Second

// AutosaveConfig holds the autosave settings.
type AutosaveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate clamps the debounce to [0, 10s].
func (c *AutosaveConfig) Validate() error {
	c.Debounce = min(max(c.Debounce, 0), maxAutosaveDebounce)
	return nil
}

// BacklinksConfig holds the backlinks panel settings.
type BacklinksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the backlinks configuration.
func (c *BacklinksConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0)), validation.Max(maxAutosaveDebounce)),
	)
}

// DiagramConfig holds the diagram renderer settings.
type DiagramConfig struct {
	// Command is the mermaid-cli executable.
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the diagram configuration.
func (c *DiagramConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Command, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Editor: EditorConfig{
			LivePreview:      true,
			RenderImages:     true,
			RenderDiagrams:   true,
			Theme:            ThemeDark,
			DiagramCacheSize: diagram.DefaultCacheSize,
		},
		Autosave: AutosaveConfig{
			Enabled:  true,
			Debounce: autosave.DefaultDebounce,
		},
		Backlinks: BacklinksConfig{
			Enabled:  true,
			Debounce: noteservice.DefaultBacklinksDebounce,
		},
		Diagram: DiagramConfig{
			Command: "mmdc",
			Timeout: 30 * time.Second,
		},
	}
}
