// Package diagram renders fenced diagram blocks to sanitized SVG with
// per-view caching and cancellation.
package diagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Renderer turns diagram source into SVG markup.
type Renderer interface {
	Render(ctx context.Context, source, theme string) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, source, theme string) (string, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, source, theme string) (string, error) {
	return f(ctx, source, theme)
}

// cliConfig keeps labels as SVG text. HTML labels live in foreignObject,
// which Sanitize removes.
var cliConfig = map[string]any{
	"securityLevel": "strict",
	"htmlLabels":    false,
	"flowchart":     map[string]any{"htmlLabels": false},
	"sequence":      map[string]any{"htmlLabels": false},
	"class":         map[string]any{"htmlLabels": false},
}

// MermaidCLI renders through the mermaid-cli binary (mmdc).
type MermaidCLI struct {
	// Command is the executable, "mmdc" when empty.
	Command string
}

// Render writes source to a temporary directory and runs the CLI on it. The
// error carries the CLI's own message so it can be shown to the user.
func (m MermaidCLI) Render(ctx context.Context, source, theme string) (string, error) {
	dir, err := os.MkdirTemp("", "draglass-diagram-*")
	if err != nil {
		return "", fmt.Errorf("diagram: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.mmd")
	out := filepath.Join(dir, "output.svg")
	conf := filepath.Join(dir, "config.json")
	if err := os.WriteFile(in, []byte(source), 0o600); err != nil {
		return "", fmt.Errorf("diagram: write source: %w", err)
	}
	raw, err := json.Marshal(cliConfig)
	if err != nil {
		return "", fmt.Errorf("diagram: encode config: %w", err)
	}
	if err := os.WriteFile(conf, raw, 0o600); err != nil {
		return "", fmt.Errorf("diagram: write config: %w", err)
	}

	command := m.Command
	if command == "" {
		command = "mmdc"
	}
	cmd := exec.CommandContext(ctx, command, "-i", in, "-o", out, "-c", conf, "-t", cliTheme(theme), "-b", "transparent", "-q")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", errors.New(firstLines(msg, 4))
		}
		return "", fmt.Errorf("diagram: run %s: %w", command, err)
	}

	svg, err := os.ReadFile(out)
	if err != nil {
		return "", fmt.Errorf("diagram: read output: %w", err)
	}
	return string(svg), nil
}

func cliTheme(theme string) string {
	if theme == "dark" {
		return "dark"
	}
	return "default"
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
