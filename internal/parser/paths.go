package parser

import (
	"strings"
)

// FileStem returns the file name of a slash-separated path without its last
// extension. Dotfiles keep their full name.
func FileStem(p string) string {
	name := p
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		name = p[i+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return name
	}
	return name[:dot]
}

// TargetToRelPath maps a wikilink target to the note path created for it.
func TargetToRelPath(rawTarget string) (string, bool) {
	trimmed := StripWikilinkTarget(rawTarget)
	if trimmed == "" {
		return "", false
	}
	if IsMarkdownPath(trimmed) {
		return trimmed, true
	}
	return trimmed + ".md", true
}

func normalizeRelPath(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	return strings.Trim(rel, "/")
}

// IsMarkdownPath reports whether rel names a .md or .markdown file.
func IsMarkdownPath(rel string) bool {
	lower := strings.ToLower(normalizeRelPath(rel))
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

// IsIgnoredPath reports whether any segment of rel is hidden (dot-prefixed)
// or a dependency folder. Empty paths are ignored.
func IsIgnoredPath(rel string) bool {
	var segments []string
	for _, s := range strings.Split(normalizeRelPath(rel), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return true
	}
	for _, s := range segments {
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, ".") || lower == "node_modules" {
			return true
		}
	}
	return false
}
