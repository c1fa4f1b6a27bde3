package parser

import (
	"regexp"
	"sort"
	"strings"
)

var (
	markdownImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"([^"]*)")?\)`)
	wikiEmbedRe     = regexp.MustCompile(`!\[\[([^\]]+?)\]\]`)
	uriSchemeRe     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// ImageKind distinguishes the two image reference syntaxes.
type ImageKind string

const (
	ImageMarkdown ImageKind = "markdown"
	ImageWikilink ImageKind = "wikilink"
)

// ImageRef is an image reference found in text. From and To are byte
// offsets relative to the scanned text.
type ImageRef struct {
	From   int       `json:"from"`
	To     int       `json:"to"`
	Raw    string    `json:"raw"`
	Target string    `json:"target"`
	Alt    string    `json:"alt"`
	Title  string    `json:"title,omitempty"`
	Kind   ImageKind `json:"kind"`
}

// ExtractImageMarkups returns every ![alt](path "title") and ![[path|alt]]
// reference in text, ordered by start offset.
func ExtractImageMarkups(text string) []ImageRef {
	var out []ImageRef

	for _, loc := range markdownImageRe.FindAllStringSubmatchIndex(text, -1) {
		ref := ImageRef{
			From:   loc[0],
			To:     loc[1],
			Raw:    text[loc[0]:loc[1]],
			Alt:    text[loc[2]:loc[3]],
			Target: text[loc[4]:loc[5]],
			Kind:   ImageMarkdown,
		}
		if loc[6] >= 0 {
			ref.Title = text[loc[6]:loc[7]]
		}
		out = append(out, ref)
	}

	for _, loc := range wikiEmbedRe.FindAllStringSubmatchIndex(text, -1) {
		parts := strings.Split(text[loc[2]:loc[3]], "|")
		ref := ImageRef{
			From:   loc[0],
			To:     loc[1],
			Raw:    text[loc[0]:loc[1]],
			Target: strings.TrimSpace(parts[0]),
			Kind:   ImageWikilink,
		}
		if len(parts) > 1 {
			ref.Alt = strings.TrimSpace(parts[1])
		}
		out = append(out, ref)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func normalizeImageTarget(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/")
}

// IsRemoteImageTarget reports whether raw points outside the vault: a
// protocol-relative path or anything with a URI scheme.
func IsRemoteImageTarget(raw string) bool {
	target := normalizeImageTarget(raw)
	if target == "" {
		return false
	}
	if strings.HasPrefix(target, "//") {
		return true
	}
	return uriSchemeRe.MatchString(target)
}

// ResolveImageTarget resolves rawTarget against the directory of the note at
// noteRelPath. A leading slash makes the target vault-root relative. Any ".."
// segment fails resolution rather than being clamped at the root.
func ResolveImageTarget(noteRelPath, rawTarget string) (string, bool) {
	target := normalizeImageTarget(rawTarget)
	if target == "" {
		return "", false
	}

	var parts []string
	if strings.HasPrefix(target, "/") {
		target = target[1:]
	} else {
		dir := strings.Split(noteRelPath, "/")
		parts = append(parts, dir[:len(dir)-1]...)
	}
	if target == "" {
		return "", false
	}
	parts = append(parts, strings.Split(target, "/")...)

	resolved := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			return "", false
		}
		resolved = append(resolved, p)
	}
	if len(resolved) == 0 {
		return "", false
	}
	return strings.Join(resolved, "/"), true
}
