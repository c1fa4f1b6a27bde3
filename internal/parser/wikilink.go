package parser

import (
	"iter"
	"regexp"
	"strings"
)

var wikilinkRe = regexp.MustCompile(`\[\[([^\]]+?)\]\]`)

// Wikilink is a deduplicated wikilink reference.
type Wikilink struct {
	// Target is the first-seen display form with any alias removed.
	Target     string `json:"target"`
	Normalized string `json:"normalized"`
}

// WikilinkMatch is a wikilink located at a buffer offset.
type WikilinkMatch struct {
	// Raw is the text between the brackets, alias included.
	Raw    string `json:"raw"`
	Target string `json:"target"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

// NormalizeWikiTarget maps a raw wikilink target to the key used for note
// matching: alias dropped, trimmed, lowercased, and without a trailing .md or
// .markdown extension. An empty result means "no target".
func NormalizeWikiTarget(raw string) string {
	s := raw
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasSuffix(s, ".markdown"):
			s = strings.TrimSuffix(s, ".markdown")
		case strings.HasSuffix(s, ".md"):
			s = strings.TrimSuffix(s, ".md")
		default:
			return s
		}
	}
}

// StripWikilinkTarget returns the trimmed target with any alias removed,
// preserving case.
func StripWikilinkTarget(raw string) string {
	if i := strings.IndexByte(raw, '|'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// Wikilinks yields wikilinks in text in first-seen order, deduplicated by
// normalized key. The sequence is restartable.
func Wikilinks(text string) iter.Seq[Wikilink] {
	return func(yield func(Wikilink) bool) {
		seen := make(map[string]struct{})
		for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
			target := StripWikilinkTarget(m[1])
			norm := NormalizeWikiTarget(target)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			if !yield(Wikilink{Target: target, Normalized: norm}) {
				return
			}
		}
	}
}

// ParseWikilinks collects Wikilinks(text) into a slice.
func ParseWikilinks(text string) []Wikilink {
	var out []Wikilink
	for l := range Wikilinks(text) {
		out = append(out, l)
	}
	return out
}

// FindWikilinks returns every wikilink in text with its span, brackets
// included, in order of appearance. Empty targets are kept.
func FindWikilinks(text string) []WikilinkMatch {
	var out []WikilinkMatch
	for _, loc := range wikilinkRe.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[2]:loc[3]]
		out = append(out, WikilinkMatch{
			Raw:    raw,
			Target: StripWikilinkTarget(raw),
			From:   loc[0],
			To:     loc[1],
		})
	}
	return out
}

// ExtractWikilinkAt finds the wikilink whose span, brackets included,
// contains offset. Both span ends count as inside.
func ExtractWikilinkAt(text string, offset int) (WikilinkMatch, bool) {
	for _, m := range FindWikilinks(text) {
		if offset < m.From {
			break
		}
		if offset <= m.To {
			return m, true
		}
	}
	return WikilinkMatch{}, false
}
