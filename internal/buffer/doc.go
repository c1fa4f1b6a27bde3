// Package buffer holds the editable document text and the selection state the
// live-preview layer reads.
package buffer

import (
	"fmt"
	"sort"
	"strings"
)

// Line is one line of a Doc. From and To are byte offsets; To points at the
// line break (or the end of the document) and excludes it.
type Line struct {
	Number int    `json:"number"`
	From   int    `json:"from"`
	To     int    `json:"to"`
	Text   string `json:"text"`
}

// Doc is an immutable document with a line index. Offsets are byte offsets
// into the UTF-8 text.
type Doc struct {
	text   string
	starts []int // byte offset of each line start
}

// New indexes text into a Doc.
func New(text string) *Doc {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Doc{text: text, starts: starts}
}

// String returns the full document text.
func (d *Doc) String() string { return d.text }

// Len returns the document length in bytes.
func (d *Doc) Len() int { return len(d.text) }

// Lines returns the number of lines. An empty document has one line.
func (d *Doc) Lines() int { return len(d.starts) }

// Line returns the 1-based line n. It panics when n is out of range, the same
// as slice indexing.
func (d *Doc) Line(n int) Line {
	if n < 1 || n > len(d.starts) {
		panic(fmt.Sprintf("buffer: line %d out of range [1,%d]", n, len(d.starts)))
	}
	from := d.starts[n-1]
	to := len(d.text)
	if n < len(d.starts) {
		to = d.starts[n] - 1
	}
	return Line{Number: n, From: from, To: to, Text: d.text[from:to]}
}

// LineAt returns the line containing pos. Positions are clamped to the
// document bounds.
func (d *Doc) LineAt(pos int) Line {
	pos = d.clamp(pos)
	n := sort.Search(len(d.starts), func(i int) bool { return d.starts[i] > pos })
	return d.Line(n)
}

// Slice returns the text between from and to, clamped to the document.
func (d *Doc) Slice(from, to int) string {
	from, to = d.clamp(from), d.clamp(to)
	if to < from {
		return ""
	}
	return d.text[from:to]
}

// Replace returns a new Doc with [from, to) replaced by insert.
func (d *Doc) Replace(from, to int, insert string) (*Doc, error) {
	if from < 0 || to > len(d.text) || from > to {
		return nil, fmt.Errorf("buffer: replace: invalid range [%d,%d) in document of length %d", from, to, len(d.text))
	}
	var b strings.Builder
	b.Grow(len(d.text) - (to - from) + len(insert))
	b.WriteString(d.text[:from])
	b.WriteString(insert)
	b.WriteString(d.text[to:])
	return New(b.String()), nil
}

func (d *Doc) clamp(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos > len(d.text) {
		return len(d.text)
	}
	return pos
}
