package livepreview

import (
	"regexp"
	"strings"

	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/textrange"
)

// DiagramLang is the fence language rendered as a diagram.
const DiagramLang = "mermaid"

var fenceRe = regexp.MustCompile("^\\s{0,3}```\\s*([\\w-]+)?\\s*$")

// fenceLang returns the lowercased language of a fence line. ok is false when
// the line is not a fence.
func fenceLang(text string) (lang string, ok bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

type lineClass uint8

const (
	classText lineClass = iota
	classFenceOpen
	classFenceClose
	classInFence
)

// classify labels lines 1..last. Fences pair up in document order; any fence
// line closes the open one regardless of its language. The result is indexed
// by line number.
func classify(doc *buffer.Doc, last int) []lineClass {
	last = min(last, doc.Lines())
	out := make([]lineClass, last+1)
	open := false
	for n := 1; n <= last; n++ {
		_, isFence := fenceLang(doc.Line(n).Text)
		switch {
		case isFence && open:
			out[n] = classFenceClose
			open = false
		case isFence:
			out[n] = classFenceOpen
			open = true
		case open:
			out[n] = classInFence
		}
	}
	return out
}

// DiagramBlock is a closed diagram fence. From and To cover both fence lines;
// To includes the closing line break when one follows.
type DiagramBlock struct {
	From      int    `json:"from"`
	To        int    `json:"to"`
	Source    string `json:"source"`
	EditPos   int    `json:"edit_pos"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func collectBlock(doc *buffer.Doc, startLine int) (DiagramBlock, bool) {
	start := doc.Line(startLine)
	if lang, ok := fenceLang(start.Text); !ok || lang != DiagramLang {
		return DiagramBlock{}, false
	}

	var content []string
	for n := startLine + 1; n <= doc.Lines(); n++ {
		line := doc.Line(n)
		if _, ok := fenceLang(line.Text); !ok {
			content = append(content, line.Text)
			continue
		}
		to := line.To
		if n < doc.Lines() {
			to++
		}
		editPos := start.To
		if startLine < doc.Lines() {
			editPos++
		}
		return DiagramBlock{
			From:      start.From,
			To:        to,
			Source:    strings.Join(content, "\n"),
			EditPos:   editPos,
			StartLine: startLine,
			EndLine:   n,
		}, true
	}
	return DiagramBlock{}, false
}

// DiagramBlocks returns the closed diagram blocks that intersect any of the
// visible spans, in document order.
func DiagramBlocks(doc *buffer.Doc, visible []textrange.Span) []DiagramBlock {
	last := 0
	for _, v := range visible {
		last = max(last, doc.LineAt(v.To).Number)
	}
	classes := classify(doc, last)

	var out []DiagramBlock
	for n := 1; n <= last; n++ {
		if classes[n] != classFenceOpen {
			continue
		}
		b, ok := collectBlock(doc, n)
		if !ok || !textrange.AnyIntersects(visible, b.From, b.To) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// DiagramBlockAtLine returns the diagram block opened by line n, if any.
func DiagramBlockAtLine(doc *buffer.Doc, n int) (DiagramBlock, bool) {
	if n < 1 || n > doc.Lines() {
		return DiagramBlock{}, false
	}
	if classify(doc, n)[n] != classFenceOpen {
		return DiagramBlock{}, false
	}
	return collectBlock(doc, n)
}

// EnterPosition is where the cursor goes to edit a rendered block: the start
// of its first content line, or the block start when there is none.
func EnterPosition(doc *buffer.Doc, b DiagramBlock) int {
	first := b.StartLine + 1
	if first > doc.Lines() || first == b.EndLine {
		return b.From
	}
	return doc.Line(first).From
}

// EnterFromAbove handles moving down from the line above a rendered diagram.
// It returns the edit position when the primary cursor is empty and the next
// line opens a diagram block.
func EnterFromAbove(doc *buffer.Doc, sel buffer.Selection) (int, bool) {
	if len(sel.Ranges) == 0 || !sel.Ranges[0].Empty() {
		return 0, false
	}
	line := doc.LineAt(sel.Ranges[0].Head)
	b, ok := DiagramBlockAtLine(doc, line.Number+1)
	if !ok {
		return 0, false
	}
	return EnterPosition(doc, b), true
}
