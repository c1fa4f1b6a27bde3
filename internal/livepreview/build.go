package livepreview

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/parser"
	"github.com/starford/draglass/internal/textrange"
)

var (
	headingRe    = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+`)
	taskRe       = regexp.MustCompile(`^\s*[-+*]\s+\[( |x|X)\]`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	boldStarRe   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__([^_]+)__`)
)

// CSS classes applied by Mark decorations.
const (
	ClassHeading  = "lp-heading"
	ClassBold     = "lp-bold"
	ClassItalic   = "lp-italic"
	ClassCode     = "lp-code"
	ClassWikilink = "lp-wikilink"
)

// DefaultTheme is used when Options.Theme is empty.
const DefaultTheme = "dark"

// Options are the feature toggles for one build.
type Options struct {
	LivePreview    bool
	RenderImages   bool
	RenderDiagrams bool
	// NoteRelPath is the vault-relative path of the note; images are only
	// rendered when it is set.
	NoteRelPath string
	Theme       string
}

// Build returns the decorations for the visible spans of doc under sel,
// sorted by (From, To). It is a full rebuild.
func Build(doc *buffer.Doc, sel buffer.Selection, visible []textrange.Span, opts Options) []Decoration {
	if !opts.LivePreview {
		return nil
	}
	b := &builder{sel: sel, opts: opts}

	last := 0
	for _, v := range visible {
		last = max(last, doc.LineAt(v.To).Number)
	}
	classes := classify(doc, last)

	scanned := make(map[int]bool)
	for _, v := range visible {
		first, end := doc.LineAt(v.From).Number, doc.LineAt(v.To).Number
		for n := first; n <= end; n++ {
			if scanned[n] || classes[n] != classText {
				continue
			}
			scanned[n] = true
			b.line(doc.Line(n))
		}
	}

	if opts.RenderDiagrams {
		b.diagrams(DiagramBlocks(doc, visible))
	}

	sortDecorations(b.out)
	return b.out
}

type builder struct {
	sel  buffer.Selection
	opts Options
	out  []Decoration
}

func (b *builder) mark(from, to int, kind Kind, class string) {
	if to <= from {
		return
	}
	b.out = append(b.out, Decoration{From: from, To: to, Kind: kind, Type: Mark, Class: class})
}

func (b *builder) replace(from, to int, kind Kind, w *Widget) {
	b.out = append(b.out, Decoration{From: from, To: to, Kind: kind, Type: Replace, Widget: w})
}

// delimited marks the inner text of a delimited markup span and hides both
// delimiters unless the selection touches the span.
func (b *builder) delimited(markupFrom, markupTo, width int, kind Kind, class string) {
	b.mark(markupFrom+width, markupTo-width, kind, class)
	if b.sel.Touches(markupFrom, markupTo) {
		return
	}
	b.replace(markupFrom, markupFrom+width, kind, hidden)
	b.replace(markupTo-width, markupTo, kind, hidden)
}

func (b *builder) line(line buffer.Line) {
	text := line.Text
	base := line.From

	if m := headingRe.FindStringSubmatch(text); m != nil {
		level := len(m[1])
		b.mark(line.From, line.To, KindHeading, fmt.Sprintf("%s lp-h%d", ClassHeading, level))
		markerTo := base + len(m[0])
		if !b.sel.Touches(base, markerTo) {
			b.replace(base, markerTo, KindHeading, hidden)
		}
	}

	if m := taskRe.FindStringSubmatch(text); m != nil {
		bracket := base + strings.IndexByte(m[0], '[')
		b.replace(bracket, bracket+3, KindTaskCheckbox, &Widget{
			Kind: WidgetCheckbox,
			Checkbox: &CheckboxWidget{
				Checked:   strings.EqualFold(m[1], "x"),
				TogglePos: bracket + 1,
			},
		})
	}

	var code []textrange.Span
	for _, loc := range inlineCodeRe.FindAllStringIndex(text, -1) {
		from, to := base+loc[0], base+loc[1]
		code = append(code, textrange.Span{From: from, To: to})
		b.delimited(from, to, 1, KindInlineCode, ClassCode)
	}

	var images []textrange.Span
	if b.opts.RenderImages && b.opts.NoteRelPath != "" {
		images = b.images(text, base, code)
	}
	blocked := slices.Concat(code, images)

	for _, re := range []*regexp.Regexp{boldStarRe, boldUnderRe} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			from, to := base+loc[0], base+loc[1]
			if textrange.AnyOverlaps(images, from, to) {
				continue
			}
			b.delimited(from, to, 2, KindBold, ClassBold)
		}
	}

	for _, delim := range []byte{'*', '_'} {
		for _, s := range italicSpans(text, delim) {
			from, to := base+s.From, base+s.To
			if textrange.AnyOverlaps(images, from, to) {
				continue
			}
			b.delimited(from, to, 1, KindItalic, ClassItalic)
		}
	}

	for _, m := range parser.FindWikilinks(text) {
		from, to := base+m.From, base+m.To
		if textrange.AnyOverlaps(blocked, from, to) {
			continue
		}
		b.out = append(b.out, Decoration{
			From: from + 2, To: to - 2, Kind: KindWikilink, Type: Mark, Class: ClassWikilink, Target: m.Target,
		})
		if !b.sel.Touches(from, to) {
			b.replace(from, from+2, KindWikilink, hidden)
			b.replace(to-2, to, KindWikilink, hidden)
		}
	}
}

// images emits one Replace per image reference and returns the replaced
// spans. References inside inline code or touched by the selection stay as
// text.
func (b *builder) images(text string, base int, code []textrange.Span) []textrange.Span {
	var out []textrange.Span
	for _, ref := range parser.ExtractImageMarkups(text) {
		from, to := base+ref.From, base+ref.To
		if to <= from || textrange.AnyOverlaps(code, from, to) || b.sel.Touches(from, to) {
			continue
		}
		out = append(out, textrange.Span{From: from, To: to})

		if parser.IsRemoteImageTarget(ref.Target) {
			b.replace(from, to, KindImageEmbed, placeholder(LabelRemoteImage))
			continue
		}
		resolved, ok := parser.ResolveImageTarget(b.opts.NoteRelPath, ref.Target)
		if !ok {
			b.replace(from, to, KindImageEmbed, placeholder(LabelImageNotFound))
			continue
		}
		alt := ref.Alt
		if alt == "" {
			alt = ref.Target
		}
		b.replace(from, to, KindImageEmbed, &Widget{
			Kind: WidgetImage,
			Image: &ImageWidget{
				CacheKey: ImageCacheKey(b.opts.NoteRelPath, from, to, resolved),
				RelPath:  resolved,
				Alt:      alt,
			},
		})
	}
	return out
}

func (b *builder) diagrams(blocks []DiagramBlock) {
	theme := b.opts.Theme
	if theme == "" {
		theme = DefaultTheme
	}
	for _, blk := range blocks {
		if strings.TrimSpace(blk.Source) == "" || b.sel.Touches(blk.From, blk.To) {
			continue
		}
		b.replace(blk.From, blk.To, KindDiagramBlock, &Widget{
			Kind: WidgetDiagram,
			Diagram: &DiagramWidget{
				Source:    blk.Source,
				Theme:     theme,
				EditPos:   blk.EditPos,
				StartLine: blk.StartLine,
			},
		})
	}
}

func placeholder(label string) *Widget {
	return &Widget{Kind: WidgetPlaceholder, Placeholder: &PlaceholderWidget{Label: label}}
}

// ImageCacheKey scopes an image asset to a note and the span of its markup.
func ImageCacheKey(noteRelPath string, from, to int, resolved string) string {
	return fmt.Sprintf("%s:%d-%d:%s", noteRelPath, from, to, resolved)
}

// italicSpans finds single-delimiter emphasis such as *x* or _x_. A delimiter
// that touches another delimiter of the same kind belongs to bold and is
// skipped. Spans include both delimiters.
func italicSpans(text string, delim byte) []textrange.Span {
	var out []textrange.Span
	for i := 0; i < len(text); i++ {
		if text[i] != delim || (i > 0 && text[i-1] == delim) {
			continue
		}
		j := strings.IndexByte(text[i+1:], delim)
		if j <= 0 {
			continue
		}
		j += i + 1
		if j+1 < len(text) && text[j+1] == delim {
			continue
		}
		out = append(out, textrange.Span{From: i, To: j + 1})
		i = j
	}
	return out
}
