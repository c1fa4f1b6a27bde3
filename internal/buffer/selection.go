package buffer

import "github.com/starford/draglass/internal/textrange"

// Range is a selection range. Anchor is where the selection started and Head
// is where it currently ends; Head may precede Anchor.
type Range struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// From returns the lower bound of the range.
func (r Range) From() int { return min(r.Anchor, r.Head) }

// To returns the upper bound of the range.
func (r Range) To() int { return max(r.Anchor, r.Head) }

// Empty reports whether the range is a bare cursor.
func (r Range) Empty() bool { return r.Anchor == r.Head }

// Selection is a set of ranges. Multiple ranges model multi-cursor editing.
type Selection struct {
	Ranges []Range `json:"ranges"`
}

// Cursor returns a selection with one empty range at pos.
func Cursor(pos int) Selection {
	return Selection{Ranges: []Range{{Anchor: pos, Head: pos}}}
}

// Spans returns the normalised ranges.
func (s Selection) Spans() []textrange.Span {
	out := make([]textrange.Span, 0, len(s.Ranges))
	for _, r := range s.Ranges {
		out = append(out, textrange.Span{From: r.From(), To: r.To()})
	}
	return out
}

// Touches reports whether any range intersects [from, to], ends included.
func (s Selection) Touches(from, to int) bool {
	return textrange.AnyIntersects(s.Spans(), from, to)
}
