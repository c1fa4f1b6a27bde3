// Package textrange answers whether a selection touches a markup span.
package textrange

// Intersects reports whether [aFrom, aTo] and [bFrom, bTo] share a position.
// Boundaries are inclusive, so a cursor sitting right after a span still
// touches it.
func Intersects(aFrom, aTo, bFrom, bTo int) bool {
	return aFrom <= bTo && aTo >= bFrom
}

// ShouldHideMarkup reports whether markup syntax should be hidden for the
// given selection. Markup stays visible only while the selection touches it.
func ShouldHideMarkup(markupFrom, markupTo, selectionFrom, selectionTo int) bool {
	return !Intersects(selectionFrom, selectionTo, markupFrom, markupTo)
}

// Overlaps reports a strict overlap with exclusive ends. Adjacent spans do
// not overlap.
func Overlaps(aFrom, aTo, bFrom, bTo int) bool {
	return aFrom < bTo && aTo > bFrom
}

// Span is a pair of buffer offsets.
type Span struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// AnyIntersects reports whether any span touches [from, to].
func AnyIntersects(spans []Span, from, to int) bool {
	for _, s := range spans {
		if Intersects(s.From, s.To, from, to) {
			return true
		}
	}
	return false
}

// AnyOverlaps reports whether any span strictly overlaps [from, to).
func AnyOverlaps(spans []Span, from, to int) bool {
	for _, s := range spans {
		if Overlaps(s.From, s.To, from, to) {
			return true
		}
	}
	return false
}
