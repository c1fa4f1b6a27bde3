package livepreview

import (
	"errors"
	"fmt"

	"github.com/starford/draglass/internal/buffer"
)

// ErrNoTask is returned when no task checkbox sits at the toggle position.
var ErrNoTask = errors.New("no task checkbox")

// ToggleTask flips the checkbox whose state character sits at pos, as
// reported by CheckboxWidget.TogglePos. Exactly one character changes.
func ToggleTask(doc *buffer.Doc, pos int) (*buffer.Doc, error) {
	if pos < 1 || pos+1 >= doc.Len() {
		return nil, fmt.Errorf("livepreview: toggle task: position %d out of range: %w", pos, ErrNoTask)
	}
	text := doc.String()
	if text[pos-1] != '[' || text[pos+1] != ']' {
		return nil, fmt.Errorf("livepreview: toggle task: no checkbox at %d: %w", pos, ErrNoTask)
	}

	var next string
	switch text[pos] {
	case ' ':
		next = "x"
	case 'x', 'X':
		next = " "
	default:
		return nil, fmt.Errorf("livepreview: toggle task: no checkbox at %d: %w", pos, ErrNoTask)
	}
	return doc.Replace(pos, pos+1, next)
}
