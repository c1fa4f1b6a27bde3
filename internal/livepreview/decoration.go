// Package livepreview computes the decorations that turn a markdown buffer
// into its live-preview rendering. It never edits the buffer; the only write
// path is ToggleTask, which returns a new document.
package livepreview

import "sort"

// Kind is the markup a decoration belongs to.
type Kind string

const (
	KindHeading      Kind = "heading"
	KindBold         Kind = "bold"
	KindItalic       Kind = "italic"
	KindInlineCode   Kind = "inline_code"
	KindWikilink     Kind = "wikilink"
	KindImageEmbed   Kind = "image_embed"
	KindTaskCheckbox Kind = "task_checkbox"
	KindDiagramBlock Kind = "diagram_block"
)

// Type says how the view applies a decoration.
type Type string

const (
	// Mark styles the range with Class.
	Mark Type = "mark"
	// Replace swaps the range for Widget.
	Replace Type = "replace"
)

// WidgetKind tags the Widget variant. Exactly one payload field matching the
// kind is set.
type WidgetKind string

const (
	WidgetHidden      WidgetKind = "hidden"
	WidgetCheckbox    WidgetKind = "checkbox"
	WidgetPlaceholder WidgetKind = "image_placeholder"
	WidgetImage       WidgetKind = "image"
	WidgetDiagram     WidgetKind = "diagram"
)

// Placeholder labels.
const (
	LabelRemoteImage   = "remote images disabled"
	LabelImageNotFound = "image not found"
)

// Widget is the replacement content of a Replace decoration.
type Widget struct {
	Kind        WidgetKind         `json:"kind"`
	Checkbox    *CheckboxWidget    `json:"checkbox,omitempty"`
	Placeholder *PlaceholderWidget `json:"placeholder,omitempty"`
	Image       *ImageWidget       `json:"image,omitempty"`
	Diagram     *DiagramWidget     `json:"diagram,omitempty"`
}

// CheckboxWidget is an interactive task toggle. TogglePos is the offset of
// the character between the brackets.
type CheckboxWidget struct {
	Checked   bool `json:"checked"`
	TogglePos int  `json:"toggle_pos"`
}

// PlaceholderWidget stands in for an image that will not be loaded.
type PlaceholderWidget struct {
	Label string `json:"label"`
}

// ImageWidget is a resolved vault image. CacheKey scopes the loaded asset to
// the note and the markup position.
type ImageWidget struct {
	CacheKey string `json:"cache_key"`
	RelPath  string `json:"rel_path"`
	Alt      string `json:"alt"`
}

// DiagramWidget is a fenced diagram block to be rendered.
type DiagramWidget struct {
	Source    string `json:"source"`
	Theme     string `json:"theme"`
	EditPos   int    `json:"edit_pos"`
	StartLine int    `json:"start_line"`
}

// Decoration annotates [From, To) of the buffer.
type Decoration struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Kind   Kind    `json:"kind"`
	Type   Type    `json:"type"`
	Class  string  `json:"class,omitempty"`
	Target string  `json:"target,omitempty"`
	Widget *Widget `json:"widget,omitempty"`
}

var hidden = &Widget{Kind: WidgetHidden}

func sortDecorations(ds []Decoration) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].From == ds[j].From {
			return ds[i].To < ds[j].To
		}
		return ds[i].From < ds[j].From
	})
}
