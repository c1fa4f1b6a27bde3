package api

import (
	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/noteservice"
	"github.com/starford/draglass/internal/textrange"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld"`
}

// OpenRequest is the request body for opening a note.
type OpenRequest struct {
	Path string `json:"path" example:"notes/hello.md" validate:"required"`
}

// EditRequest replaces the active buffer.
type EditRequest struct {
	Text string `json:"text"`
}

// ToggleTaskRequest flips the checkbox whose state character is at Pos.
type ToggleTaskRequest struct {
	Pos int `json:"pos"`
}

// DecorateRequest asks for the live-preview decorations of the active buffer.
// An empty Visible list decorates the whole buffer.
type DecorateRequest struct {
	Selection buffer.Selection `json:"selection"`
	Visible   []textrange.Span `json:"visible"`
}

// WikilinkRequest follows a wikilink. Either Target holds the link text or
// Offset points into a link in the active buffer.
type WikilinkRequest struct {
	Target  string `json:"target,omitempty" example:"Project Plan|plan"`
	Offset  *int   `json:"offset,omitempty" example:"12"`
	Confirm bool   `json:"confirm"`
}

// ArrowDownRequest carries the selection before a cursor-down motion.
type ArrowDownRequest struct {
	Selection buffer.Selection `json:"selection"`
}

// ArrowDownResponse reports whether the motion entered a diagram block.
type ArrowDownResponse struct {
	Handled bool `json:"handled"`
	Pos     int  `json:"pos"`
}

// AutosaveRequest toggles autosave.
type AutosaveRequest struct {
	Enabled bool `json:"enabled"`
}

// RenderDiagramRequest renders a diagram outside the editor.
type RenderDiagramRequest struct {
	Source string `json:"source" validate:"required"`
	Theme  string `json:"theme" example:"dark"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail
