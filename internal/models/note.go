// Package models defines the domain types shared by storage, index and the
// transport layers.
package models

import "time"

// Note is a parsed Markdown file in the vault.
type Note struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Title       string         `json:"title,omitempty"`
	// Links holds normalized wikilink targets.
	Links     []string  `json:"links,omitempty"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteEntry is a note as returned by list operations.
type NoteEntry struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Link is a directed wikilink edge from a note to a normalized target.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
