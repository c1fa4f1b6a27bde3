// Package storage defines the vault file-system abstraction.
package storage

import (
	"time"

	"github.com/starford/draglass/internal/models"
)

// Asset is a binary vault file with its detected MIME type.
type Asset struct {
	Bytes   []byte
	MIME    string
	ModTime time.Time
}

// Provider is the interface for vault file operations. Paths are
// slash-separated and relative to the vault root.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// List returns every Markdown note under dir, sorted by display name.
	// Hidden folders and node_modules are skipped.
	List(dir string) ([]models.NoteEntry, error)
	// Read returns the raw bytes of a note. Missing notes yield apperr.ErrNotFound.
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of a note.
	Write(path string, content []byte) error
	// Create writes a new note and fails with apperr.ErrAlreadyExists when
	// something already exists at path.
	Create(path string, content []byte) error
	// CreateAsset writes a new non-Markdown file with the same
	// already-exists semantics as Create.
	CreateAsset(path string, content []byte) error
	// ReadAsset returns a vault file of any type. Missing files yield
	// apperr.ErrNotFound.
	ReadAsset(path string) (Asset, error)
}
