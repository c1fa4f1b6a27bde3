package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/checksum"
	"github.com/starford/draglass/internal/models"
	"github.com/starford/draglass/internal/parser"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// absolute paths, parent segments and anything escaping the root.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	slashed := strings.ReplaceAll(rel, `\`, "/")
	if filepath.IsAbs(rel) || strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("storage: absolute path %q: %w", rel, apperr.ErrEscapesVault)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("storage: parent segment in %q: %w", rel, apperr.ErrEscapesVault)
		}
	}
	abs := filepath.Join(f.root, filepath.FromSlash(slashed))
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: %q: %w", rel, apperr.ErrEscapesVault)
	}
	return abs, nil
}

func (f *FS) notePath(rel string) (string, error) {
	if !parser.IsMarkdownPath(rel) {
		return "", fmt.Errorf("storage: %q is not a markdown file: %w", rel, apperr.ErrInvalidPath)
	}
	abs, err := f.safePath(rel)
	if err != nil {
		return "", err
	}
	if abs == f.root {
		return "", fmt.Errorf("storage: empty note path: %w", apperr.ErrInvalidPath)
	}
	return abs, nil
}

// List walks dir (relative to root) and returns every Markdown note sorted
// case-insensitively by display name.
func (f *FS) List(dir string) ([]models.NoteEntry, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.NoteEntry
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relOS, _ := filepath.Rel(f.root, p)
		rel := filepath.ToSlash(relOS)
		if d.IsDir() {
			if p != base && parser.IsIgnoredPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.IsMarkdownPath(rel) || parser.IsIgnoredPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, models.NoteEntry{
			Path:        rel,
			DisplayName: parser.FileStem(rel),
			Checksum:    checksum.Sum(data),
			UpdatedAt:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out, nil
}

// Read returns the raw bytes of a note.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.notePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, notFound(err))
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.notePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".draglass-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Create writes a new note, creating parent folders as needed.
func (f *FS) Create(path string, content []byte) error {
	abs, err := f.notePath(path)
	if err != nil {
		return err
	}
	return createExclusive(abs, path, content)
}

// CreateAsset writes a new non-note file such as an imported image.
func (f *FS) CreateAsset(path string, content []byte) error {
	if parser.IsMarkdownPath(path) {
		return fmt.Errorf("storage: %q is a note, not an asset: %w", path, apperr.ErrInvalidPath)
	}
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: empty asset path: %w", apperr.ErrInvalidPath)
	}
	return createExclusive(abs, path, content)
}

func createExclusive(abs, path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	file, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("storage: create %s: %w", path, apperr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("storage: create %s: %w", path, err)
	}
	return nil
}

// ReadAsset returns the bytes, MIME type and modification time of a file.
func (f *FS) ReadAsset(path string) (Asset, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return Asset{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Asset{}, fmt.Errorf("storage: stat asset %s: %w", path, notFound(err))
	}
	if !info.Mode().IsRegular() {
		return Asset{}, fmt.Errorf("storage: asset %s is not a file: %w", path, apperr.ErrNotFound)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Asset{}, fmt.Errorf("storage: read asset %s: %w", path, notFound(err))
	}
	return Asset{Bytes: data, MIME: MIMEType(path), ModTime: info.ModTime()}, nil
}

// MIMEType maps an image file extension to its MIME type.
func MIMEType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	case "avif":
		return "image/avif"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.ErrNotFound
	}
	return err
}
