package index

import (
	"log/slog"
	"time"

	"github.com/starford/draglass/internal/checksum"
	"github.com/starford/draglass/internal/parser"
	"github.com/starford/draglass/internal/storage"
)

// Sync walks the vault and brings the index up to date:
//   - new/changed notes are parsed and upserted
//   - notes removed from disk are deleted from the index
func Sync(db NoteIndex, store storage.Provider, logger *slog.Logger) error {
	entries, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		disk[e.Path] = struct{}{}

		if checksums[e.Path] == e.Checksum {
			continue
		}

		data, err := store.Read(e.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", e.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, e.Path, data, e.UpdatedAt); err != nil {
			logger.Warn("sync: index failed", slog.String("path", e.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", e.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexNote parses data and upserts it. It is used after the editor persists
// a note so backlinks reflect the save without waiting for the watcher.
func IndexNote(db NoteIndex, path string, data []byte) error {
	return indexFile(db, path, data, time.Now())
}

// indexFile parses data and upserts it into the DB.
func indexFile(db NoteIndex, path string, data []byte, updated time.Time) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	row := NoteRow{
		Path:      path,
		Name:      parser.FileStem(path),
		Title:     res.Title,
		Checksum:  checksum.Sum(data),
		UpdatedAt: updated,
	}
	return db.UpsertNote(row, res.Body, res.Links)
}
