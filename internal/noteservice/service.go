// Package noteservice runs the editor session: it opens notes, keeps the
// autosave state machine and backlinks in step with the active note, and
// decorates the buffer for live preview.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/autosave"
	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/checksum"
	"github.com/starford/draglass/internal/diagram"
	"github.com/starford/draglass/internal/index"
	"github.com/starford/draglass/internal/livepreview"
	"github.com/starford/draglass/internal/models"
	"github.com/starford/draglass/internal/parser"
	"github.com/starford/draglass/internal/sse"
	"github.com/starford/draglass/internal/storage"
	"github.com/starford/draglass/internal/textrange"
)

// ErrUnsaved is returned when switching notes while the active note cannot
// be flushed.
var ErrUnsaved = errors.New("unsaved changes could not be written")

// DefaultBacklinksDebounce delays the backlinks scan after a note opens.
const DefaultBacklinksDebounce = 250 * time.Millisecond

// openFlushAttempts bounds how often OpenNote re-saves a note that keeps
// receiving edits while it is being switched away from.
const openFlushAttempts = 3

// Publisher receives session events.
type Publisher interface {
	Publish(sse.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event) {}

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string         `json:"path"`
	DisplayName string         `json:"display_name"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Links       []string       `json:"links"`
	Backlinks   []string       `json:"backlinks"`
	ViewID      string         `json:"view_id,omitempty"`
}

// WikilinkResult is the outcome of following a wikilink. NeedsConfirm is set
// when the target does not exist and creation was not confirmed.
type WikilinkResult struct {
	RelPath      string      `json:"rel_path"`
	Created      bool        `json:"created"`
	NeedsConfirm bool        `json:"needs_confirm"`
	Note         *NoteDetail `json:"note,omitempty"`
}

// BacklinksState is the backlinks panel of the active note.
type BacklinksState struct {
	Path  string   `json:"path"`
	Paths []string `json:"paths"`
	Busy  bool     `json:"busy"`
	Error string   `json:"error,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets the event sink, usually the SSE broker.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithPreview sets the live-preview toggles. NoteRelPath is ignored; the
// active note is used.
func WithPreview(o livepreview.Options) Option {
	return func(s *Service) { s.preview = o }
}

// WithAutosave configures the autosave session.
func WithAutosave(enabled bool, debounce time.Duration) Option {
	return func(s *Service) {
		s.autosaveEnabled = enabled
		s.autosaveDebounce = debounce
	}
}

// WithAutosaveScheduler replaces the autosave timer source.
func WithAutosaveScheduler(sched autosave.Scheduler) Option {
	return func(s *Service) { s.autosaveSched = sched }
}

// WithBacklinks configures the debounced backlinks scan.
func WithBacklinks(enabled bool, debounce time.Duration) Option {
	return func(s *Service) {
		s.backlinksEnabled = enabled
		s.backlinksDebounce = debounce
	}
}

// WithDiagrams configures diagram rendering for each view.
func WithDiagrams(cacheSize int, timeout time.Duration) Option {
	return func(s *Service) {
		s.viewCfg.diagramCacheSize = cacheSize
		s.viewCfg.diagramTimeout = timeout
	}
}

// Service coordinates storage, index and the editor session.
type Service struct {
	store  storage.Provider
	db     index.NoteIndex
	logger *slog.Logger
	pub    Publisher

	preview           livepreview.Options
	autosaveEnabled   bool
	autosaveDebounce  time.Duration
	autosaveSched     autosave.Scheduler
	backlinksEnabled  bool
	backlinksDebounce time.Duration
	viewCfg           viewConfig

	autosave *autosave.Session
	adhoc    *diagram.Pipeline

	mu             sync.Mutex
	active         string
	openSeq        uint64
	edits          uint64
	view           *view
	backlinks      BacklinksState
	backlinksSeq   uint64
	backlinksTimer *time.Timer
	closed         bool
}

// NewService creates a new editor service rendering diagrams through r.
func NewService(store storage.Provider, db index.NoteIndex, r diagram.Renderer, opts ...Option) *Service {
	s := &Service{
		store:             store,
		db:                db,
		pub:               nopPublisher{},
		preview:           livepreview.Options{LivePreview: true, RenderImages: true, RenderDiagrams: true},
		autosaveEnabled:   true,
		autosaveDebounce:  autosave.DefaultDebounce,
		backlinksEnabled:  true,
		backlinksDebounce: DefaultBacklinksDebounce,
		viewCfg:           viewConfig{renderer: r, diagramCacheSize: diagram.DefaultCacheSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.preview.Theme == "" {
		s.preview.Theme = livepreview.DefaultTheme
	}

	asOpts := []autosave.Option{
		autosave.WithDebounce(s.autosaveDebounce),
		autosave.WithEnabled(s.autosaveEnabled),
		autosave.WithLogger(s.logger),
		autosave.WithListener(func(snap autosave.Snapshot) {
			s.pub.Publish(sse.Event{Type: sse.TypeAutosaveStatus, Data: snap})
		}),
	}
	if s.autosaveSched != nil {
		asOpts = append(asOpts, autosave.WithScheduler(s.autosaveSched))
	}
	s.autosave = autosave.New(autosave.PersistFunc(s.persist), asOpts...)
	s.adhoc = diagram.NewPipeline(r,
		diagram.WithCache(diagram.NewCache(s.viewCfg.diagramCacheSize)),
		diagram.WithTimeout(s.viewCfg.diagramTimeout),
		diagram.WithLogger(s.logger))
	return s
}

// persist writes a note for the autosave session and refreshes its index row.
func (s *Service) persist(_ context.Context, vaultPath, relPath, contents string) error {
	if vaultPath != s.store.Root() {
		return fmt.Errorf("noteservice: persist: vault %q is not open", vaultPath)
	}
	data := []byte(contents)
	if err := s.store.Write(relPath, data); err != nil {
		return err
	}
	if err := index.IndexNote(s.db, relPath, data); err != nil {
		s.logger.Warn("noteservice: index after save failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	}
	return nil
}

// ListNotes returns every note in the vault sorted by display name.
func (s *Service) ListNotes(_ context.Context) ([]models.NoteEntry, error) {
	return s.store.List("")
}

// GetNote reads a note from storage, parses it, and enriches with backlinks.
// It does not change the active note.
func (s *Service) GetNote(_ context.Context, path string) (*NoteDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	return s.buildNoteDetail(path, data)
}

// CreateNote writes a new note and indexes it.
func (s *Service) CreateNote(_ context.Context, path string, content []byte) (*NoteDetail, error) {
	if parser.IsIgnoredPath(path) {
		return nil, fmt.Errorf("noteservice: create %s: %w", path, apperr.ErrIgnoredPath)
	}
	if err := s.store.Create(path, content); err != nil {
		return nil, err
	}
	if err := index.IndexNote(s.db, path, content); err != nil {
		return nil, err
	}
	s.pub.Publish(sse.Event{Type: sse.TypeNoteCreated, Data: map[string]string{"path": path}})
	return s.buildNoteDetail(path, content)
}

// Search delegates the quick-switcher search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// BacklinksFor returns the notes linking to the note at path.
func (s *Service) BacklinksFor(_ context.Context, path string) ([]string, error) {
	return s.db.Backlinks(parser.FileStem(path))
}

// OpenNote makes path the active note. Unsaved edits of the previous note are
// flushed first and the open is aborted if that fails. When opens overlap
// only the latest one takes effect; earlier ones return apperr.ErrCancelled.
func (s *Service) OpenNote(ctx context.Context, path string) (*NoteDetail, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperr.ErrCancelled
	}
	s.openSeq++
	seq := s.openSeq
	active := s.active
	edits := s.edits
	s.mu.Unlock()

	var data []byte
	for attempt := 1; ; attempt++ {
		if active != "" && s.autosave.Dirty() {
			if !s.autosave.Flush(ctx) {
				return nil, fmt.Errorf("noteservice: open %s: flush %s: %w", path, active, ErrUnsaved)
			}
		}

		var err error
		data, err = s.store.Read(path)
		if err != nil {
			return nil, fmt.Errorf("noteservice: open %s: %w", path, err)
		}

		s.mu.Lock()
		if seq != s.openSeq || s.closed {
			s.mu.Unlock()
			return nil, apperr.ErrCancelled
		}
		// Edits hold s.mu, so none can land between this check and Activate.
		if s.edits == edits {
			break
		}
		edits = s.edits
		s.mu.Unlock()
		if attempt == openFlushAttempts {
			return nil, fmt.Errorf("noteservice: open %s: %s kept changing: %w", path, active, ErrUnsaved)
		}
	}
	old := s.view
	s.active = path
	s.view = newView(path, s.store, s.viewCfg, s.logger, s.pub)
	viewID := s.view.id
	s.resetBacklinksLocked(path)
	s.scheduleBacklinksLocked(path)
	s.autosave.Activate(s.store.Root(), path, string(data))
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	s.logger.Debug("noteservice: opened", slog.String("path", path), slog.String("view", viewID))

	detail, err := s.buildNoteDetail(path, data)
	if err != nil {
		return nil, err
	}
	detail.ViewID = viewID
	return detail, nil
}

// OpenByTitle opens the note whose file stem normalizes to title. It reports
// false when no note matches.
func (s *Service) OpenByTitle(ctx context.Context, title string) (*NoteDetail, bool, error) {
	rel, ok, err := s.findByTitle(title)
	if err != nil || !ok {
		return nil, false, err
	}
	detail, err := s.OpenNote(ctx, rel)
	if err != nil {
		return nil, false, err
	}
	return detail, true, nil
}

// OpenOrCreateWikilink follows a wikilink target. An existing note with a
// matching title is opened. Otherwise the note is created at the path
// derived from the target, but only when confirm is set; without it the
// result asks for confirmation.
func (s *Service) OpenOrCreateWikilink(ctx context.Context, rawTarget string, confirm bool) (*WikilinkResult, error) {
	trimmed := parser.StripWikilinkTarget(rawTarget)
	if trimmed == "" {
		return nil, fmt.Errorf("noteservice: empty wikilink target: %w", apperr.ErrNotFound)
	}

	rel, ok, err := s.findByTitle(trimmed)
	if err != nil {
		return nil, err
	}
	if ok {
		detail, err := s.OpenNote(ctx, rel)
		if err != nil {
			return nil, err
		}
		return &WikilinkResult{RelPath: rel, Note: detail}, nil
	}

	rel, ok = parser.TargetToRelPath(rawTarget)
	if !ok {
		return nil, fmt.Errorf("noteservice: empty wikilink target: %w", apperr.ErrNotFound)
	}
	if parser.IsIgnoredPath(rel) {
		return nil, fmt.Errorf("noteservice: cannot create note in ignored path %s: %w", rel, apperr.ErrIgnoredPath)
	}
	if !confirm {
		return &WikilinkResult{RelPath: rel, NeedsConfirm: true}, nil
	}

	created := true
	if _, err := s.CreateNote(ctx, rel, nil); err != nil {
		if !errors.Is(err, apperr.ErrAlreadyExists) {
			return nil, err
		}
		created = false
	}
	detail, err := s.OpenNote(ctx, rel)
	if err != nil {
		return nil, err
	}
	return &WikilinkResult{RelPath: rel, Created: created, Note: detail}, nil
}

// WikilinkAt returns the raw target of the wikilink under offset in the
// active buffer. Only the line holding offset is searched.
func (s *Service) WikilinkAt(offset int) (string, bool, error) {
	if s.ActivePath() == "" {
		return "", false, apperr.ErrNoActiveNote
	}
	text := s.autosave.Buffer()
	if offset < 0 || offset > len(text) {
		return "", false, nil
	}
	line := buffer.New(text).LineAt(offset)
	m, ok := parser.ExtractWikilinkAt(line.Text, offset-line.From)
	return m.Raw, ok, nil
}

// OpenWikilinkAt follows the wikilink under offset in the active buffer.
func (s *Service) OpenWikilinkAt(ctx context.Context, offset int, confirm bool) (*WikilinkResult, error) {
	raw, ok, err := s.WikilinkAt(offset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("noteservice: no wikilink at %d: %w", offset, apperr.ErrNotFound)
	}
	return s.OpenOrCreateWikilink(ctx, raw, confirm)
}

// EnterDiagramBelow handles the cursor moving down onto a rendered diagram
// block. It returns the position inside the block to move to, or false when
// the default motion applies.
func (s *Service) EnterDiagramBelow(sel buffer.Selection) (int, bool, error) {
	if s.ActivePath() == "" {
		return 0, false, apperr.ErrNoActiveNote
	}
	if !s.preview.LivePreview || !s.preview.RenderDiagrams {
		return 0, false, nil
	}
	pos, ok := livepreview.EnterFromAbove(buffer.New(s.autosave.Buffer()), sel)
	return pos, ok, nil
}

func (s *Service) findByTitle(title string) (string, bool, error) {
	want := parser.NormalizeWikiTarget(title)
	if want == "" {
		return "", false, nil
	}
	entries, err := s.store.List("")
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if parser.NormalizeWikiTarget(e.DisplayName) == want {
			return e.Path, true, nil
		}
	}
	return "", false, nil
}

// ActivePath returns the active note path, or "" when none is open.
func (s *Service) ActivePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Edit replaces the active buffer.
func (s *Service) Edit(text string) (autosave.Snapshot, error) {
	s.mu.Lock()
	if s.active == "" {
		s.mu.Unlock()
		return autosave.Snapshot{}, apperr.ErrNoActiveNote
	}
	s.edits++
	s.autosave.Edit(text)
	s.mu.Unlock()
	return s.autosave.Snapshot(), nil
}

// ToggleTask flips the task checkbox at pos in the active buffer.
func (s *Service) ToggleTask(pos int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return "", apperr.ErrNoActiveNote
	}
	doc, err := livepreview.ToggleTask(buffer.New(s.autosave.Buffer()), pos)
	if err != nil {
		return "", err
	}
	s.edits++
	s.autosave.Edit(doc.String())
	return doc.String(), nil
}

// Flush saves pending edits now and reports whether the buffer is clean.
func (s *Service) Flush(ctx context.Context) bool {
	return s.autosave.Flush(ctx)
}

// Status returns the autosave state of the active note.
func (s *Service) Status() autosave.Snapshot {
	return s.autosave.Snapshot()
}

// SetAutosaveEnabled toggles autosave at runtime.
func (s *Service) SetAutosaveEnabled(enabled bool) {
	s.autosave.SetEnabled(enabled)
}

// Backlinks returns the backlinks panel state.
func (s *Service) Backlinks() BacklinksState {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.backlinks
	b.Paths = append([]string{}, b.Paths...)
	return b
}

func (s *Service) resetBacklinksLocked(path string) {
	if s.backlinksTimer != nil {
		s.backlinksTimer.Stop()
		s.backlinksTimer = nil
	}
	s.backlinksSeq++
	s.backlinks = BacklinksState{Path: path}
}

// scheduleBacklinksLocked debounces the backlinks query so quick note
// switching does not rescan for every intermediate note.
func (s *Service) scheduleBacklinksLocked(path string) {
	if !s.backlinksEnabled {
		return
	}
	title := parser.NormalizeWikiTarget(parser.FileStem(path))
	s.backlinksTimer = time.AfterFunc(s.backlinksDebounce, func() {
		s.refreshBacklinks(path, title)
	})
}

func (s *Service) refreshBacklinks(path, title string) {
	s.mu.Lock()
	if s.active != path {
		s.mu.Unlock()
		return
	}
	s.backlinksTimer = nil
	s.backlinksSeq++
	seq := s.backlinksSeq
	s.backlinks.Busy = true
	s.mu.Unlock()

	paths, err := s.db.Backlinks(title)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.backlinksSeq {
		return
	}
	s.backlinks.Busy = false
	if err != nil {
		s.backlinks.Paths = nil
		s.backlinks.Error = err.Error()
		s.logger.Warn("noteservice: backlinks failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	s.backlinks.Paths = paths
	s.backlinks.Error = ""
	s.pub.Publish(sse.Event{Type: sse.TypeBacklinksChanged, Data: map[string]any{"path": path, "paths": paths}})
}

// RefreshBacklinks reschedules the backlinks scan of the active note.
func (s *Service) RefreshBacklinks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return
	}
	if s.backlinksTimer != nil {
		s.backlinksTimer.Stop()
	}
	s.scheduleBacklinksLocked(s.active)
}

// Decorate builds the live-preview decorations of the active buffer for
// selection sel over the visible spans, then loads the images and schedules
// the diagrams they reference. An empty visible list means the whole buffer.
func (s *Service) Decorate(ctx context.Context, sel buffer.Selection, visible []textrange.Span) (*Preview, error) {
	s.mu.Lock()
	path, v := s.active, s.view
	s.mu.Unlock()
	if path == "" || v == nil {
		return nil, apperr.ErrNoActiveNote
	}

	doc := buffer.New(s.autosave.Buffer())
	if len(visible) == 0 {
		visible = []textrange.Span{{From: 0, To: doc.Len()}}
	}
	opts := s.preview
	opts.NoteRelPath = path
	decos := livepreview.Build(doc, sel, visible, opts)

	images, diagrams := v.resolve(ctx, s.store.Root(), decos)
	if decos == nil {
		decos = []livepreview.Decoration{}
	}
	return &Preview{
		ViewID:      v.id,
		Path:        path,
		Decorations: decos,
		Images:      images,
		Diagrams:    diagrams,
	}, nil
}

// RenderDiagram renders source outside any view and waits for the result.
func (s *Service) RenderDiagram(ctx context.Context, source, theme string) (diagram.Result, error) {
	if theme == "" {
		theme = s.preview.Theme
	}
	id := "adhoc:" + uuid.NewString()
	defer s.adhoc.Forget(id)
	return s.adhoc.Request(id, source, theme).Wait(ctx)
}

// HandleVaultEvent reacts to watcher events: changed assets invalidate the
// active view's images and note changes reschedule the backlinks scan.
func (s *Service) HandleVaultEvent(kind, path string) {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()

	switch kind {
	case index.KindAsset:
		if v != nil && v.invalidate(path) > 0 {
			s.logger.Debug("noteservice: image invalidated", slog.String("path", path))
		}
	case index.KindCreated, index.KindUpdated, index.KindDeleted:
		s.RefreshBacklinks()
	}
}

// Close flushes pending edits and releases the active view.
func (s *Service) Close(ctx context.Context) {
	if !s.autosave.Flush(ctx) {
		s.logger.Warn("noteservice: unsaved changes on close")
	}
	s.mu.Lock()
	s.closed = true
	v := s.view
	s.view = nil
	s.resetBacklinksLocked("")
	s.mu.Unlock()

	s.autosave.Close()
	if v != nil {
		v.close()
	}
	s.adhoc.Close()
}

// buildNoteDetail constructs a NoteDetail from raw data without re-reading the file.
func (s *Service) buildNoteDetail(path string, data []byte) (*NoteDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	bl, err := s.db.Backlinks(parser.FileStem(path))
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:        path,
		DisplayName: parser.FileStem(path),
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Frontmatter: res.Frontmatter,
		Links:       nonNilSlice(res.Links),
		Backlinks:   nonNilSlice(bl),
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ReadAsset returns a vault file for the asset endpoint.
func (s *Service) ReadAsset(_ context.Context, path string) (storage.Asset, error) {
	if parser.IsIgnoredPath(path) {
		return storage.Asset{}, fmt.Errorf("noteservice: asset %s: %w", path, apperr.ErrIgnoredPath)
	}
	return s.store.ReadAsset(path)
}
