// Package autosave implements the debounced save state machine for the note
// being edited.
//
// A Session tracks one note at a time. Edits arm a debounce timer; when it
// fires the current buffer is persisted. At most one persist runs per session
// and callers asking for a save while one is running join it. Completions that
// belong to a previous note (or a previous enable state) are ignored.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the delay between the last edit and the save.
const DefaultDebounce = 750 * time.Millisecond

// maxFlushAttempts bounds how many saves Flush runs while edits keep landing.
const maxFlushAttempts = 5

// Status is the save indicator state.
type Status string

// Statuses.
const (
	StatusSaved  Status = "saved"
	StatusSaving Status = "saving"
	StatusError  Status = "error"
)

// Title returns the human-readable label for s.
func (s Status) Title() string {
	switch s {
	case StatusSaving:
		return "Saving…"
	case StatusError:
		return "Error saving"
	default:
		return "Saved"
	}
}

// Persister writes note contents to the vault.
type Persister interface {
	Persist(ctx context.Context, vaultPath, relPath, contents string) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, vaultPath, relPath, contents string) error

// Persist calls f.
func (f PersistFunc) Persist(ctx context.Context, vaultPath, relPath, contents string) error {
	return f(ctx, vaultPath, relPath, contents)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler arms timers. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	VaultPath string `json:"vault_path"`
	RelPath   string `json:"rel_path"`
	Status    Status `json:"status"`
	Title     string `json:"title"`
	Dirty     bool   `json:"dirty"`
	Error     string `json:"error,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce sets the debounce delay. Negative values are treated as zero.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		s.debounce = max(d, 0)
	}
}

// WithScheduler replaces the timer source.
func WithScheduler(sched Scheduler) Option {
	return func(s *Session) {
		s.sched = sched
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithListener registers a callback for status changes. It runs outside the
// session lock.
func WithListener(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.listener = fn
	}
}

// WithEnabled sets the initial enabled state (default true).
func WithEnabled(enabled bool) Option {
	return func(s *Session) {
		s.enabled = enabled
	}
}

type flight struct {
	done chan struct{}
	ok   bool
}

// Session is the autosave state for the active note.
type Session struct {
	persist  Persister
	sched    Scheduler
	debounce time.Duration
	logger   *slog.Logger
	listener func(Snapshot)

	mu       sync.Mutex
	enabled  bool
	vault    string
	path     string
	buffer   string
	saved    string
	status   Status
	errMsg   string
	epoch    uint64
	timer    Timer
	inflight *flight
	pending  []Snapshot
}

// New creates a Session persisting through p.
func New(p Persister, opts ...Option) *Session {
	s := &Session{
		persist:  p,
		sched:    realScheduler{},
		debounce: DefaultDebounce,
		enabled:  true,
		status:   StatusSaved,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Activate switches the session to a note whose on-disk contents are text.
// Any pending timer is dropped and the status resets to saved.
func (s *Session) Activate(vaultPath, relPath, text string) {
	s.mu.Lock()
	defer s.unlock()

	s.stopTimerLocked()
	s.epoch++
	s.inflight = nil
	s.vault, s.path = vaultPath, relPath
	s.buffer, s.saved = text, text
	s.errMsg = ""
	s.status = ""
	s.setStatusLocked(StatusSaved, "")
}

// SetEnabled toggles autosave. Disabling drops the pending timer and resets
// the status; enabling arms a save when the buffer is dirty.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.unlock()

	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	s.stopTimerLocked()
	s.epoch++
	s.inflight = nil
	s.setStatusLocked(StatusSaved, "")
	if enabled && s.activeLocked() && s.dirtyLocked() {
		s.armLocked()
		s.setStatusLocked(StatusSaving, "")
	}
}

// Edit records the new buffer contents.
func (s *Session) Edit(text string) {
	s.mu.Lock()
	defer s.unlock()

	s.buffer = text
	if !s.enabled || !s.activeLocked() {
		return
	}
	if !s.dirtyLocked() {
		s.stopTimerLocked()
		if s.inflight == nil {
			s.setStatusLocked(StatusSaved, "")
		}
		return
	}
	s.stopTimerLocked()
	s.armLocked()
	s.setStatusLocked(StatusSaving, "")
}

// Flush cancels the debounce timer and saves until the buffer is clean,
// giving up after a bounded number of attempts. It reports whether the
// buffer is clean afterwards.
func (s *Session) Flush(ctx context.Context) bool {
	s.mu.Lock()
	s.stopTimerLocked()
	epoch := s.epoch
	if !s.enabled || !s.activeLocked() {
		s.unlock()
		return true
	}
	if !s.dirtyLocked() {
		s.setStatusLocked(StatusSaved, "")
		s.unlock()
		return true
	}
	s.unlock()

	for range maxFlushAttempts {
		if !s.Dirty() {
			return true
		}
		if !s.saveNow(ctx, epoch) {
			return false
		}
		s.mu.Lock()
		s.stopTimerLocked()
		s.mu.Unlock()
	}
	return !s.Dirty()
}

// Dirty reports whether the buffer differs from the last saved contents.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

// Buffer returns the current buffer contents.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close drops the pending timer. In-flight saves finish but no longer
// affect the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.epoch++
	s.inflight = nil
}

// saveNow persists the buffer unless epoch is stale. A caller arriving while
// a save is in flight waits for it and returns its result.
func (s *Session) saveNow(ctx context.Context, epoch uint64) bool {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return true
	}
	if f := s.inflight; f != nil {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.ok
		case <-ctx.Done():
			return false
		}
	}
	if !s.enabled || !s.activeLocked() {
		s.mu.Unlock()
		return true
	}
	if !s.dirtyLocked() {
		s.setStatusLocked(StatusSaved, "")
		s.unlock()
		return true
	}

	f := &flight{done: make(chan struct{})}
	s.inflight = f
	vault, path, contents := s.vault, s.path, s.buffer
	s.setStatusLocked(StatusSaving, "")
	s.unlock()

	err := s.persist.Persist(ctx, vault, path, contents)

	s.mu.Lock()
	if s.inflight == f {
		s.inflight = nil
	}
	current := epoch == s.epoch
	if err != nil {
		if current {
			s.setStatusLocked(StatusError, err.Error())
		}
		f.ok = false
		close(f.done)
		s.unlock()
		s.logger.Error("autosave failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return false
	}

	if current {
		s.saved = contents
		if s.dirtyLocked() {
			// Edits landed while saving.
			s.setStatusLocked(StatusSaving, "")
			s.stopTimerLocked()
			s.armLocked()
		} else {
			s.setStatusLocked(StatusSaved, "")
		}
	}
	f.ok = true
	close(f.done)
	s.unlock()
	return true
}

func (s *Session) armLocked() {
	epoch := s.epoch
	var t Timer
	t = s.sched.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		s.saveNow(context.Background(), epoch)
	})
	s.timer = t
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) activeLocked() bool {
	return s.vault != "" && s.path != ""
}

func (s *Session) dirtyLocked() bool {
	return s.buffer != s.saved
}

func (s *Session) setStatusLocked(status Status, errMsg string) {
	if s.status == status && s.errMsg == errMsg {
		return
	}
	s.status = status
	s.errMsg = errMsg
	if s.listener != nil {
		s.pending = append(s.pending, s.snapshotLocked())
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		VaultPath: s.vault,
		RelPath:   s.path,
		Status:    s.status,
		Title:     s.status.Title(),
		Dirty:     s.dirtyLocked(),
		Error:     s.errMsg,
	}
}

// unlock releases the mutex and delivers queued status changes.
func (s *Session) unlock() {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ev := range events {
		s.listener(ev)
	}
}
