package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualTimer struct {
	m       *manualScheduler
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{m: m, f: f}
	m.timers = append(m.timers, t)
	return t
}

// armed returns the timers that have neither fired nor been stopped.
func (m *manualScheduler) armed() []*manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*manualTimer
	for _, t := range m.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs every armed timer synchronously.
func (m *manualScheduler) fire() int {
	ts := m.armed()
	for _, t := range ts {
		m.mu.Lock()
		t.stopped = true
		m.mu.Unlock()
		t.f()
	}
	return len(ts)
}

type recorder struct {
	mu    sync.Mutex
	saves []string
	err   error
	gate  chan struct{}
	start chan struct{}
}

func (r *recorder) Persist(_ context.Context, _, _, contents string) error {
	if r.start != nil {
		r.start <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saves = append(r.saves, contents)
	return nil
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saves...)
}

func newSession(t *testing.T, r *recorder, opts ...Option) (*Session, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	s := New(r, append([]Option{WithScheduler(sched)}, opts...)...)
	s.Activate("/vault", "note.md", "start")
	return s, sched
}

func TestRapidEditsCoalesceIntoOneSave(t *testing.T) {
	r := &recorder{}
	s, sched := newSession(t, r)

	s.Edit("start a")
	s.Edit("start ab")
	s.Edit("start abc")

	if st := s.Snapshot().Status; st != StatusSaving {
		t.Errorf("status = %s, want saving", st)
	}
	if n := len(sched.armed()); n != 1 {
		t.Fatalf("armed timers = %d, want 1", n)
	}
	sched.fire()

	saves := r.got()
	if len(saves) != 1 || saves[0] != "start abc" {
		t.Errorf("saves = %q, want [start abc]", saves)
	}
	snap := s.Snapshot()
	if snap.Status != StatusSaved || snap.Dirty {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEditBackToSavedClearsTimer(t *testing.T) {
	r := &recorder{}
	s, sched := newSession(t, r)

	s.Edit("changed")
	s.Edit("start")

	if n := len(sched.armed()); n != 0 {
		t.Errorf("armed timers = %d, want 0", n)
	}
	if st := s.Snapshot().Status; st != StatusSaved {
		t.Errorf("status = %s, want saved", st)
	}
}

func TestEditDuringSaveSchedulesOneFollowUp(t *testing.T) {
	r := &recorder{gate: make(chan struct{}), start: make(chan struct{}, 4)}
	s, sched := newSession(t, r)

	s.Edit("first")
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.fire()
	}()
	<-r.start

	s.Edit("second")
	close(r.gate)
	<-done

	if got := r.got(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("saves = %q, want [first]", got)
	}
	if st := s.Snapshot().Status; st != StatusSaving {
		t.Errorf("status = %s, want saving while dirty", st)
	}
	if n := len(sched.armed()); n != 1 {
		t.Fatalf("armed timers = %d, want 1 follow-up", n)
	}

	r.start = nil
	sched.fire()
	if got := r.got(); len(got) != 2 || got[1] != "second" {
		t.Errorf("saves = %q, want [first second]", got)
	}
	if st := s.Snapshot().Status; st != StatusSaved {
		t.Errorf("status = %s, want saved", st)
	}
}

func TestFlushWithoutEditsDoesNotPersist(t *testing.T) {
	r := &recorder{}
	s, _ := newSession(t, r)

	if !s.Flush(context.Background()) {
		t.Error("Flush = false, want true")
	}
	if got := r.got(); len(got) != 0 {
		t.Errorf("saves = %q, want none", got)
	}
}

func TestFlushSavesPendingEdit(t *testing.T) {
	r := &recorder{}
	s, sched := newSession(t, r)

	s.Edit("pending")
	if !s.Flush(context.Background()) {
		t.Fatal("Flush = false, want true")
	}
	if got := r.got(); len(got) != 1 || got[0] != "pending" {
		t.Errorf("saves = %q", got)
	}
	if n := len(sched.armed()); n != 0 {
		t.Errorf("armed timers = %d, want 0", n)
	}
	if s.Dirty() {
		t.Error("still dirty after Flush")
	}
}

func TestFailureSetsErrorAndRetries(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Snapshot
	)
	r := &recorder{}
	r.setErr(errors.New("disk full"))
	s, sched := newSession(t, r, WithListener(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, snap)
	}))

	s.Edit("text")
	sched.fire()

	snap := s.Snapshot()
	if snap.Status != StatusError || snap.Error != "disk full" || !snap.Dirty {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Title != "Error saving" {
		t.Errorf("title = %q", snap.Title)
	}

	if s.Flush(context.Background()) {
		t.Error("Flush should fail while persist fails")
	}

	r.setErr(nil)
	s.Edit("text 2")
	sched.fire()
	if got := r.got(); len(got) != 1 || got[0] != "text 2" {
		t.Errorf("saves = %q", got)
	}
	if st := s.Snapshot().Status; st != StatusSaved {
		t.Errorf("status = %s, want saved", st)
	}

	mu.Lock()
	defer mu.Unlock()
	var seenError bool
	for _, ev := range events {
		if ev.Status == StatusError {
			seenError = true
		}
	}
	if !seenError {
		t.Errorf("listener never saw error status: %+v", events)
	}
	if last := events[len(events)-1]; last.Status != StatusSaved {
		t.Errorf("last event = %+v, want saved", last)
	}
}

func TestStaleCompletionIgnoredAfterActivate(t *testing.T) {
	r := &recorder{gate: make(chan struct{}), start: make(chan struct{}, 1)}
	r.setErr(errors.New("boom"))
	s, sched := newSession(t, r)

	s.Edit("old note edit")
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.fire()
	}()
	<-r.start

	s.Activate("/vault", "other.md", "other")
	close(r.gate)
	<-done

	snap := s.Snapshot()
	if snap.RelPath != "other.md" || snap.Status != StatusSaved || snap.Dirty {
		t.Errorf("snapshot = %+v, stale failure leaked into new note", snap)
	}
}

func TestDisableCancelsTimer(t *testing.T) {
	r := &recorder{}
	s, sched := newSession(t, r)

	s.Edit("typed")
	s.SetEnabled(false)
	if n := len(sched.armed()); n != 0 {
		t.Errorf("armed timers = %d, want 0", n)
	}
	if st := s.Snapshot().Status; st != StatusSaved {
		t.Errorf("status = %s, want saved", st)
	}

	s.Edit("typed more")
	if n := len(sched.armed()); n != 0 {
		t.Errorf("edits while disabled armed %d timers", n)
	}
	if !s.Flush(context.Background()) || len(r.got()) != 0 {
		t.Error("Flush while disabled should be a no-op")
	}

	s.SetEnabled(true)
	sched.fire()
	if got := r.got(); len(got) != 1 || got[0] != "typed more" {
		t.Errorf("saves = %q", got)
	}
}

func TestRealSchedulerFires(t *testing.T) {
	saved := make(chan string, 1)
	s := New(PersistFunc(func(_ context.Context, _, _, contents string) error {
		saved <- contents
		return nil
	}), WithDebounce(time.Millisecond))
	s.Activate("/vault", "n.md", "")
	s.Edit("hello")

	select {
	case got := <-saved:
		if got != "hello" {
			t.Errorf("saved %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced save never ran")
	}
}
