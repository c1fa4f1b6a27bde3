package noteservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/autosave"
	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/diagram"
	"github.com/starford/draglass/internal/index"
	"github.com/starford/draglass/internal/sse"
	"github.com/starford/draglass/internal/storage"
	"github.com/starford/draglass/internal/testutil"
)

const okSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 1 1"><g></g></svg>`

type recordingPublisher struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *recordingPublisher) Publish(ev sse.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type countingRenderer struct {
	calls atomic.Int32
}

func (r *countingRenderer) Render(_ context.Context, source, _ string) (string, error) {
	r.calls.Add(1)
	if strings.Contains(source, "broken") {
		return "", errors.New("Parse error on line 1")
	}
	return okSVG, nil
}

type env struct {
	svc   *Service
	vault string
	db    index.NoteIndex
	pub   *recordingPublisher
	r     *countingRenderer
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	vault, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	e := &env{vault: vault, db: db, pub: &recordingPublisher{}, r: &countingRenderer{}}
	base := []Option{
		WithPublisher(e.pub),
		WithAutosave(true, time.Hour),
		WithBacklinks(false, 0),
	}
	e.svc = NewService(store, db, e.r, append(base, opts...)...)
	t.Cleanup(func() { e.svc.Close(context.Background()) })
	return e
}

func (e *env) write(t *testing.T, rel, content string) {
	t.Helper()
	testutil.WriteFile(t, e.vault, e.db, rel, content)
}

func (e *env) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.vault, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestOpenNote_FlushesPrevious(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "alpha")
	e.write(t, "b.md", "beta")

	first, err := e.svc.OpenNote(context.Background(), "a.md")
	if err != nil {
		t.Fatalf("OpenNote: %v", err)
	}
	if _, err := e.svc.Edit("alpha edited"); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	second, err := e.svc.OpenNote(context.Background(), "b.md")
	if err != nil {
		t.Fatalf("OpenNote b: %v", err)
	}
	if got := e.read(t, "a.md"); got != "alpha edited" {
		t.Errorf("a.md = %q, pending edit was not flushed", got)
	}
	if first.ViewID == second.ViewID {
		t.Error("each open should get a fresh view")
	}
	if e.svc.ActivePath() != "b.md" || e.svc.Status().Dirty {
		t.Errorf("active = %q, status = %+v", e.svc.ActivePath(), e.svc.Status())
	}
}

func TestOpenNote_FlushFailureAborts(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "alpha")
	e.write(t, "b.md", "beta")

	if _, err := e.svc.OpenNote(context.Background(), "a.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Edit("unsaved"); err != nil {
		t.Fatal(err)
	}
	// A non-empty directory in place of the note makes the atomic rename fail.
	abs := filepath.Join(e.vault, "a.md")
	if err := os.Remove(abs); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := e.svc.OpenNote(context.Background(), "b.md")
	if !errors.Is(err, ErrUnsaved) {
		t.Fatalf("err = %v, want ErrUnsaved", err)
	}
	if e.svc.ActivePath() != "a.md" {
		t.Errorf("active = %q, should stay on a.md", e.svc.ActivePath())
	}
	if st := e.svc.Status(); st.Status != autosave.StatusError || !st.Dirty {
		t.Errorf("status = %+v", st)
	}
	if e.pub.count(sse.TypeAutosaveStatus) == 0 {
		t.Error("autosave status never published")
	}
}

// readHookStore runs onRead before every note read.
type readHookStore struct {
	storage.Provider
	onRead func(path string)
}

func (h *readHookStore) Read(path string) ([]byte, error) {
	if h.onRead != nil {
		h.onRead(path)
	}
	return h.Provider.Read(path)
}

func TestOpenNote_SavesEditDuringSwitch(t *testing.T) {
	vault, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	hs := &readHookStore{Provider: store}
	svc := NewService(hs, db, &countingRenderer{},
		WithAutosave(true, time.Hour),
		WithBacklinks(false, 0))
	t.Cleanup(func() { svc.Close(context.Background()) })

	testutil.WriteFile(t, vault, db, "a.md", "alpha")
	testutil.WriteFile(t, vault, db, "b.md", "beta")
	ctx := context.Background()
	if _, err := svc.OpenNote(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Edit("first"); err != nil {
		t.Fatal(err)
	}

	// An edit for a.md lands after its flush but before b.md becomes active.
	var once sync.Once
	hs.onRead = func(path string) {
		if path != "b.md" {
			return
		}
		once.Do(func() {
			if _, err := svc.Edit("late"); err != nil {
				t.Errorf("late edit: %v", err)
			}
		})
	}

	if _, err := svc.OpenNote(ctx, "b.md"); err != nil {
		t.Fatalf("OpenNote: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(vault, "a.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "late" {
		t.Errorf("a.md on disk = %q, want the late edit", data)
	}
	if svc.ActivePath() != "b.md" || svc.autosave.Buffer() != "beta" {
		t.Errorf("active = %q, buffer = %q", svc.ActivePath(), svc.autosave.Buffer())
	}
}

func TestOpenNote_AutosaveDisabledStillSwitches(t *testing.T) {
	e := newEnv(t, WithAutosave(false, time.Hour))
	e.write(t, "a.md", "alpha")
	e.write(t, "b.md", "beta")
	ctx := context.Background()
	if _, err := e.svc.OpenNote(ctx, "a.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Edit("draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.OpenNote(ctx, "b.md"); err != nil {
		t.Fatalf("OpenNote: %v", err)
	}
	if e.svc.ActivePath() != "b.md" {
		t.Errorf("active = %q", e.svc.ActivePath())
	}
}

func TestOpenNote_Missing(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.OpenNote(context.Background(), "ghost.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if e.svc.ActivePath() != "" {
		t.Error("failed open should not change the active note")
	}
}

func TestEdit_NoActiveNote(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.Edit("x"); !errors.Is(err, apperr.ErrNoActiveNote) {
		t.Errorf("Edit err = %v", err)
	}
	if _, err := e.svc.ToggleTask(3); !errors.Is(err, apperr.ErrNoActiveNote) {
		t.Errorf("ToggleTask err = %v", err)
	}
	if _, err := e.svc.Decorate(context.Background(), buffer.Cursor(0), nil); !errors.Is(err, apperr.ErrNoActiveNote) {
		t.Errorf("Decorate err = %v", err)
	}
}

func TestEdit_DebouncedSavePersistsAndIndexes(t *testing.T) {
	e := newEnv(t, WithAutosave(true, time.Millisecond))
	e.write(t, "a.md", "alpha")
	if _, err := e.svc.OpenNote(context.Background(), "a.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Edit("links to [[Target]]"); err != nil {
		t.Fatal(err)
	}

	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return e.svc.Status().Status == autosave.StatusSaved && !e.svc.Status().Dirty
	}, "debounced save never completed")

	if got := e.read(t, "a.md"); got != "links to [[Target]]" {
		t.Errorf("a.md = %q", got)
	}
	bl, err := e.db.Backlinks("target")
	if err != nil || len(bl) != 1 || bl[0] != "a.md" {
		t.Errorf("index backlinks = %v, %v", bl, err)
	}
}

func TestOpenOrCreateWikilink(t *testing.T) {
	e := newEnv(t)
	e.write(t, "notes/Project Plan.md", "plan")
	ctx := context.Background()

	res, err := e.svc.OpenOrCreateWikilink(ctx, "project plan.md|the plan", false)
	if err != nil {
		t.Fatalf("existing: %v", err)
	}
	if res.RelPath != "notes/Project Plan.md" || res.Created || res.Note == nil {
		t.Errorf("existing = %+v", res)
	}

	res, err = e.svc.OpenOrCreateWikilink(ctx, "Fresh Idea", false)
	if err != nil {
		t.Fatalf("unconfirmed: %v", err)
	}
	if !res.NeedsConfirm || res.RelPath != "Fresh Idea.md" || res.Note != nil {
		t.Errorf("unconfirmed = %+v", res)
	}
	if e.svc.ActivePath() != "notes/Project Plan.md" {
		t.Errorf("unconfirmed follow changed the active note to %q", e.svc.ActivePath())
	}

	res, err = e.svc.OpenOrCreateWikilink(ctx, "Fresh Idea", true)
	if err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	if !res.Created || e.svc.ActivePath() != "Fresh Idea.md" {
		t.Errorf("confirmed = %+v, active = %q", res, e.svc.ActivePath())
	}
	if e.pub.count(sse.TypeNoteCreated) != 1 {
		t.Error("note.created not published")
	}

	if _, err := e.svc.OpenOrCreateWikilink(ctx, ".obsidian/config", true); !errors.Is(err, apperr.ErrIgnoredPath) {
		t.Errorf("ignored err = %v", err)
	}
	if _, err := e.svc.OpenOrCreateWikilink(ctx, " |alias", true); err == nil {
		t.Error("empty target should fail")
	}
}

func TestToggleTask(t *testing.T) {
	e := newEnv(t)
	e.write(t, "t.md", "- [ ] one\n- [x] two")
	if _, err := e.svc.OpenNote(context.Background(), "t.md"); err != nil {
		t.Fatal(err)
	}

	text, err := e.svc.ToggleTask(3)
	if err != nil {
		t.Fatalf("ToggleTask: %v", err)
	}
	if text != "- [x] one\n- [x] two" {
		t.Errorf("text = %q", text)
	}
	if !e.svc.Status().Dirty {
		t.Error("toggle should dirty the buffer")
	}
	if !e.svc.Flush(context.Background()) {
		t.Fatal("Flush failed")
	}
	if got := e.read(t, "t.md"); got != text {
		t.Errorf("on disk = %q", got)
	}
}

func TestDecorate_ImagesAndDiagrams(t *testing.T) {
	e := newEnv(t)
	e.write(t, "img/pic.png", "png-bytes")
	e.write(t, "img/n.md", "![a](pic.png) ![[missing.png]]\n```mermaid\ngraph TD\n```\ntail")
	ctx := context.Background()

	if _, err := e.svc.OpenNote(ctx, "img/n.md"); err != nil {
		t.Fatal(err)
	}
	// Cursor at the end of the trailing line, past the fence's line break.
	sel := buffer.Cursor(len(e.svc.autosave.Buffer()))

	p, err := e.svc.Decorate(ctx, sel, nil)
	if err != nil {
		t.Fatalf("Decorate: %v", err)
	}
	if p.Path != "img/n.md" || p.ViewID == "" {
		t.Errorf("preview = %+v", p)
	}
	var loaded, failed int
	for _, img := range p.Images {
		if strings.HasPrefix(img.URL, "data:image/png;base64,") {
			loaded++
		}
		if img.Error != "" {
			failed++
		}
	}
	if loaded != 1 || failed != 1 {
		t.Errorf("images = %+v", p.Images)
	}
	if len(p.Diagrams) != 1 || !strings.HasPrefix(p.Diagrams[0].WidgetID, "diagram:") {
		t.Fatalf("diagrams = %+v", p.Diagrams)
	}

	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return e.pub.count(sse.TypeDiagramRendered) == 1
	}, "diagram.rendered never published")

	p, err = e.svc.Decorate(ctx, sel, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Diagrams[0].State != diagram.StateRendered || p.Diagrams[0].SVG == "" {
		t.Errorf("second decorate = %+v", p.Diagrams[0])
	}
	if n := e.r.calls.Load(); n != 1 {
		t.Errorf("renderer calls = %d, unchanged diagram should reuse its job", n)
	}
}

func TestDecorate_DiagramError(t *testing.T) {
	e := newEnv(t)
	e.write(t, "n.md", "```mermaid\nbroken\n```\ntail")
	ctx := context.Background()
	if _, err := e.svc.OpenNote(ctx, "n.md"); err != nil {
		t.Fatal(err)
	}
	sel := buffer.Cursor(len(e.svc.autosave.Buffer()))
	if _, err := e.svc.Decorate(ctx, sel, nil); err != nil {
		t.Fatal(err)
	}

	var res diagram.Result
	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		p, err := e.svc.Decorate(ctx, sel, nil)
		if err != nil || len(p.Diagrams) != 1 {
			return false
		}
		res = p.Diagrams[0].Result
		return res.State == diagram.StateError
	}, "diagram never failed")
	if res.Error != "Parse error on line 1" || res.Source != "broken" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleVaultEvent_ReloadsChangedImage(t *testing.T) {
	e := newEnv(t)
	e.write(t, "pic.png", "v1")
	e.write(t, "n.md", "![[pic.png]]\n")
	ctx := context.Background()
	if _, err := e.svc.OpenNote(ctx, "n.md"); err != nil {
		t.Fatal(err)
	}
	sel := buffer.Cursor(len(e.svc.autosave.Buffer()))

	url := func() string {
		p, err := e.svc.Decorate(ctx, sel, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, img := range p.Images {
			return img.URL
		}
		return ""
	}
	before := url()

	abs := filepath.Join(e.vault, "pic.png")
	if err := os.WriteFile(abs, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(abs, later, later); err != nil {
		t.Fatal(err)
	}

	if got := url(); got != before {
		t.Errorf("image reloaded without an asset event")
	}
	e.svc.HandleVaultEvent(index.KindAsset, "pic.png")
	if got := url(); got == before || got == "" {
		t.Errorf("url after asset event = %q, want a new image", got)
	}
}

func TestBacklinks_DebouncedRefresh(t *testing.T) {
	e := newEnv(t, WithBacklinks(true, time.Millisecond))
	e.write(t, "Target.md", "target")
	e.write(t, "a.md", "see [[target]]")
	e.write(t, "b.md", "see [[TARGET.md|t]]")

	if _, err := e.svc.OpenNote(context.Background(), "Target.md"); err != nil {
		t.Fatal(err)
	}
	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		b := e.svc.Backlinks()
		return !b.Busy && len(b.Paths) == 2
	}, "backlinks never loaded")

	b := e.svc.Backlinks()
	if b.Path != "Target.md" || b.Paths[0] != "a.md" || b.Paths[1] != "b.md" {
		t.Errorf("backlinks = %+v", b)
	}
	if e.pub.count(sse.TypeBacklinksChanged) == 0 {
		t.Error("backlinks.changed not published")
	}

	// A new linking note triggers a rescan through the watcher path.
	e.write(t, "c.md", "[[target]]")
	e.svc.HandleVaultEvent(index.KindCreated, "c.md")
	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return len(e.svc.Backlinks().Paths) == 3
	}, "backlinks not refreshed after vault event")
}

func TestBacklinks_ResetOnOpen(t *testing.T) {
	e := newEnv(t, WithBacklinks(true, time.Hour))
	e.write(t, "a.md", "a")
	e.write(t, "b.md", "[[a]]")

	if _, err := e.svc.OpenNote(context.Background(), "a.md"); err != nil {
		t.Fatal(err)
	}
	if b := e.svc.Backlinks(); b.Path != "a.md" || len(b.Paths) != 0 {
		t.Errorf("before debounce = %+v, want empty", b)
	}
}

func TestBacklinksFor(t *testing.T) {
	e := newEnv(t)
	e.write(t, "dir/Note.md", "n")
	e.write(t, "x.md", "[[note]]")

	got, err := e.svc.BacklinksFor(context.Background(), "dir/Note.md")
	if err != nil || len(got) != 1 || got[0] != "x.md" {
		t.Errorf("BacklinksFor = %v, %v", got, err)
	}
}

func TestRenderDiagram(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.RenderDiagram(context.Background(), "graph TD", "")
	if err != nil {
		t.Fatalf("RenderDiagram: %v", err)
	}
	if res.State != diagram.StateRendered || !strings.Contains(res.SVG, "<svg") {
		t.Errorf("result = %+v", res)
	}

	res, err = e.svc.RenderDiagram(context.Background(), "graph TD", "")
	if err != nil || !res.Cached {
		t.Errorf("second render = %+v, %v; want cached", res, err)
	}
}

func TestCreateNote_IgnoredPath(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.CreateNote(context.Background(), "node_modules/x.md", nil); !errors.Is(err, apperr.ErrIgnoredPath) {
		t.Errorf("err = %v", err)
	}
}

func TestReadAsset_IgnoredPath(t *testing.T) {
	e := newEnv(t)
	e.write(t, ".git/HEAD", "ref")
	if _, err := e.svc.ReadAsset(context.Background(), ".git/HEAD"); !errors.Is(err, apperr.ErrIgnoredPath) {
		t.Errorf("err = %v", err)
	}
}

func TestClose_FlushesPendingEdits(t *testing.T) {
	e := newEnv(t)
	e.write(t, "a.md", "a")
	if _, err := e.svc.OpenNote(context.Background(), "a.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Edit("a2"); err != nil {
		t.Fatal(err)
	}
	e.svc.Close(context.Background())

	if got := e.read(t, "a.md"); got != "a2" {
		t.Errorf("a.md = %q, want flushed on close", got)
	}
	if _, err := e.svc.OpenNote(context.Background(), "a.md"); !errors.Is(err, apperr.ErrCancelled) {
		t.Errorf("open after close err = %v", err)
	}
}
