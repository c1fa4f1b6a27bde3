package noteservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/draglass/internal/diagram"
	"github.com/starford/draglass/internal/imagecache"
	"github.com/starford/draglass/internal/livepreview"
	"github.com/starford/draglass/internal/sse"
	"github.com/starford/draglass/internal/storage"
)

// ImageState is the load outcome of one image widget.
type ImageState struct {
	URL   string `json:"url,omitempty"`
	MIME  string `json:"mime,omitempty"`
	Error string `json:"error,omitempty"`
}

// DiagramState is the render state of one diagram widget.
type DiagramState struct {
	WidgetID string `json:"widget_id"`
	diagram.Result
}

// Preview is a decorated view of the active buffer.
type Preview struct {
	ViewID      string                   `json:"view_id"`
	Path        string                   `json:"path"`
	Decorations []livepreview.Decoration `json:"decorations"`
	Images      map[string]ImageState    `json:"images,omitempty"`
	Diagrams    []DiagramState           `json:"diagrams,omitempty"`
}

type widgetJob struct {
	source string
	theme  string
	job    *diagram.Job
}

// view owns the render caches of one opened note. It is replaced on every
// open and closed with it.
type view struct {
	id       string
	relPath  string
	diagrams *diagram.Pipeline
	images   *imagecache.Loader

	mu      sync.Mutex
	widgets map[string]widgetJob
}

func newView(relPath string, store storage.Provider, cfg viewConfig, logger *slog.Logger, pub Publisher) *view {
	id := uuid.NewString()
	v := &view{
		id:      id,
		relPath: relPath,
		widgets: make(map[string]widgetJob),
	}
	v.diagrams = diagram.NewPipeline(cfg.renderer,
		diagram.WithCache(diagram.NewCache(cfg.diagramCacheSize)),
		diagram.WithTimeout(cfg.diagramTimeout),
		diagram.WithLogger(logger),
		diagram.WithListener(func(widgetID string, r diagram.Result) {
			pub.Publish(sse.Event{Type: sse.TypeDiagramRendered, Data: map[string]any{
				"view_id":   id,
				"widget_id": widgetID,
				"result":    r,
			}})
		}),
	)
	v.images = imagecache.NewLoader(assetFetcher(store), imagecache.WithLogger(logger))
	return v
}

type viewConfig struct {
	renderer         diagram.Renderer
	diagramCacheSize int
	diagramTimeout   time.Duration
}

// assetFetcher reads images through the vault provider. Requests for any
// other vault are rejected.
func assetFetcher(store storage.Provider) imagecache.Fetcher {
	return imagecache.FetcherFunc(func(_ context.Context, vaultPath, relPath string) (storage.Asset, error) {
		if vaultPath != store.Root() {
			return storage.Asset{}, fmt.Errorf("noteservice: vault %q is not open", vaultPath)
		}
		return store.ReadAsset(relPath)
	})
}

// diagramWidgetID identifies a diagram widget by the line its fence opens on.
func diagramWidgetID(startLine int) string {
	return fmt.Sprintf("diagram:%d", startLine)
}

// resolve loads the images and schedules the diagrams referenced by decos.
// Diagram widgets that disappeared since the previous call are forgotten so
// their late renders are dropped.
func (v *view) resolve(ctx context.Context, vaultPath string, decos []livepreview.Decoration) (map[string]ImageState, []DiagramState) {
	images := make(map[string]ImageState)
	var diagrams []DiagramState
	seen := make(map[string]bool)

	for _, d := range decos {
		if d.Widget == nil {
			continue
		}
		switch d.Widget.Kind {
		case livepreview.WidgetImage:
			img := d.Widget.Image
			if _, done := images[img.CacheKey]; done {
				continue
			}
			entry, err := v.images.Load(ctx, img.CacheKey, vaultPath, img.RelPath)
			if err != nil {
				images[img.CacheKey] = ImageState{Error: livepreview.LabelImageNotFound}
				continue
			}
			images[img.CacheKey] = ImageState{URL: entry.Handle.URL(), MIME: entry.MIME}

		case livepreview.WidgetDiagram:
			dw := d.Widget.Diagram
			id := diagramWidgetID(dw.StartLine)
			seen[id] = true
			job := v.request(id, dw.Source, dw.Theme)
			diagrams = append(diagrams, DiagramState{WidgetID: id, Result: job.Result()})
		}
	}

	v.mu.Lock()
	var gone []string
	for id := range v.widgets {
		if !seen[id] {
			gone = append(gone, id)
			delete(v.widgets, id)
		}
	}
	v.mu.Unlock()
	for _, id := range gone {
		v.diagrams.Forget(id)
	}
	return images, diagrams
}

// request reuses the live job of a widget whose source and theme did not
// change.
func (v *view) request(id, source, theme string) *diagram.Job {
	v.mu.Lock()
	defer v.mu.Unlock()
	if w, ok := v.widgets[id]; ok && w.source == source && w.theme == theme {
		return w.job
	}
	job := v.diagrams.Request(id, source, theme)
	v.widgets[id] = widgetJob{source: source, theme: theme, job: job}
	return job
}

func (v *view) invalidate(relPath string) int {
	return v.images.Invalidate(relPath)
}

func (v *view) close() {
	v.diagrams.Close()
	v.images.Close()
}
