// Package imagecache loads vault images for a view, coalescing concurrent
// fetches and keeping one renderable handle per cache key.
package imagecache

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/storage"
)

// Fetcher reads an image asset from a vault.
type Fetcher interface {
	FetchAsset(ctx context.Context, vaultPath, relPath string) (storage.Asset, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, vaultPath, relPath string) (storage.Asset, error)

// FetchAsset calls f.
func (f FetcherFunc) FetchAsset(ctx context.Context, vaultPath, relPath string) (storage.Asset, error) {
	return f(ctx, vaultPath, relPath)
}

// Handle is a renderable reference to loaded image bytes. Release frees it;
// the URL must not be used afterwards.
type Handle interface {
	URL() string
	Release()
}

type dataURL struct {
	mu  sync.Mutex
	url string
}

// NewDataURL wraps an asset in an inline data: URL handle.
func NewDataURL(a storage.Asset) Handle {
	return &dataURL{url: "data:" + a.MIME + ";base64," + base64.StdEncoding.EncodeToString(a.Bytes)}
}

func (d *dataURL) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *dataURL) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = ""
}

// Entry is a cached image.
type Entry struct {
	Handle  Handle
	RelPath string
	MIME    string
	ModTime time.Time

	stale bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithHandleFactory replaces the data: URL handle.
func WithHandleFactory(fn func(storage.Asset) Handle) Option {
	return func(l *Loader) {
		l.newHandle = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader caches image assets for one view.
type Loader struct {
	fetcher   Fetcher
	newHandle func(storage.Asset) Handle
	logger    *slog.Logger
	group     singleflight.Group

	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

// NewLoader creates a Loader reading through f.
func NewLoader(f Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher:   f,
		newHandle: NewDataURL,
		entries:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load returns the image for cacheKey, fetching relPath from vaultPath on a
// miss. Concurrent calls for the same key share one fetch. A refetch whose
// modification time matches the cached entry keeps the cached handle; a
// newer one replaces it and releases the old handle. Failed fetches are not
// cached.
func (l *Loader) Load(ctx context.Context, cacheKey, vaultPath, relPath string) (*Entry, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, apperr.ErrCancelled
	}
	if e, ok := l.entries[cacheKey]; ok && !e.stale {
		l.mu.Unlock()
		return e, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(cacheKey, func() (any, error) {
		return l.fetch(context.WithoutCancel(ctx), cacheKey, vaultPath, relPath)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (l *Loader) fetch(ctx context.Context, cacheKey, vaultPath, relPath string) (*Entry, error) {
	asset, err := l.fetcher.FetchAsset(ctx, vaultPath, relPath)
	if err != nil {
		l.logger.Debug("image load failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("imagecache: load %s: %w", relPath, err)
	}

	entry := &Entry{
		Handle:  l.newHandle(asset),
		RelPath: relPath,
		MIME:    asset.MIME,
		ModTime: asset.ModTime,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		entry.Handle.Release()
		return nil, apperr.ErrCancelled
	}

	prior := l.entries[cacheKey]
	if prior != nil && prior.ModTime.Equal(entry.ModTime) {
		entry.Handle.Release()
		prior.stale = false
		return prior, nil
	}
	if prior != nil {
		prior.Handle.Release()
	}
	l.entries[cacheKey] = entry
	return entry, nil
}

// Invalidate marks every entry for relPath stale so the next Load refetches
// it. It returns the number of entries affected.
func (l *Loader) Invalidate(relPath string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.RelPath == relPath {
			e.stale = true
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close releases every handle. Later loads fail with apperr.ErrCancelled.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for key, e := range l.entries {
		e.Handle.Release()
		delete(l.entries, key)
	}
}
