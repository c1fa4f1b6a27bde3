// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/draglass/internal/api"
	"github.com/starford/draglass/internal/buffer"
	"github.com/starford/draglass/internal/diagram"
	"github.com/starford/draglass/internal/index"
	"github.com/starford/draglass/internal/livepreview"
	"github.com/starford/draglass/internal/mcpserver"
	"github.com/starford/draglass/internal/noteservice"
	"github.com/starford/draglass/internal/sse"
	"github.com/starford/draglass/internal/storage"
	"github.com/starford/draglass/internal/textrange"
)

// noteUpdateThrottle limits note.updated broadcasts while autosave rewrites
// the note being typed in.
const noteUpdateThrottle = time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{logWriter: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logWriter, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openVault opens the vault storage and the SQLite index and reconciles them.
func openVault(cfg *Config, logger *slog.Logger) (storage.Provider, *index.DB, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath()), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(cfg.IndexPath())
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return store, db, nil
}

// Run starts the HTTP server, the vault watcher and the editor session.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("index_path", cfg.IndexPath()),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("autosave", cfg.Autosave.Enabled),
		slog.String("theme", cfg.Editor.Theme))

	store, db, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := sse.NewBroker(sse.WithUpdateThrottle(noteUpdateThrottle))
	defer broker.Close()

	renderer := diagram.MermaidCLI{Command: cfg.Diagram.Command}
	svc := noteservice.NewService(store, db, renderer,
		noteservice.WithLogger(logger),
		noteservice.WithPublisher(broker),
		noteservice.WithPreview(cfg.Editor.PreviewOptions()),
		noteservice.WithAutosave(cfg.Autosave.Enabled, cfg.Autosave.Debounce),
		noteservice.WithBacklinks(cfg.Backlinks.Enabled, cfg.Backlinks.Debounce),
		noteservice.WithDiagrams(cfg.Editor.DiagramCacheSize, cfg.Diagram.Timeout),
	)

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Watcher events feed the SSE stream and the active view.
	g.Go(func() error {
		err := index.Watch(gCtx, db, store, cfg.Vault.Path, logger, func(kind, path string) {
			broker.PublishVaultEvent(kind, path)
			svc.HandleVaultEvent(kind, path)
		})
		if err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Pending edits are written before the index closes.
		svc.Close(shutdownCtx)
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogWriter(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	store, db, err := openVault(app.config, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := mcpserver.New(store, db,
		mcpserver.WithLogger(logger),
		mcpserver.WithPreview(app.config.Editor.PreviewOptions()))
	logger.Info("Starting MCP server on stdio", slog.String("vault_path", app.config.Vault.Path))
	return srv.ServeStdio()
}

// Preview writes the live-preview decorations of one note as JSON. cursor < 0
// places the cursor at the end of the note.
func Preview(_ context.Context, w io.Writer, notePath string, cursor int, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogWriter(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	app.logger()

	store, err := storage.NewFS(app.config.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	data, err := store.Read(notePath)
	if err != nil {
		return err
	}
	doc := buffer.New(string(data))
	if cursor < 0 || cursor > doc.Len() {
		cursor = doc.Len()
	}

	popts := app.config.Editor.PreviewOptions()
	popts.NoteRelPath = notePath
	decos := livepreview.Build(doc, buffer.Cursor(cursor), []textrange.Span{{From: 0, To: doc.Len()}}, popts)
	if decos == nil {
		decos = []livepreview.Decoration{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(decos)
}
