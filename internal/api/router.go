package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/draglass/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Vault.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Get("/search", h.Search)
	r.Get("/backlinks", h.Backlinks)
	r.Get("/assets/*", h.GetAsset)

	// Editor session.
	r.Route("/session", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/open", h.Open)
		r.Post("/edit", h.Edit)
		r.Post("/toggle-task", h.ToggleTask)
		r.Post("/flush", h.Flush)
		r.Post("/decorate", h.Decorate)
		r.Post("/wikilink", h.Wikilink)
		r.Post("/arrow-down", h.ArrowDown)
		r.Put("/autosave", h.SetAutosave)
	})

	r.Post("/diagrams/render", h.RenderDiagram)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
