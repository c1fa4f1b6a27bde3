package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/draglass/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// wildcardPath extracts the vault path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListNotes handles GET /notes.
//
//	@Summary		List the notes of the vault sorted by display name
//	@Tags			notes
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListNotes(r.Context())
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": items,
		"total": len(items),
	})
}

// GetNote handles GET /notes/*.
//
//	@Summary		Get a single note by path
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), p)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /notes.
//
//	@Summary		Create a new note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.CreateNote(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// Search handles GET /search?q=...&limit=...
//
//	@Summary		Search notes by name and content
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Backlinks handles GET /backlinks. With ?path= it queries the index for that
// note; without it returns the backlinks panel of the active note.
//
//	@Summary		Notes linking to a note
//	@Tags			notes
//	@Produce		json
//	@Param			path	query		string	false	"Note path"
//	@Success		200		{object}	noteservice.BacklinksState
//	@Security		BearerAuth
//	@Router			/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSON(w, http.StatusOK, h.svc.Backlinks())
		return
	}
	paths, err := h.svc.BacklinksFor(r.Context(), p)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, noteservice.BacklinksState{Path: p, Paths: paths})
}

// RenderDiagram handles POST /diagrams/render. Render failures are reported
// in the result with state "error", not as an HTTP error.
//
//	@Summary		Render a diagram source to sanitized SVG
//	@Tags			diagrams
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderDiagramRequest	true	"Diagram"
//	@Success		200		{object}	diagram.Result
//	@Security		BearerAuth
//	@Router			/diagrams/render [post]
func (h *Handler) RenderDiagram(w http.ResponseWriter, r *http.Request) {
	var req RenderDiagramRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source is required"))
		return
	}
	res, err := h.svc.RenderDiagram(r.Context(), req.Source, req.Theme)
	if err != nil {
		writeError(w, "render diagram", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
