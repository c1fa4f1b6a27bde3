package api

import (
	"net/http"

	"github.com/starford/draglass/internal/noteservice"
)

// Open handles POST /session/open.
//
//	@Summary		Make a note the active note
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenRequest	true	"Note to open"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session/open [post]
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.OpenNote(r.Context(), req.Path)
	if err != nil {
		writeError(w, "open note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Edit handles POST /session/edit.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, err := h.svc.Edit(req.Text)
	if err != nil {
		writeError(w, "edit", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ToggleTask handles POST /session/toggle-task.
func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	var req ToggleTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, err := h.svc.ToggleTask(req.Pos)
	if err != nil {
		writeError(w, "toggle task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":   text,
		"status": h.svc.Status(),
	})
}

// Flush handles POST /session/flush. A failed flush answers 409 with the
// autosave state so the client can show the error.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	ok := h.svc.Flush(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"clean":  ok,
		"status": h.svc.Status(),
	})
}

// Status handles GET /session/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    h.svc.ActivePath(),
		"autosave":  h.svc.Status(),
		"backlinks": h.svc.Backlinks(),
	})
}

// SetAutosave handles PUT /session/autosave.
func (h *Handler) SetAutosave(w http.ResponseWriter, r *http.Request) {
	var req AutosaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.svc.SetAutosaveEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Decorate handles POST /session/decorate.
//
//	@Summary		Live-preview decorations of the active buffer
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DecorateRequest	true	"Selection and visible ranges"
//	@Success		200		{object}	noteservice.Preview
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session/decorate [post]
func (h *Handler) Decorate(w http.ResponseWriter, r *http.Request) {
	var req DecorateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	preview, err := h.svc.Decorate(r.Context(), req.Selection, req.Visible)
	if err != nil {
		writeError(w, "decorate", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ArrowDown handles POST /session/arrow-down. Moving down from the line above
// a rendered diagram puts the cursor inside the block's source.
func (h *Handler) ArrowDown(w http.ResponseWriter, r *http.Request) {
	var req ArrowDownRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pos, ok, err := h.svc.EnterDiagramBelow(req.Selection)
	if err != nil {
		writeError(w, "arrow down", err)
		return
	}
	writeJSON(w, http.StatusOK, ArrowDownResponse{Handled: ok, Pos: pos})
}

// Wikilink handles POST /session/wikilink. A link is given by its text or by
// an offset into the active buffer. A missing target answers 200 with
// needs_confirm set unless the request confirms creation.
//
//	@Summary		Follow a wikilink, creating the note on confirmation
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		WikilinkRequest	true	"Wikilink target or buffer offset"
//	@Success		200		{object}	noteservice.WikilinkResult
//	@Success		201		{object}	noteservice.WikilinkResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/session/wikilink [post]
func (h *Handler) Wikilink(w http.ResponseWriter, r *http.Request) {
	var req WikilinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		res *noteservice.WikilinkResult
		err error
	)
	switch {
	case req.Offset != nil:
		res, err = h.svc.OpenWikilinkAt(r.Context(), *req.Offset, req.Confirm)
	case req.Target != "":
		res, err = h.svc.OpenOrCreateWikilink(r.Context(), req.Target, req.Confirm)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("target or offset is required"))
		return
	}
	if err != nil {
		writeError(w, "wikilink", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}
