package api

import (
	"bytes"
	"net/http"
	"path"

	"github.com/starford/draglass/internal/storage"
)

// GetAsset handles GET /assets/*. It serves vault files such as embedded
// images; ignored and escaping paths are rejected.
//
//	@Summary		Serve a vault asset
//	@Tags			assets
//	@Produce		octet-stream
//	@Param			path	path	string	true	"Asset path"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [get]
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	p := wildcardPath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path required"))
		return
	}
	asset, err := h.svc.ReadAsset(r.Context(), p)
	if err != nil {
		writeError(w, "read asset", err)
		return
	}
	serveAsset(w, r, p, asset)
}

func serveAsset(w http.ResponseWriter, r *http.Request, p string, asset storage.Asset) {
	w.Header().Set("Content-Type", asset.MIME)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if asset.MIME == "image/svg+xml" {
		// Vault SVGs may carry scripts; never let them run in the API origin.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	}
	http.ServeContent(w, r, path.Base(p), asset.ModTime, bytes.NewReader(asset.Bytes))
}
