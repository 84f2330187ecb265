package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/credvault/credvault/internal/storage"
)

// pageCSP replaces the API policy on HTML pages so they can load their own
// scripts and styles.
const pageCSP = "default-src 'self'; img-src 'self' data:; frame-ancestors 'none'"

// AssetHandler serves uploaded profile images and the optional HTML pages.
type AssetHandler struct {
	images    *storage.ImageStore
	staticDir string
	logger    *slog.Logger
}

// NewAssetHandler creates a new AssetHandler. images may be nil and
// staticDir may be empty.
func NewAssetHandler(images *storage.ImageStore, staticDir string, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		images:    images,
		staticDir: staticDir,
		logger:    logger,
	}
}

// HasPages reports whether a static directory is configured.
func (h *AssetHandler) HasPages() bool {
	return h.staticDir != ""
}

// Upload streams a stored profile image.
//
// GET /uploads/{key}
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
		return
	}

	rc, contentType, err := h.images.Open(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
			return
		}
		h.logger.Error("upload_read_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	// Profile images are embedded by pages served from other origins.
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("upload_stream_interrupted", "error", err)
	}
}

// Page serves <staticDir>/<name>.html.
func (h *AssetHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", pageCSP)
		http.ServeFile(w, r, filepath.Join(h.staticDir, name+".html"))
	}
}

// Static serves any other file under the static directory.
func (h *AssetHandler) Static() http.Handler {
	files := http.FileServer(http.Dir(h.staticDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", pageCSP)
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
