package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/jak0707/dially/internal/media"
)

// audioContentTypes maps artifact extensions to the type providers expect.
var audioContentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// handleStaticAudio serves a published audio artifact. No authentication:
// the provider fetches these by the URL placed in the markup.
func (s *Server) handleStaticAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	f, info, err := s.audio.Open(name)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrInvalidName) {
			writeError(w, http.StatusNotFound, "audio not found")
			return
		}
		slog.Error("static audio: failed to open file", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()

	ct, ok := audioContentTypes[filepath.Ext(name)]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=3600")

	// ServeContent handles Range requests for seeking support.
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
