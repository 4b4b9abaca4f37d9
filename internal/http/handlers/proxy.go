package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"papercut/internal/domain"
)

// Image streams an engine artifact back to the caller.
func (a *App) Image(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(filename); err == nil {
			filename = unescaped
		}
	}
	if filename == "" {
		a.error(w, r, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	q := r.URL.Query()
	ref := domain.OutputArtifactRef{
		Filename:   filename,
		Subfolder:  q.Get("subfolder"),
		FolderType: q.Get("type"),
	}.Normalized()

	art, err := a.engine.View(r.Context(), ref)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && errors.Is(err, domain.ErrRetrieval) && upstream.Status > 0 {
			a.error(w, r, upstream.Status, err)
			return
		}
		a.logger.Warn().Err(err).Str("filename", ref.Filename).Msg("proxy: engine unreachable")
		a.error(w, r, http.StatusServiceUnavailable, err)
		return
	}
	defer art.Body.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if art.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, art.Body); err != nil {
		a.logger.Debug().Err(err).Str("filename", ref.Filename).Msg("proxy: stream interrupted")
	}
}
