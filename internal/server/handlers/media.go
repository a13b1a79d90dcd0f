package handlers

import (
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/quickcast/internal/errors"
	"github.com/3leaps/quickcast/pkg/provider"
	"github.com/3leaps/quickcast/pkg/share"
)

// MediaHandler serves shared objects from a local store under /media/{key}.
// Objects past their recorded expiry are reported as missing.
func MediaHandler(src provider.ObjectGetter, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		notFound := apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "Podcast not found or expired")

		body, meta, err := src.GetObject(r.Context(), key)
		if err != nil {
			if provider.IsNotFound(err) {
				respondWithError(w, r, notFound)
				return
			}
			respondWithError(w, r, err)
			return
		}
		defer func() { _ = body.Close() }()

		if exp := share.ExpiresAt(meta.Metadata); !exp.IsZero() && !now().Before(exp) {
			respondWithError(w, r, notFound)
			return
		}

		if meta.ContentType != "" {
			w.Header().Set("Content-Type", meta.ContentType)
		}
		if rs, ok := body.(io.ReadSeeker); ok {
			http.ServeContent(w, r, path.Base(key), meta.LastModified, rs)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, body)
	}
}
