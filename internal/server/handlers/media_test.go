package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/3leaps/quickcast/pkg/provider"
	"github.com/3leaps/quickcast/pkg/share"
)

type stubGetter struct {
	body string
	meta *provider.ObjectMeta
	err  error
}

func (s stubGetter) GetObject(ctx context.Context, key string) (io.ReadCloser, *provider.ObjectMeta, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), s.meta, nil
}

func TestMediaHandler(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	meta := func(expires time.Time) *provider.ObjectMeta {
		return &provider.ObjectMeta{
			ContentType: "audio/wav",
			Metadata:    map[string]string{share.MetaExpiresAt: expires.Format(time.RFC3339)},
		}
	}

	tests := []struct {
		name   string
		src    stubGetter
		status int
	}{
		{"served", stubGetter{body: "RIFF", meta: meta(now.Add(time.Hour))}, http.StatusOK},
		{"expired", stubGetter{body: "RIFF", meta: meta(now.Add(-time.Second))}, http.StatusNotFound},
		{"no expiry recorded", stubGetter{body: "RIFF", meta: &provider.ObjectMeta{}}, http.StatusOK},
		{"missing", stubGetter{err: &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderFile, Err: provider.ErrNotFound}}, http.StatusNotFound},
		{"store failure", stubGetter{err: provider.ErrAccessDenied}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/media/{key}", MediaHandler(tt.src, clock))

			rec := do(t, r, http.MethodGet, "/media/abcd1234.wav", "")
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "RIFF", rec.Body.String())
			}
		})
	}
}
