package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/quickcast/internal/errors"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/share"
)

type fakeJobs struct {
	store     *jobregistry.MemoryStore
	submitErr error
}

func (f *fakeJobs) Submit(ctx context.Context, url string) (*jobregistry.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	j := jobregistry.NewJob(url, time.Now())
	if err := f.store.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (f *fakeJobs) Store() jobregistry.Store { return f.store }

type fakeShares struct {
	infos map[string]*share.Info
}

func (f *fakeShares) Lookup(ctx context.Context, id string) (*share.Info, error) {
	info, ok := f.infos[id]
	if !ok {
		return nil, share.ErrNotFound
	}
	return info, nil
}

func newRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/generate", api.Generate)
	r.Get("/api/status/{jobID}", api.Status)
	r.Get("/api/audio/{jobID}", api.Audio)
	r.Get("/api/share/{shareID}", api.Share)
	r.Get("/api/jobs", api.Jobs)
	r.Get("/api/ws/jobs/{jobID}", api.Watch)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func seedJob(t *testing.T, store *jobregistry.MemoryStore, fn func(*jobregistry.Job)) *jobregistry.Job {
	t.Helper()
	j := jobregistry.NewJob("https://example.com/post", time.Now())
	require.NoError(t, store.Create(context.Background(), j))
	if fn == nil {
		return j
	}
	_, err := store.Update(context.Background(), j.ID, func(j *jobregistry.Job) error {
		j.Status = jobregistry.StatusProcessing
		j.Progress = 10
		return nil
	})
	require.NoError(t, err)
	got, err := store.Update(context.Background(), j.ID, func(j *jobregistry.Job) error {
		fn(j)
		return nil
	})
	require.NoError(t, err)
	return got
}

func processing(completed, total int, partial string) func(*jobregistry.Job) {
	return func(j *jobregistry.Job) {
		j.Status = jobregistry.StatusProcessing
		j.Progress = 30 + completed*60/total
		j.CompletedSegments = completed
		j.TotalSegments = total
		j.PartialOutputPath = partial
	}
}

func completed(path string) func(*jobregistry.Job) {
	return func(j *jobregistry.Job) {
		j.Status = jobregistry.StatusCompleted
		j.Progress = 100
		j.OutputPath = path
		j.Share = &jobregistry.ShareInfo{ShareID: "abcd1234", ShareURL: "/s/abcd1234", Uploaded: true}
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		status    int
		code      string
	}{
		{name: "empty body", body: "", status: http.StatusBadRequest, code: apperrors.CodeInvalidRequest},
		{name: "missing url", body: `{}`, status: http.StatusBadRequest, code: apperrors.CodeInvalidRequest},
		{name: "blank url", body: `{"url":"  "}`, status: http.StatusBadRequest, code: apperrors.CodeInvalidRequest},
		{name: "malformed json", body: `{"url":`, status: http.StatusBadRequest, code: apperrors.CodeInvalidRequest},
		{name: "invalid url", body: `{"url":"ftp://x"}`, submitErr: fmt.Errorf("%w: bad scheme", pipeline.ErrInvalidURL), status: http.StatusBadRequest, code: apperrors.CodeInvalidURL},
		{name: "shutting down", body: `{"url":"https://example.com"}`, submitErr: pipeline.ErrShuttingDown, status: http.StatusServiceUnavailable, code: apperrors.CodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewAPI(&fakeJobs{store: jobregistry.NewMemoryStore(), submitErr: tt.submitErr}, nil, nil)
			rec := do(t, newRouter(api), http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	t.Run("accepted", func(t *testing.T) {
		store := jobregistry.NewMemoryStore()
		api := NewAPI(&fakeJobs{store: store}, nil, nil)
		rec := do(t, newRouter(api), http.MethodPost, "/api/generate", `{"url":"https://example.com/post"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp generateResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, jobregistry.StatusPending, resp.Status)
		assert.Equal(t, "Job created", resp.Message)

		_, err := store.Get(context.Background(), resp.JobID)
		assert.NoError(t, err)
	})
}

func TestNewStatusDocument(t *testing.T) {
	store := jobregistry.NewMemoryStore()

	pending := seedJob(t, store, nil)
	doc := NewStatusDocument(pending)
	assert.Nil(t, doc.CompletedSegments)
	assert.Empty(t, doc.AudioURL)
	assert.False(t, doc.PartialAudioAvailable)

	inFlight := seedJob(t, store, processing(2, 6, "/tmp/partial.wav"))
	doc = NewStatusDocument(inFlight)
	require.NotNil(t, doc.CompletedSegments)
	assert.Equal(t, 2, *doc.CompletedSegments)
	assert.Equal(t, 6, *doc.TotalSegments)
	assert.True(t, doc.PartialAudioAvailable)
	assert.Equal(t, "/api/audio/"+inFlight.ID+"?partial=true", doc.PartialAudioURL)

	noPartialYet := seedJob(t, store, processing(1, 6, ""))
	doc = NewStatusDocument(noPartialYet)
	assert.False(t, doc.PartialAudioAvailable)
	assert.Empty(t, doc.PartialAudioURL)

	done := seedJob(t, store, completed("/tmp/final.wav"))
	doc = NewStatusDocument(done)
	assert.Equal(t, "/api/audio/"+done.ID, doc.AudioURL)
	assert.True(t, doc.FinalAudioAvailable)
	assert.Equal(t, "abcd1234", doc.ShareID)
	assert.Equal(t, "/s/abcd1234", doc.ShareURL)

	failed := seedJob(t, store, func(j *jobregistry.Job) {
		j.Status = jobregistry.StatusFailed
		j.Error = "boom"
		j.Message = "Failed: boom"
	})
	doc = NewStatusDocument(failed)
	assert.Equal(t, "boom", doc.Error)
	assert.Empty(t, doc.AudioURL)
}

func TestAudio(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "final.wav")
	partialPath := filepath.Join(dir, "partial.wav")
	require.NoError(t, os.WriteFile(finalPath, []byte("final-bytes"), 0o644))
	require.NoError(t, os.WriteFile(partialPath, []byte("partial-bytes"), 0o644))

	store := jobregistry.NewMemoryStore()
	h := newRouter(NewAPI(&fakeJobs{store: store}, nil, nil))

	pending := seedJob(t, store, nil)
	inFlight := seedJob(t, store, processing(2, 6, partialPath))
	staleFile := seedJob(t, store, processing(1, 6, filepath.Join(dir, "gone.wav")))
	done := seedJob(t, store, completed(finalPath))
	missing := seedJob(t, store, completed(filepath.Join(dir, "missing.wav")))

	tests := []struct {
		name   string
		path   string
		status int
		body   string
		code   string
	}{
		{name: "unknown job", path: "/api/audio/nope", status: http.StatusNotFound, code: apperrors.CodeNotFound},
		{name: "final not ready", path: "/api/audio/" + pending.ID, status: http.StatusBadRequest, code: apperrors.CodeNotReady},
		{name: "final while processing", path: "/api/audio/" + inFlight.ID, status: http.StatusBadRequest, code: apperrors.CodeNotReady},
		{name: "partial before segments", path: "/api/audio/" + pending.ID + "?partial=true", status: http.StatusBadRequest, code: apperrors.CodeNotReady},
		{name: "partial after completion", path: "/api/audio/" + done.ID + "?partial=true", status: http.StatusBadRequest, code: apperrors.CodeNotReady},
		{name: "partial served", path: "/api/audio/" + inFlight.ID + "?partial=true", status: http.StatusOK, body: "partial-bytes"},
		{name: "partial file gone", path: "/api/audio/" + staleFile.ID + "?partial=true", status: http.StatusNotFound, code: apperrors.CodeNotFound},
		{name: "final served", path: "/api/audio/" + done.ID, status: http.StatusOK, body: "final-bytes"},
		{name: "final file missing", path: "/api/audio/" + missing.ID, status: http.StatusNotFound, code: apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "")
			require.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
				return
			}
			assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}

	t.Run("range request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/audio/"+done.ID, nil)
		req.Header.Set("Range", "bytes=0-4")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusPartialContent, rec.Code)
		assert.Equal(t, "final", rec.Body.String())
	})
}

func TestShare(t *testing.T) {
	store := jobregistry.NewMemoryStore()

	t.Run("disabled", func(t *testing.T) {
		rec := do(t, newRouter(NewAPI(&fakeJobs{store: store}, nil, nil)), http.MethodGet, "/api/share/abcd1234", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, apperrors.CodeSharingDisabled, errorCode(t, rec))
	})

	shares := &fakeShares{infos: map[string]*share.Info{
		"live0001": {ShareID: "live0001", Title: "Live", AudioURL: "https://cdn.example/live0001.wav"},
		"old00001": {ShareID: "old00001", Title: "Old", Expired: true},
	}}
	h := newRouter(NewAPI(&fakeJobs{store: store}, shares, nil))

	rec := do(t, h, http.MethodGet, "/api/share/live0001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info share.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "Live", info.Title)

	for _, id := range []string{"old00001", "missing1", "bad_id!"} {
		rec := do(t, h, http.MethodGet, "/api/share/"+id, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}

func TestJobs(t *testing.T) {
	store := jobregistry.NewMemoryStore()
	a := seedJob(t, store, nil)
	b := seedJob(t, store, processing(1, 4, ""))

	rec := do(t, newRouter(NewAPI(&fakeJobs{store: store}, nil, nil)), http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []jobSummary `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, a.ID, resp.Jobs[0].JobID)
	assert.Equal(t, b.ID, resp.Jobs[1].JobID)
	assert.Equal(t, jobregistry.StatusProcessing, resp.Jobs[1].Status)
	assert.Equal(t, 45, resp.Jobs[1].Progress)
}

func TestAPIHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	APIHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
	_, err := time.Parse(time.RFC3339, resp["timestamp"])
	assert.NoError(t, err)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	store := jobregistry.NewMemoryStore()
	job := seedJob(t, store, nil)

	srv := httptest.NewServer(newRouter(NewAPI(&fakeJobs{store: store}, nil, nil)))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/jobs/" + job.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	var first StatusDocument
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, jobregistry.StatusPending, first.Status)

	_, err = store.Update(ctx, job.ID, func(j *jobregistry.Job) error {
		processing(3, 6, "/tmp/p.wav")(j)
		return nil
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, job.ID, func(j *jobregistry.Job) error {
		completed("/tmp/f.wav")(j)
		return nil
	})
	require.NoError(t, err)

	var seen []StatusDocument
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var doc StatusDocument
		if err := conn.ReadJSON(&doc); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		seen = append(seen, doc)
	}

	require.Len(t, seen, 2)
	assert.Equal(t, 60, seen[0].Progress)
	assert.Equal(t, jobregistry.StatusCompleted, seen[1].Status)
	assert.True(t, seen[1].FinalAudioAvailable)
}

func TestWatch_TerminalJobClosesAfterSnapshot(t *testing.T) {
	store := jobregistry.NewMemoryStore()
	job := seedJob(t, store, completed("/tmp/f.wav"))

	srv := httptest.NewServer(newRouter(NewAPI(&fakeJobs{store: store}, nil, nil)))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/jobs/"+job.ID, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	var doc StatusDocument
	require.NoError(t, conn.ReadJSON(&doc))
	assert.Equal(t, jobregistry.StatusCompleted, doc.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWatch_UnknownJob(t *testing.T) {
	rec := do(t, newRouter(NewAPI(&fakeJobs{store: jobregistry.NewMemoryStore()}, nil, nil)), http.MethodGet, "/api/ws/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatch_RejectsForeignOrigin(t *testing.T) {
	store := jobregistry.NewMemoryStore()
	job := seedJob(t, store, nil)
	srv := httptest.NewServer(newRouter(NewAPI(&fakeJobs{store: store}, nil, nil, WithAllowedOrigins([]string{"https://app.example"}))))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/jobs/"+job.ID, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
