package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/quickcast/internal/errors"
	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/share"
)

const maxRequestBody = 64 << 10

// JobService accepts podcast jobs and exposes their store.
type JobService interface {
	Submit(ctx context.Context, url string) (*jobregistry.Job, error)
	Store() jobregistry.Store
}

// ShareService resolves share ids to published podcasts.
type ShareService interface {
	Lookup(ctx context.Context, id string) (*share.Info, error)
}

// API serves the /api job and share endpoints.
type API struct {
	jobs    JobService
	shares  ShareService
	log     *zap.Logger
	origins []string
}

// APIOption customizes an API.
type APIOption func(*API)

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// "*" allows any origin.
func WithAllowedOrigins(origins []string) APIOption {
	return func(a *API) { a.origins = origins }
}

// NewAPI returns an API. shares may be nil when sharing is disabled.
func NewAPI(jobs JobService, shares ShareService, logger *zap.Logger, opts ...APIOption) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{jobs: jobs, shares: shares, log: logger, origins: []string{"*"}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type generateRequest struct {
	URL string `json:"url"`
}

type generateResponse struct {
	JobID   string             `json:"job_id"`
	Status  jobregistry.Status `json:"status"`
	Message string             `json:"message"`
}

// StatusDocument is the polled view of a job.
type StatusDocument struct {
	JobID                 string             `json:"job_id"`
	Status                jobregistry.Status `json:"status"`
	Progress              int                `json:"progress"`
	Message               string             `json:"message"`
	Metadata              map[string]any     `json:"metadata"`
	Error                 string             `json:"error,omitempty"`
	AudioURL              string             `json:"audio_url,omitempty"`
	PartialAudioURL       string             `json:"partial_audio_url,omitempty"`
	CompletedSegments     *int               `json:"completed_segments,omitempty"`
	TotalSegments         *int               `json:"total_segments,omitempty"`
	PartialAudioAvailable bool               `json:"partial_audio_available"`
	FinalAudioAvailable   bool               `json:"final_audio_available"`
	ShareID               string             `json:"share_id,omitempty"`
	ShareURL              string             `json:"share_url,omitempty"`
}

// NewStatusDocument renders j for clients.
func NewStatusDocument(j *jobregistry.Job) StatusDocument {
	doc := StatusDocument{
		JobID:                 j.ID,
		Status:                j.Status,
		Progress:              j.Progress,
		Message:               j.Message,
		Metadata:              j.Metadata,
		PartialAudioAvailable: j.PartialAvailable(),
		FinalAudioAvailable:   j.FinalAvailable(),
	}
	switch j.Status {
	case jobregistry.StatusFailed:
		doc.Error = j.Error
	case jobregistry.StatusCompleted:
		doc.AudioURL = "/api/audio/" + j.ID
	case jobregistry.StatusProcessing:
		if j.CompletedSegments >= 1 {
			completed, total := j.CompletedSegments, j.TotalSegments
			doc.CompletedSegments = &completed
			doc.TotalSegments = &total
			if doc.PartialAudioAvailable {
				doc.PartialAudioURL = "/api/audio/" + j.ID + "?partial=true"
			}
		}
	}
	if j.Share != nil {
		doc.ShareID = j.Share.ShareID
		doc.ShareURL = j.Share.ShareURL
	}
	return doc
}

// Generate handles POST /api/generate.
func (a *API) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.InvalidRequest("Request body must be JSON"))
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		respondWithError(w, r, apperrors.InvalidRequest("URL is required"))
		return
	}

	job, err := a.jobs.Submit(r.Context(), url)
	if err != nil {
		a.log.Info("Rejected job", zap.String("url", url), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	a.log.Info("Accepted job", zap.String("job_id", job.ID), zap.String("url", url))
	writeJSON(w, http.StatusAccepted, generateResponse{JobID: job.ID, Status: job.Status, Message: job.Message})
}

// Status handles GET /api/status/{jobID}.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.Store().Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusDocument(job))
}

// Audio handles GET /api/audio/{jobID}[?partial=true].
func (a *API) Audio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := a.jobs.Store().Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	partial, _ := strconv.ParseBool(r.URL.Query().Get("partial"))
	var path, name string
	if partial {
		if job.Status != jobregistry.StatusProcessing || job.CompletedSegments < 1 {
			respondWithError(w, r, apperrors.NotReady("Partial audio not yet available"))
			return
		}
		if job.PartialOutputPath == "" {
			respondWithError(w, r, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "Partial audio file not found"))
			return
		}
		path, name = job.PartialOutputPath, fmt.Sprintf("podcast_%s_partial.wav", id)
	} else {
		if !job.FinalAvailable() {
			respondWithError(w, r, apperrors.NotReady("Podcast not ready yet"))
			return
		}
		path, name = job.OutputPath, fmt.Sprintf("podcast_%s.wav", id)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		respondWithError(w, r, apperrors.New(http.StatusNotFound, apperrors.CodeNotFound, "Audio file not found"))
		return
	}
	defer func() { _ = f.Close() }()
	serveAudio(w, r, f, name)
}

func serveAudio(w http.ResponseWriter, r *http.Request, f *os.File, name string) {
	st, err := f.Stat()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// Share handles GET /api/share/{shareID}.
func (a *API) Share(w http.ResponseWriter, r *http.Request) {
	if a.shares == nil {
		respondWithError(w, r, apperrors.SharingDisabled())
		return
	}
	id := chi.URLParam(r, "shareID")
	if !share.ValidID(id) {
		respondWithError(w, r, share.ErrNotFound)
		return
	}
	info, err := a.shares.Lookup(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if info.Expired {
		respondWithError(w, r, share.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type jobSummary struct {
	JobID     string             `json:"job_id"`
	URL       string             `json:"url"`
	Status    jobregistry.Status `json:"status"`
	Progress  int                `json:"progress"`
	CreatedAt time.Time          `json:"created_at"`
}

// Jobs handles GET /api/jobs.
func (a *API) Jobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.jobs.Store().List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	out := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobSummary{JobID: j.ID, URL: j.URL, Status: j.Status, Progress: j.Progress, CreatedAt: j.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// APIHealth handles GET /api/health.
func APIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Index handles GET /.
func Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Podcast API is running. Use /api/generate to create a podcast.",
	})
}
