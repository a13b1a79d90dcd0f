package jobregistry

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a podcast job.
//
// NOTE: These values are returned verbatim by the HTTP API.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Staying in a non-terminal status is allowed so stages can report progress.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ShareInfo records where a finished podcast was published.
type ShareInfo struct {
	ShareID   string    `json:"share_id"`
	ShareURL  string    `json:"share_url"`
	Uploaded  bool      `json:"uploaded"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Job is one article-to-podcast request.
//
// Jobs handed out by a Store are snapshots; mutate through Store.Update.
type Job struct {
	ID                string         `json:"job_id"`
	URL               string         `json:"url"`
	Status            Status         `json:"status"`
	Progress          int            `json:"progress"`
	Message           string         `json:"message"`
	Error             string         `json:"error,omitempty"`
	CompletedSegments int            `json:"completed_segments"`
	TotalSegments     int            `json:"total_segments"`
	OutputPath        string         `json:"output_path,omitempty"`
	PartialOutputPath string         `json:"partial_output_path,omitempty"`
	Metadata          map[string]any `json:"metadata"`
	Share             *ShareInfo     `json:"share,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewJob returns a pending job for url with a fresh id.
func NewJob(url string, now time.Time) *Job {
	return &Job{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    StatusPending,
		Message:   "Job created",
		Metadata:  map[string]any{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Clone returns a copy that shares no mutable state with j. Metadata values
// are copied one level deep; nested maps written by the pipeline are treated
// as immutable once stored.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Metadata = maps.Clone(j.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if j.Share != nil {
		s := *j.Share
		c.Share = &s
	}
	return &c
}

// PartialAvailable reports whether a progressive preview can be served.
func (j *Job) PartialAvailable() bool {
	return j.Status == StatusProcessing && j.CompletedSegments > 0 && j.PartialOutputPath != ""
}

// FinalAvailable reports whether the finished podcast can be served.
func (j *Job) FinalAvailable() bool {
	return j.Status == StatusCompleted && j.OutputPath != ""
}
