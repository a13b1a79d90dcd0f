// Package output writes job events as JSON Lines.
//
// Each line is a typed envelope around one payload so scripts can follow a
// job without parsing log output.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types. The suffix versions the payload shape.
const (
	TypeProgress  = "quickcast.progress.v1"
	TypeError     = "quickcast.error.v1"
	TypeSummary   = "quickcast.summary.v1"
	TypePreflight = "quickcast.preflight.v1"
)

// Record is the envelope of every line.
type Record struct {
	Type  string          `json:"type"`
	TS    time.Time       `json:"ts"`
	JobID string          `json:"job_id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// ProgressRecord reports a committed job update.
type ProgressRecord struct {
	Status            string `json:"status"`
	Progress          int    `json:"progress"`
	Message           string `json:"message"`
	CompletedSegments int    `json:"completed_segments,omitempty"`
	TotalSegments     int    `json:"total_segments,omitempty"`
}

// ErrorRecord reports why a job failed.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidURL  = "INVALID_URL"
	ErrCodeUpstream    = "UPSTREAM"
	ErrCodeInterrupted = "INTERRUPTED"
	ErrCodeInternal    = "INTERNAL"
)

// SummaryRecord is emitted once when a job ends.
type SummaryRecord struct {
	Status        string        `json:"status"`
	URL           string        `json:"url"`
	OutputPath    string        `json:"output_path,omitempty"`
	Segments      int           `json:"segments"`
	ShareID       string        `json:"share_id,omitempty"`
	ShareURL      string        `json:"share_url,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// PreflightRecord lists which share store operations were permitted.
type PreflightRecord struct {
	Backend string                 `json:"backend"`
	Mode    string                 `json:"mode"`
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is one capability check.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Allowed reports whether every check passed.
func (p *PreflightRecord) Allowed() bool {
	for _, r := range p.Results {
		if !r.Allowed {
			return false
		}
	}
	return true
}

// Preflight error codes.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeUnavailable  = "UNAVAILABLE"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")

// WriteError wraps failures to encode or write a record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
