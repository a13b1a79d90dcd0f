package tts

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrSynthesisFailed marks any synthesis failure that was not recovered.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// Kind classifies a synthesis failure for retry decisions.
type Kind int

const (
	// KindFatal failures are returned immediately.
	KindFatal Kind = iota

	// KindRetryable failures are transient service conditions (429/503).
	KindRetryable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// SynthesisError describes a failed call to the speech service.
type SynthesisError struct {
	Kind       Kind
	Voice      string
	StatusCode int
	Attempts   int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	msg := fmt.Sprintf("synthesize %s", e.Voice)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Is makes every SynthesisError match ErrSynthesisFailed.
func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesisFailed
}

// Retryable reports whether the failure should be attempted again.
func (e *SynthesisError) Retryable() bool {
	return e.Kind == KindRetryable
}

// IsRetryable reports whether err is a transient synthesis failure.
func IsRetryable(err error) bool {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// classifyStatus maps an HTTP status from the speech service to a Kind.
func classifyStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return KindRetryable
	default:
		return KindFatal
	}
}

// DispatchError reports the segment that stopped a dispatch.
type DispatchError struct {
	SegmentIndex int
	Err          error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.SegmentIndex, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
