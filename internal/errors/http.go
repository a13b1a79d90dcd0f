// Package errors maps domain failures to the JSON error envelope returned by
// the HTTP API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/share"
)

// Error codes returned in HTTPErrorResponse.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidURL         = "INVALID_URL"
	CodeNotFound           = "NOT_FOUND"
	CodeNotReady           = "NOT_READY"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeSharingDisabled    = "SHARING_DISABLED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorBody is the payload of HTTPErrorResponse.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the body of every non-2xx API response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// APIError is an error that already knows its HTTP status and code.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// New returns an APIError without a cause.
func New(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// InvalidRequest reports a malformed request body or parameter.
func InvalidRequest(message string) *APIError {
	return New(http.StatusBadRequest, CodeInvalidRequest, message)
}

// NotReady reports a resource that exists but cannot be served yet.
func NotReady(message string) *APIError {
	return New(http.StatusBadRequest, CodeNotReady, message)
}

// SharingDisabled reports that no share backend is configured.
func SharingDisabled() *APIError {
	return New(http.StatusServiceUnavailable, CodeSharingDisabled, "Sharing is not configured")
}

// Classify resolves err to a status, code and client-facing message.
// Unrecognized errors become 500 INTERNAL_ERROR without leaking the cause.
func Classify(err error) *APIError {
	var apiErr *APIError
	switch {
	case stderrors.As(err, &apiErr):
		return apiErr
	case stderrors.Is(err, pipeline.ErrInvalidURL):
		return &APIError{Status: http.StatusBadRequest, Code: CodeInvalidURL, Message: "Invalid or inaccessible URL", Err: err}
	case stderrors.Is(err, jobregistry.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Job not found", Err: err}
	case stderrors.Is(err, share.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Podcast not found or expired", Err: err}
	case stderrors.Is(err, pipeline.ErrShuttingDown):
		return &APIError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: "Server is shutting down", Err: err}
	default:
		return &APIError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Internal server error", Err: err}
	}
}

// RespondWithError writes the envelope for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	e := Classify(err)
	WriteJSON(w, e.Status, HTTPErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: requestID(r),
		Details:   e.Details,
	}})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.RequestIDHeader)
}
