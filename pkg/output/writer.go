package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits job events. Implementations must be safe for concurrent use.
type Writer interface {
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	WritePreflight(ctx context.Context, pre *PreflightRecord) error
	Close() error
}

// JSONLWriter writes one record per line to an io.Writer. Lines are never
// interleaved.
type JSONLWriter struct {
	w     io.Writer
	jobID string
	now   func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter returns a writer stamping records with jobID. jobID may be
// empty for records not tied to a job.
func NewJSONLWriter(w io.Writer, jobID string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID, now: time.Now}
}

// SetJobID changes the id stamped on subsequent records.
func (jw *JSONLWriter) SetJobID(id string) {
	jw.mu.Lock()
	jw.jobID = id
	jw.mu.Unlock()
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	if sum.DurationHuman == "" {
		sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	}
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, pre *PreflightRecord) error {
	return jw.writeRecord(ctx, TypePreflight, pre)
}

// Close stops further writes. The underlying writer is left open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}

	line, err := json.Marshal(Record{
		Type:  recordType,
		TS:    jw.now().UTC(),
		JobID: jw.jobID,
		Data:  payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
