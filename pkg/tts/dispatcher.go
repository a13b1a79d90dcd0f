package tts

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/podcast"
)

// DefaultBatchSize is the number of lines synthesized concurrently.
const DefaultBatchSize = 2

// ProgressFunc receives the number of completed segments after each batch.
type ProgressFunc func(completed, total int)

// Dispatcher synthesizes a script in consecutive batches. Batches run one
// after another; the lines of a batch are synthesized concurrently, so at
// most BatchSize calls are in flight.
type Dispatcher struct {
	synth     Synthesizer
	batchSize int
	logger    *zap.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets the batch size. Values below 1 keep the default.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithDispatchLogger sets the dispatcher logger.
func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher returns a Dispatcher that renders lines with synth.
func NewDispatcher(synth Synthesizer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		synth:     synth,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BatchSize returns the configured batch size.
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Dispatch renders every line into dir and returns the segments in script
// order. onProgress, when non-nil, is called synchronously once per finished
// batch before the next batch starts. If any line of a batch fails, Dispatch
// waits for the rest of that batch and returns a *DispatchError for the
// lowest failing index; no segments are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, dir string, lines []podcast.Line, onProgress ProgressFunc) ([]audio.Segment, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create segment dir")
	}

	total := len(lines)
	out := make([]audio.Segment, total)

	d.logger.Info("Dispatching speech synthesis",
		zap.Int("segments", total),
		zap.Int("batch_size", d.batchSize))

	for start := 0; start < total; start += d.batchSize {
		end := start + d.batchSize
		if end > total {
			end = total
		}

		if err := ctx.Err(); err != nil {
			return nil, &DispatchError{SegmentIndex: start, Err: err}
		}

		errs := make([]error, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				seg, err := d.render(ctx, dir, idx, lines[idx])
				if err != nil {
					errs[idx-start] = err
					return
				}
				out[idx] = seg
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				d.logger.Error("Segment synthesis failed",
					zap.Int("segment", start+i),
					zap.Error(err))
				return nil, &DispatchError{SegmentIndex: start + i, Err: err}
			}
		}

		d.logger.Debug("Batch complete",
			zap.Int("completed", end),
			zap.Int("total", total))
		if onProgress != nil {
			onProgress(end, total)
		}
	}

	return out, nil
}

func (d *Dispatcher) render(ctx context.Context, dir string, idx int, line podcast.Line) (audio.Segment, error) {
	if err := line.Validate(); err != nil {
		return audio.Segment{}, err
	}

	data, err := d.synth.Synthesize(ctx, line.Text, line.Speaker)
	if err != nil {
		return audio.Segment{}, err
	}

	path := filepath.Join(dir, audio.SegmentFileName(idx, line.Speaker.String()))
	if err := audio.WriteFileAtomic(path, data); err != nil {
		return audio.Segment{}, errors.Wrapf(err, "write segment %d", idx)
	}

	return audio.Segment{
		Index:    idx,
		Speaker:  line.Speaker.String(),
		Text:     line.Text,
		Path:     path,
		Duration: audio.DurationFromSize(len(data)),
	}, nil
}
