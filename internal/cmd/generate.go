package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/output"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/preflight"
)

var (
	generatePublish bool
	generateJSONL   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <url>",
	Short: "Generate a podcast for one article",
	Long: `Run the whole pipeline for one article in the foreground and print the
path of the finished WAV file. With --publish the podcast is also uploaded
to the configured share backend and the share link is printed. With --jsonl
progress and the result are written to stdout as JSON Lines.

Examples:
  quickcast generate https://example.com/post
  quickcast generate https://example.com/post --minutes 3 --publish
  quickcast generate https://example.com/post --jsonl | jq .`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().BoolVar(&generatePublish, "publish", false, "Publish the finished podcast to the share backend")
	// Config overrides; commandOverrides reads these by name.
	generateCmd.Flags().Float64("minutes", 0, "Target podcast length in minutes (default from config)")
	generateCmd.Flags().Bool("keep-segments", false, "Keep per-line segment files after assembly")
	generateCmd.Flags().String("output-dir", "", "Directory for job output (default from config)")
	generateCmd.Flags().BoolVar(&generateJSONL, "jsonl", false, "Write progress and result as JSON Lines")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig
	log := observability.CLILogger
	started := time.Now()

	var events *output.JSONLWriter
	if generateJSONL {
		events = output.NewJSONLWriter(cmd.OutOrStdout(), "")
		defer func() { _ = events.Close() }()
	}

	shares := &sharing{}
	if generatePublish {
		var err error
		shares, err = newSharing(ctx, cfg, log)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Share backend unavailable", err)
		}
		defer func() { _ = shares.Close() }()
		if shares.publisher == nil {
			log.Warn("Sharing is disabled; podcast will only be written locally")
		} else if err := checkShareStore(ctx, shares, cfg.ShareBackend(), events); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Share backend preflight failed", err)
		}
	}

	store := jobregistry.NewMemoryStore()
	runner, err := newRunner(cfg, store, shares.publisher, log)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid pipeline configuration", err)
	}

	job, err := runner.Create(ctx, args[0])
	if err != nil {
		if events != nil {
			_ = events.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeInvalidURL, Message: err.Error(), URL: args[0]})
		}
		return exitError(foundry.ExitInvalidArgument, "Cannot generate podcast", err)
	}
	if events != nil {
		events.SetJobID(job.ID)
	}

	updates, cancel, err := store.Subscribe(job.ID)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot track job", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if events != nil {
			writeProgress(context.WithoutCancel(ctx), events, updates)
			return
		}
		logProgress(log, updates)
	}()

	runErr := runner.Run(ctx, job.ID)
	cancel()
	<-done

	if runErr != nil {
		code, exit := output.ErrCodeUpstream, foundry.ExitExternalServiceUnavailable
		if ctx.Err() != nil {
			code, exit = output.ErrCodeInterrupted, foundry.ExitSignalInt
		} else if errors.Is(runErr, pipeline.ErrInvalidURL) {
			code, exit = output.ErrCodeInvalidURL, foundry.ExitInvalidArgument
		}
		if events != nil {
			_ = events.WriteError(context.WithoutCancel(ctx), &output.ErrorRecord{Code: code, Message: runErr.Error(), URL: job.URL})
		}
		if exit == foundry.ExitSignalInt {
			return exitError(exit, "Generation interrupted", runErr)
		}
		return exitError(exit, "Generation failed", runErr)
	}

	final, err := store.Get(ctx, job.ID)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Job vanished", err)
	}
	if generatePublish && shares.publisher != nil && final.Share == nil {
		log.Warn("Podcast was not published; see earlier warnings")
	}
	if events != nil {
		if err := events.WriteSummary(ctx, summaryRecord(final, time.Since(started))); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	}
	return printGenerated(cmd.OutOrStdout(), final)
}

// checkShareStore fails fast when the share backend rejects reads, so a
// long generation is not wasted on an upload that cannot succeed.
func checkShareStore(ctx context.Context, shares *sharing, backend string, events *output.JSONLWriter) error {
	rec, err := preflight.ShareStore(ctx, shares.store, backend, preflight.Spec{Mode: preflight.ModeReadSafe})
	if events != nil {
		_ = events.WritePreflight(ctx, rec)
	}
	return err
}

// logProgress logs each stage change until updates is closed.
func logProgress(log *zap.Logger, updates <-chan *jobregistry.Job) {
	last := -1
	for j := range updates {
		if j.Progress == last && j.Status == jobregistry.StatusProcessing {
			continue
		}
		last = j.Progress
		fields := []zap.Field{
			zap.String("job_id", j.ID),
			zap.Int("progress", j.Progress),
		}
		if j.TotalSegments > 0 {
			fields = append(fields, zap.Int("segments_done", j.CompletedSegments), zap.Int("segments_total", j.TotalSegments))
		}
		log.Info(j.Message, fields...)
	}
}

// writeProgress emits one record per committed update.
func writeProgress(ctx context.Context, w output.Writer, updates <-chan *jobregistry.Job) {
	for j := range updates {
		_ = w.WriteProgress(ctx, &output.ProgressRecord{
			Status:            string(j.Status),
			Progress:          j.Progress,
			Message:           j.Message,
			CompletedSegments: j.CompletedSegments,
			TotalSegments:     j.TotalSegments,
		})
	}
}

func summaryRecord(j *jobregistry.Job, elapsed time.Duration) *output.SummaryRecord {
	sum := &output.SummaryRecord{
		Status:     string(j.Status),
		URL:        j.URL,
		OutputPath: j.OutputPath,
		Segments:   j.TotalSegments,
		Duration:   elapsed,
	}
	if j.Share != nil && j.Share.Uploaded {
		expires := j.Share.ExpiresAt
		sum.ShareID = j.Share.ShareID
		sum.ShareURL = j.Share.ShareURL
		sum.ExpiresAt = &expires
	}
	return sum
}

func printGenerated(w io.Writer, j *jobregistry.Job) error {
	if _, err := fmt.Fprintln(w, j.OutputPath); err != nil {
		return err
	}
	if j.Share == nil || !j.Share.Uploaded {
		return nil
	}
	_, err := fmt.Fprintf(w, "share: %s %s (expires %s)\n",
		j.Share.ShareID, j.Share.ShareURL, j.Share.ExpiresAt.UTC().Format(time.RFC3339))
	return err
}
