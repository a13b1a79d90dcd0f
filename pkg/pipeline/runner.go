// Package pipeline drives article-to-podcast jobs through their stages:
// scrape, script, speech, assembly and optional publishing.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/podcast"
	"github.com/3leaps/quickcast/pkg/scrape"
	"github.com/3leaps/quickcast/pkg/script"
	"github.com/3leaps/quickcast/pkg/share"
	"github.com/3leaps/quickcast/pkg/tts"
)

// Progress checkpoints reported while a job runs.
const (
	ProgressScraping  = 10
	ProgressScripting = 25
	ProgressSpeech    = 30
	ProgressFinalize  = 90
	ProgressUpload    = 95
	ProgressDone      = 100

	speechSpan = ProgressFinalize - ProgressSpeech
)

// Defaults.
const (
	DefaultMaxConcurrent = 4
	DefaultOutputDir     = "output"
)

var (
	// ErrInvalidURL is returned by Submit for malformed or unreachable URLs.
	ErrInvalidURL = errors.New("invalid or inaccessible URL")

	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("runner is shutting down")
)

// Scraper fetches an article.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*podcast.Article, error)
}

// Validator cheaply probes whether a URL is reachable.
type Validator interface {
	Validate(ctx context.Context, url string) bool
}

// ScriptWriter turns an article into dialogue.
type ScriptWriter interface {
	Generate(ctx context.Context, art *podcast.Article, minutes float64) ([]podcast.Line, error)
}

// SpeechDispatcher renders dialogue lines to segment files.
type SpeechDispatcher interface {
	Dispatch(ctx context.Context, dir string, lines []podcast.Line, onProgress tts.ProgressFunc) ([]audio.Segment, error)
}

// Assembler combines segment files.
type Assembler interface {
	Combine(segments []audio.Segment, outputPath string) (*audio.Combined, error)
	CombineFromDirectory(dir, outputPath string, maxSegments int) (bool, error)
	Normalize(path string) error
}

// Publisher uploads finished podcasts for sharing.
type Publisher interface {
	Publish(ctx context.Context, path string, meta share.Metadata) (*share.Published, error)
}

// Config holds runner settings.
type Config struct {
	OutputDir     string
	TargetMinutes float64
	MaxConcurrent int
	KeepSegments  bool
}

// Deps are the collaborators a Runner drives. Publisher and Validator are
// optional.
type Deps struct {
	Store      jobregistry.Store
	Scraper    Scraper
	Validator  Validator
	Writer     ScriptWriter
	Dispatcher SpeechDispatcher
	Assembler  Assembler
	Publisher  Publisher
	Logger     *zap.Logger
}

// Runner executes jobs on a bounded pool of background tasks.
type Runner struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewRunner validates deps and returns a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: job store is required")
	case deps.Scraper == nil:
		return nil, errors.New("pipeline: scraper is required")
	case deps.Writer == nil:
		return nil, errors.New("pipeline: script writer is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: speech dispatcher is required")
	case deps.Assembler == nil:
		return nil, errors.New("pipeline: assembler is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.TargetMinutes <= 0 {
		cfg.TargetMinutes = script.DefaultTargetMinutes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Store returns the job store the runner writes to.
func (r *Runner) Store() jobregistry.Store { return r.deps.Store }

// SharingEnabled reports whether finished podcasts are published.
func (r *Runner) SharingEnabled() bool { return r.deps.Publisher != nil }

// JobDir returns the working directory for a job.
func (r *Runner) JobDir(id string) string {
	return filepath.Join(r.cfg.OutputDir, id)
}

// FinalPath returns where the finished podcast for job id is written.
func (r *Runner) FinalPath(id string) string {
	return filepath.Join(r.JobDir(id), fmt.Sprintf("podcast_%s.wav", id))
}

// PartialPath returns where the progressive preview for job id is written.
func (r *Runner) PartialPath(id string) string {
	return filepath.Join(r.JobDir(id), fmt.Sprintf("podcast_%s_partial.wav", id))
}

// Validate checks that rawURL is a well-formed http(s) URL and, when a
// Validator is configured, that it is reachable.
func (r *Runner) Validate(ctx context.Context, rawURL string) error {
	if err := scrape.CheckURL(rawURL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if r.deps.Validator != nil && !r.deps.Validator.Validate(ctx, rawURL) {
		return ErrInvalidURL
	}
	return nil
}

// Create validates rawURL and registers a pending job without starting it.
func (r *Runner) Create(ctx context.Context, rawURL string) (*jobregistry.Job, error) {
	if err := r.Validate(ctx, rawURL); err != nil {
		return nil, err
	}
	return r.register(ctx, rawURL)
}

func (r *Runner) register(ctx context.Context, rawURL string) (*jobregistry.Job, error) {
	job := jobregistry.NewJob(rawURL, time.Now())
	if err := r.deps.Store.Create(ctx, job); err != nil {
		return nil, errors.Wrap(err, "register job")
	}
	return job, nil
}

// Submit creates a job for rawURL and schedules it. The returned snapshot is
// still pending; poll the store for progress.
func (r *Runner) Submit(ctx context.Context, rawURL string) (*jobregistry.Job, error) {
	if err := r.Validate(ctx, rawURL); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShuttingDown
	}
	job, err := r.register(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func(id string) {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.fail(id, errors.Wrap(err, "job not started"))
			return
		}
		defer r.sem.Release(1)
		_ = r.Run(r.ctx, id)
	}(job.ID)

	r.log.Info("Job submitted", zap.String("job_id", job.ID), zap.String("url", rawURL))
	return job, nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones. If ctx expires
// first, in-flight jobs are cancelled and reported as failed.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes job id synchronously and returns its terminal error, if any.
// The job's failure is also recorded in the store.
func (r *Runner) Run(ctx context.Context, id string) (err error) {
	log := r.log.With(zap.String("job_id", id))

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("panic: %v", p)
			log.Error("Job panicked", zap.Any("panic", p))
		}
		if err != nil {
			r.fail(id, err)
		}
	}()

	return r.execute(ctx, id, log)
}

func (r *Runner) execute(ctx context.Context, id string, log *zap.Logger) error {
	job, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Status = jobregistry.StatusProcessing
		j.Progress = ProgressScraping
		j.Message = "Scraping article content..."
	})
	if err != nil {
		return err
	}
	log.Info("Job started", zap.String("url", job.URL))

	art, err := r.deps.Scraper.Scrape(ctx, job.URL)
	if err != nil {
		return errors.Wrap(err, "scrape article")
	}

	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Metadata["article"] = map[string]any{"title": art.Title, "author": art.Author}
		j.Progress = ProgressScripting
		j.Message = "Generating podcast script..."
	}); err != nil {
		return err
	}

	lines, err := r.deps.Writer.Generate(ctx, art, r.cfg.TargetMinutes)
	if err != nil {
		return errors.Wrap(err, "generate script")
	}
	if len(lines) == 0 {
		return script.ErrNoDialogue
	}

	total := len(lines)
	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Metadata["estimated_duration"] = script.EstimateDuration(lines)
		j.Metadata["dialogue_segments"] = total
		j.TotalSegments = total
		j.Progress = ProgressSpeech
		j.Message = fmt.Sprintf("Generating speech for %d segments...", total)
	}); err != nil {
		return err
	}
	log.Info("Script ready", zap.Int("segments", total))

	dir := r.JobDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create job dir")
	}

	segments, err := r.deps.Dispatcher.Dispatch(ctx, dir, lines, r.onProgress(ctx, id, dir, log))
	if err != nil {
		return err
	}

	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Progress = ProgressFinalize
		j.Message = "Finalizing audio..."
	}); err != nil {
		return err
	}

	out := r.FinalPath(id)
	combined, err := r.deps.Assembler.Combine(segments, out)
	if err != nil {
		return errors.Wrap(err, "combine audio")
	}
	if err := r.deps.Assembler.Normalize(out); err != nil {
		return errors.Wrap(err, "normalize audio")
	}
	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Metadata["audio"] = combined
	}); err != nil {
		return err
	}

	shareInfo := r.publish(ctx, id, out, art, job.URL, combined.Duration, log)

	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		if shareInfo != nil {
			j.Share = shareInfo
			j.Metadata["share_id"] = shareInfo.ShareID
			j.Metadata["share_url"] = shareInfo.ShareURL
		}
		j.Status = jobregistry.StatusCompleted
		j.Progress = ProgressDone
		j.Message = "Podcast generation completed!"
		j.OutputPath = out
	}); err != nil {
		return err
	}
	log.Info("Job completed",
		zap.String("output", out),
		zap.Float64("duration", combined.Duration))

	if !r.cfg.KeepSegments {
		r.cleanup(dir, log)
	}
	return nil
}

// onProgress maps dispatcher progress into the 30-90 band and rebuilds the
// progressive preview. Preview failures never affect the job.
func (r *Runner) onProgress(ctx context.Context, id, dir string, log *zap.Logger) tts.ProgressFunc {
	partial := r.PartialPath(id)
	return func(completed, total int) {
		built := r.rebuildPartial(dir, partial, completed, log)

		_, err := r.update(ctx, id, func(j *jobregistry.Job) {
			j.CompletedSegments = completed
			j.Progress = ProgressSpeech + int(float64(completed)/float64(total)*speechSpan)
			j.Message = fmt.Sprintf("Generated %d/%d segments...", completed, total)
			if built {
				j.PartialOutputPath = partial
			}
		})
		if err != nil {
			log.Warn("Failed to record progress", zap.Error(err))
		}
	}
}

func (r *Runner) rebuildPartial(dir, partial string, completed int, log *zap.Logger) (built bool) {
	if completed < 1 {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			log.Warn("Partial audio rebuild panicked", zap.Any("panic", p))
			built = false
		}
	}()
	ok, err := r.deps.Assembler.CombineFromDirectory(dir, partial, completed)
	if err != nil {
		log.Warn("Failed to create partial audio", zap.Error(err))
		return false
	}
	return ok
}

func (r *Runner) publish(ctx context.Context, id, path string, art *podcast.Article, sourceURL string, duration float64, log *zap.Logger) *jobregistry.ShareInfo {
	if r.deps.Publisher == nil {
		return nil
	}
	if _, err := r.update(ctx, id, func(j *jobregistry.Job) {
		j.Progress = ProgressUpload
		j.Message = "Uploading for sharing..."
	}); err != nil {
		log.Warn("Failed to record upload stage", zap.Error(err))
	}

	title := art.Title
	if title == "" {
		title = share.DefaultTitle
	}
	pub, err := r.safePublish(ctx, path, share.Metadata{
		Title:     title,
		Author:    art.Author,
		SourceURL: sourceURL,
		Duration:  duration,
	})
	if err != nil {
		log.Warn("Failed to publish podcast", zap.Error(err))
		return nil
	}
	log.Info("Podcast published", zap.String("share_id", pub.ShareID))
	return &jobregistry.ShareInfo{
		ShareID:   pub.ShareID,
		ShareURL:  "/s/" + pub.ShareID,
		Uploaded:  true,
		ExpiresAt: pub.ExpiresAt,
	}
}

func (r *Runner) safePublish(ctx context.Context, path string, meta share.Metadata) (pub *share.Published, err error) {
	defer func() {
		if p := recover(); p != nil {
			pub, err = nil, errors.Newf("publish panicked: %v", p)
		}
	}()
	return r.deps.Publisher.Publish(ctx, path, meta)
}

// cleanup removes every segment file left in dir. Failures are ignored.
func (r *Runner) cleanup(dir string, log *zap.Logger) {
	files, err := audio.ListSegments(dir)
	if err != nil {
		log.Debug("Failed to list segments", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Debug("Failed to remove segment", zap.String("path", path), zap.Error(err))
		}
	}
}

func (r *Runner) update(ctx context.Context, id string, fn func(*jobregistry.Job)) (*jobregistry.Job, error) {
	return r.deps.Store.Update(ctx, id, func(j *jobregistry.Job) error {
		fn(j)
		return nil
	})
}

// fail records err on the job. It uses a fresh context so cancellation of
// the job itself can still be recorded.
func (r *Runner) fail(id string, err error) {
	_, uerr := r.deps.Store.Update(context.Background(), id, func(j *jobregistry.Job) error {
		j.Status = jobregistry.StatusFailed
		j.Error = err.Error()
		j.Message = "Failed: " + err.Error()
		return nil
	})
	if errors.Is(uerr, jobregistry.ErrTerminal) {
		r.log.Debug("Ignoring failure for finished job", zap.String("job_id", id), zap.Error(err))
		return
	}
	if uerr != nil {
		r.log.Error("Failed to record job failure",
			zap.String("job_id", id),
			zap.NamedError("job_error", err),
			zap.Error(uerr))
		return
	}
	r.log.Warn("Job failed", zap.String("job_id", id), zap.Error(err))
}
