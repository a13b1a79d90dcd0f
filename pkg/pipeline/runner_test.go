package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/podcast"
	"github.com/3leaps/quickcast/pkg/share"
	"github.com/3leaps/quickcast/pkg/tts"
)

type fakeScraper struct {
	err error
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*podcast.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &podcast.Article{Title: "Engines", Author: "Ada", Content: "Body", URL: url}, nil
}

type fakeValidator struct{ ok bool }

func (f fakeValidator) Validate(context.Context, string) bool { return f.ok }

type fakeWriter struct {
	lines []podcast.Line
}

func (f *fakeWriter) Generate(context.Context, *podcast.Article, float64) ([]podcast.Line, error) {
	return f.lines, nil
}

// toneSynth returns a 100ms WAV per call and fails on texts listed in fail.
type toneSynth struct {
	fail  map[string]bool
	calls int32
}

func (s *toneSynth) Synthesize(_ context.Context, text string, _ podcast.Voice) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fail[text] {
		return nil, &tts.SynthesisError{Kind: tts.KindFatal, StatusCode: 500, Err: errors.New("boom")}
	}
	pcm := make([]byte, audio.DefaultFormat.ByteRate()/10)
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = byte(i)
		pcm[i+1] = 0x10
	}
	return audio.EncodeBytes(audio.DefaultFormat, pcm), nil
}

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	calls []share.Metadata
}

func (p *fakePublisher) Publish(_ context.Context, path string, meta share.Metadata) (*share.Published, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, meta)
	if p.err != nil {
		return nil, p.err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &share.Published{ShareID: "ab12cd34", Key: "ab12cd34.wav", ExpiresAt: time.Now().Add(72 * time.Hour)}, nil
}

func sixLines() []podcast.Line {
	var lines []podcast.Line
	for i := 0; i < 6; i++ {
		v := podcast.VoiceSarah
		if i%2 == 1 {
			v = podcast.VoiceTheo
		}
		lines = append(lines, podcast.Line{Speaker: v, Text: fmt.Sprintf("line %d", i)})
	}
	return lines
}

type harness struct {
	runner *Runner
	store  *jobregistry.MemoryStore
	synth  *toneSynth
	pub    *fakePublisher
	out    string
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store: jobregistry.NewMemoryStore(),
		synth: &toneSynth{fail: map[string]bool{}},
		out:   t.TempDir(),
	}
	deps := Deps{
		Store:      h.store,
		Scraper:    &fakeScraper{},
		Writer:     &fakeWriter{lines: sixLines()},
		Dispatcher: tts.NewDispatcher(h.synth, tts.WithBatchSize(2)),
		Assembler:  audio.NewAssembler(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	if p, ok := deps.Publisher.(*fakePublisher); ok {
		h.pub = p
	}
	r, err := NewRunner(Config{OutputDir: h.out}, deps)
	require.NoError(t, err)
	h.runner = r
	return h
}

// runAndWatch runs a job synchronously and returns every snapshot the store
// published for it.
func (h *harness) runAndWatch(t *testing.T) (*jobregistry.Job, []*jobregistry.Job, error) {
	t.Helper()
	ctx := context.Background()
	job, err := h.runner.Create(ctx, "https://example.com/post")
	require.NoError(t, err)

	ch, cancel, err := h.store.Subscribe(job.ID)
	require.NoError(t, err)
	defer cancel()

	runErr := h.runner.Run(ctx, job.ID)

	var snaps []*jobregistry.Job
	for s := range ch {
		snaps = append(snaps, s)
	}
	final, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	return final, snaps, runErr
}

func progressOf(snaps []*jobregistry.Job) []int {
	out := make([]int, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Progress)
	}
	return out
}

func TestRunner_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	job, snaps, err := h.runAndWatch(t)
	require.NoError(t, err)

	assert.Equal(t, jobregistry.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "Podcast generation completed!", job.Message)
	assert.Equal(t, h.runner.FinalPath(job.ID), job.OutputPath)
	assert.Equal(t, 6, job.TotalSegments)
	assert.Equal(t, 6, job.CompletedSegments)
	assert.True(t, job.FinalAvailable())
	assert.False(t, job.PartialAvailable())
	assert.Nil(t, job.Share)

	assert.Equal(t, []int{10, 25, 30, 50, 70, 90, 90, 90, 100}, progressOf(snaps))
	assert.Equal(t, "Generating speech for 6 segments...", snaps[2].Message)
	assert.Equal(t, "Generated 2/6 segments...", snaps[3].Message)
	assert.Equal(t, 2, snaps[3].CompletedSegments)
	assert.True(t, snaps[3].PartialAvailable())

	combined, ok := job.Metadata["audio"].(*audio.Combined)
	require.True(t, ok)
	assert.Equal(t, 6, combined.SegmentCount)
	assert.InDelta(t, 6*0.1+5*0.5, combined.Duration, 1e-9)

	info, err := audio.Info(job.OutputPath)
	require.NoError(t, err)
	assert.InDelta(t, 3.1, info.Duration, 1e-6)

	assert.Equal(t, map[string]any{"title": "Engines", "author": "Ada"}, job.Metadata["article"])
	assert.Equal(t, 6, job.Metadata["dialogue_segments"])

	partial, err := audio.Info(h.runner.PartialPath(job.ID))
	require.NoError(t, err, "partial file stays valid after completion")
	assert.InDelta(t, 3.1, partial.Duration, 1e-6)

	left, err := audio.ListSegments(h.runner.JobDir(job.ID))
	require.NoError(t, err)
	assert.Empty(t, left, "segment files are cleaned up")
}

func TestRunner_Publishes(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Publisher = &fakePublisher{} })

	job, snaps, err := h.runAndWatch(t)
	require.NoError(t, err)

	require.NotNil(t, job.Share)
	assert.Equal(t, "ab12cd34", job.Share.ShareID)
	assert.Equal(t, "/s/ab12cd34", job.Share.ShareURL)
	assert.True(t, job.Share.Uploaded)
	assert.Equal(t, "/s/ab12cd34", job.Metadata["share_url"])
	assert.Contains(t, progressOf(snaps), 95)

	require.Len(t, h.pub.calls, 1)
	assert.Equal(t, "Engines", h.pub.calls[0].Title)
	assert.Equal(t, "https://example.com/post", h.pub.calls[0].SourceURL)
	assert.InDelta(t, 3.1, h.pub.calls[0].Duration, 1e-9)
}

func TestRunner_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Publisher = &fakePublisher{err: share.ErrPublish} })

	job, _, err := h.runAndWatch(t)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusCompleted, job.Status)
	assert.Nil(t, job.Share)
	assert.NotContains(t, job.Metadata, "share_id")
}

func TestRunner_DispatchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.fail["line 3"] = true

	job, snaps, err := h.runAndWatch(t)
	require.Error(t, err)

	var derr *tts.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 3, derr.SegmentIndex)

	assert.Equal(t, jobregistry.StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Equal(t, "Failed: "+job.Error, job.Message)
	assert.Empty(t, job.OutputPath)
	assert.Equal(t, 50, job.Progress, "progress from the completed batch is kept")
	assert.Equal(t, 2, job.CompletedSegments)

	p := progressOf(snaps)
	for i := 1; i < len(p); i++ {
		assert.GreaterOrEqual(t, p[i], p[i-1])
	}
}

func TestRunner_ScrapeFailure(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Scraper = &fakeScraper{err: errors.New("403 forbidden")} })

	job, _, err := h.runAndWatch(t)
	require.Error(t, err)
	assert.Equal(t, jobregistry.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "403 forbidden")
	assert.Equal(t, 10, job.Progress)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.synth.calls))
}

type panicAssembler struct{ *audio.Assembler }

func (panicAssembler) CombineFromDirectory(string, string, int) (bool, error) {
	panic("disk on fire")
}

func TestRunner_PartialFailuresAreIgnored(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Assembler = panicAssembler{audio.NewAssembler()} })

	job, snaps, err := h.runAndWatch(t)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusCompleted, job.Status)
	assert.Empty(t, job.PartialOutputPath)
	assert.Equal(t, []int{10, 25, 30, 50, 70, 90, 90, 90, 100}, progressOf(snaps))
}

type panicWriter struct{}

func (panicWriter) Generate(context.Context, *podcast.Article, float64) ([]podcast.Line, error) {
	panic("nil map")
}

func TestRunner_PanicFailsJob(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Writer = panicWriter{} })

	job, _, err := h.runAndWatch(t)
	require.Error(t, err)
	assert.Equal(t, jobregistry.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "panic: nil map")
}

func TestRunner_FailAfterCompletionKeepsJob(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := newHarness(t, func(d *Deps) { d.Logger = zap.New(core) })

	job, _, err := h.runAndWatch(t)
	require.NoError(t, err)
	require.Equal(t, jobregistry.StatusCompleted, job.Status)

	h.runner.fail(job.ID, errors.New("late cleanup panic"))

	got, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Zero(t, logs.FilterMessage("Job failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Ignoring failure for finished job").Len())
}

func TestRunner_SubmitValidatesURL(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Validator = fakeValidator{ok: false} })
	ctx := context.Background()

	_, err := h.runner.Submit(ctx, "not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = h.runner.Submit(ctx, "https://unreachable.example.com")
	assert.ErrorIs(t, err, ErrInvalidURL)

	jobs, _ := h.store.List(ctx)
	assert.Empty(t, jobs, "no job is created for rejected URLs")
}

func TestRunner_SubmitRunsConcurrently(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := h.runner.Submit(ctx, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
		assert.Equal(t, jobregistry.StatusPending, job.Status)
		ids = append(ids, job.ID)
	}
	h.runner.Wait()

	for _, id := range ids {
		job, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, jobregistry.StatusCompleted, job.Status, "job %s", id)
		assert.FileExists(t, filepath.Join(h.out, id, "podcast_"+id+".wav"))
	}
}

func TestRunner_ShutdownRejectsNewJobs(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.runner.Shutdown(context.Background()))

	_, err := h.runner.Submit(context.Background(), "https://example.com/a")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestNewRunner_RequiresDeps(t *testing.T) {
	_, err := NewRunner(Config{}, Deps{})
	assert.Error(t, err)
}
