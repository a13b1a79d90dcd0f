package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/quickcast/internal/config"
	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/provider"
	"github.com/3leaps/quickcast/pkg/provider/file"
	"github.com/3leaps/quickcast/pkg/provider/s3"
	"github.com/3leaps/quickcast/pkg/scrape"
	"github.com/3leaps/quickcast/pkg/script"
	"github.com/3leaps/quickcast/pkg/share"
	"github.com/3leaps/quickcast/pkg/tts"
)

// sharing bundles the share backend. All fields are nil when disabled.
type sharing struct {
	store     provider.ObjectStore
	media     provider.ObjectGetter
	publisher *share.Publisher
}

func (s *sharing) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

func newScraper(cfg *config.Config, log *zap.Logger) *scrape.Scraper {
	return scrape.New(scrape.Config{
		UserAgent:       cfg.Scraper.UserAgent,
		Timeout:         cfg.Scraper.Timeout,
		ValidateTimeout: cfg.Scraper.ValidateTimeout,
	}, log.Named("scrape"))
}

func newGenerator(cfg *config.Config, log *zap.Logger) (*script.Generator, error) {
	return script.NewGenerator(script.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
	}, log.Named("script"))
}

func newDispatcher(cfg *config.Config, log *zap.Logger) (*tts.Dispatcher, error) {
	client, err := tts.NewClient(tts.Config{
		APIKey:            cfg.Speechmatics.APIKey,
		BaseURL:           cfg.Speechmatics.BaseURL,
		MaxAttempts:       cfg.Speechmatics.MaxAttempts,
		BackoffBase:       cfg.Speechmatics.BackoffBase,
		Timeout:           cfg.Speechmatics.Timeout,
		RequestsPerSecond: cfg.Speechmatics.RequestsPerSecond,
	}, tts.WithLogger(log.Named("tts")))
	if err != nil {
		return nil, err
	}
	return tts.NewDispatcher(client,
		tts.WithBatchSize(cfg.Podcast.BatchSize),
		tts.WithDispatchLogger(log.Named("dispatch"))), nil
}

// newSharing opens the configured share backend.
func newSharing(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sharing, error) {
	var (
		store provider.ObjectStore
		media provider.ObjectGetter
	)
	switch backend := cfg.ShareBackend(); backend {
	case config.BackendDisabled:
		return &sharing{}, nil
	case config.BackendR2, config.BackendS3:
		s3cfg, err := cfg.S3Store()
		if err != nil {
			return nil, err
		}
		st, err := s3.New(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s share store: %w", backend, err)
		}
		store = st
	case config.BackendFile:
		st, err := file.New(file.Config{Root: cfg.FileRoot(), BaseURL: cfg.Share.File.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("open file share store: %w", err)
		}
		store, media = st, st
	default:
		return nil, fmt.Errorf("unknown share backend %q", backend)
	}

	pub := share.NewPublisher(store,
		share.WithRetention(cfg.Share.Retention),
		share.WithLookupTTL(cfg.Share.LinkTTL),
		share.WithLogger(log.Named("share")))
	return &sharing{store: store, media: media, publisher: pub}, nil
}

// newRunner assembles the pipeline. pub may be nil.
func newRunner(cfg *config.Config, store jobregistry.Store, pub *share.Publisher, log *zap.Logger) (*pipeline.Runner, error) {
	if err := cfg.RequireGeneration(); err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg, log)
	if err != nil {
		return nil, err
	}
	disp, err := newDispatcher(cfg, log)
	if err != nil {
		return nil, err
	}
	scraper := newScraper(cfg, log)

	deps := pipeline.Deps{
		Store:      store,
		Scraper:    scraper,
		Writer:     gen,
		Dispatcher: disp,
		Assembler:  audio.NewAssembler(audio.WithPause(cfg.Podcast.Pause), audio.WithLogger(log.Named("audio"))),
		Logger:     log.Named("pipeline"),
	}
	if cfg.Scraper.CheckReachable {
		deps.Validator = scraper
	}
	if pub != nil {
		deps.Publisher = pub
	}

	return pipeline.NewRunner(pipeline.Config{
		OutputDir:     cfg.Podcast.OutputDir,
		TargetMinutes: cfg.Podcast.TargetMinutes,
		MaxConcurrent: cfg.Podcast.MaxConcurrent,
		KeepSegments:  cfg.Podcast.KeepSegments,
	}, deps)
}
