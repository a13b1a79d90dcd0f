package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/internal/server"
	"github.com/3leaps/quickcast/internal/server/handlers"
	"github.com/3leaps/quickcast/pkg/jobregistry"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/preflight"
	"github.com/3leaps/quickcast/pkg/provider"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the QuickCast HTTP API. Jobs run in the background; clients poll
/api/status/{job_id} or subscribe to /api/ws/jobs/{job_id} for progress.

Examples:
  quickcast serve
  quickcast serve --host 127.0.0.1 --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
}

// shareStoreChecker reports whether the share backend answers requests. A
// missing probe object is a healthy answer.
type shareStoreChecker struct {
	store provider.ObjectStore
}

func (c shareStoreChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.Head(ctx, "healthcheck.wav")
	if err == nil || provider.IsNotFound(err) {
		return nil
	}
	return err
}

// drainingChecker fails once shutdown has begun so load balancers stop
// routing new jobs here.
type drainingChecker struct {
	draining *atomic.Bool
}

func (c drainingChecker) CheckHealth(ctx context.Context) error {
	if c.draining.Load() {
		return errors.New("runner is shutting down")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig
	log := observability.CLILogger

	shares, err := newSharing(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open share backend", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Share backend unavailable", err)
	}
	defer func() { _ = shares.Close() }()

	if shares.store != nil {
		rec, err := preflight.ShareStore(ctx, shares.store, cfg.ShareBackend(), preflight.Spec{Mode: preflight.ModeReadSafe})
		if err != nil {
			log.Warn("Share store preflight failed; publishing may not work",
				zap.String("backend", rec.Backend), zap.Error(err))
		}
	}

	store := jobregistry.NewMemoryStore()
	runner, err := newRunner(cfg, store, shares.publisher, log)
	if err != nil {
		log.Error("Failed to build pipeline", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid pipeline configuration", err)
	}

	var draining atomic.Bool
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("output_dir", handlers.DirWritableChecker{Dir: cfg.Podcast.OutputDir})
	health.RegisterChecker("runner", drainingChecker{draining: &draining})
	if shares.store != nil {
		health.RegisterChecker("share_store", shareStoreChecker{store: shares.store})
	}

	opts := []server.Option{
		server.WithJobs(runner),
		server.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		server.WithLogger(log.Named("http")),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if shares.publisher != nil {
		opts = append(opts, server.WithShares(shares.publisher))
	}
	if shares.media != nil {
		opts = append(opts, server.WithMedia(shares.media))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	log.Info("Starting QuickCast",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("share_backend", cfg.ShareBackend()),
		zap.Int("max_concurrent_jobs", cfg.Podcast.MaxConcurrent))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	draining.Store(true)
	log.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	return shutdown(srv, runner, cfg.Server.ShutdownTimeout, log)
}

// shutdown stops the listener first so no new jobs arrive, then waits for
// in-flight jobs within the same deadline.
func shutdown(srv *server.Server, runner *pipeline.Runner, timeout time.Duration, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := runner.Shutdown(ctx); err != nil {
		log.Warn("In-flight jobs cancelled at shutdown deadline", zap.Error(err))
		errs = append(errs, fmt.Errorf("jobs: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return exitError(foundry.ExitSignalInt, "Shutdown incomplete", err)
	}
	log.Info("Shutdown complete")
	return nil
}
