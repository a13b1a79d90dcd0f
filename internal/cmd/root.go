package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/internal/config"
	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/internal/server/handlers"
)

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	cfgFile    string
	logLevel   string
	logProfile string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "quickcast",
	Short: "Turn web articles into two-host podcasts",
	Long: `QuickCast scrapes an article, writes a short dialogue between two hosts
with a language model, renders each line with text-to-speech and stitches
the result into a single WAV file. Finished podcasts can be published to
R2/S3 or a local directory for time-limited sharing.

Examples:
  quickcast serve --port 5000
  quickcast generate https://example.com/post --publish
  quickcast script https://example.com/post --format json`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file (default ./quickcast.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log profile (STRUCTURED|CONSOLE)")
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func initApp(cmd *cobra.Command, args []string) error {
	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), configOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("share_backend", cfg.ShareBackend()),
		zap.String("output_dir", cfg.Podcast.OutputDir))
	return nil
}

// configOverrides turns explicitly set flags into runtime overrides, which
// take precedence over the environment and config file.
func configOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	logging := map[string]any{}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		logging["level"] = logLevel
	}
	if f := cmd.Flags().Lookup("log-profile"); f != nil && f.Changed {
		logging["profile"] = logProfile
	}
	if len(logging) > 0 {
		overrides["logging"] = logging
	}
	for path, value := range commandOverrides(cmd) {
		overrides[path] = value
	}
	return overrides
}

// commandOverrides collects subcommand flags that map onto config sections.
func commandOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	server := map[string]any{}
	if f := cmd.Flags().Lookup("host"); f != nil && f.Changed {
		server["host"] = f.Value.String()
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		server["port"] = f.Value.String()
	}
	if len(server) > 0 {
		out["server"] = server
	}

	podcast := map[string]any{}
	if f := cmd.Flags().Lookup("output-dir"); f != nil && f.Changed {
		podcast["output_dir"] = f.Value.String()
	}
	if f := cmd.Flags().Lookup("minutes"); f != nil && f.Changed {
		podcast["target_minutes"] = f.Value.String()
	}
	if f := cmd.Flags().Lookup("keep-segments"); f != nil && f.Changed {
		podcast["keep_segments"] = f.Value.String()
	}
	if len(podcast) > 0 {
		out["podcast"] = podcast
	}
	return out
}

// codedError carries the process exit code for a failed command.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *codedError) Unwrap() error { return e.err }

func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

// ExitCode returns the exit code carried by err, or 1.
func ExitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
