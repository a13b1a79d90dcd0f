package cmd

import (
	"context"
	"fmt"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/internal/config"
	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/internal/server/handlers"
	"github.com/3leaps/quickcast/pkg/preflight"
)

var doctorProbe string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and configuration and suggest
fixes for common issues.

Examples:
  quickcast doctor
  quickcast doctor --config ./quickcast.yaml
  quickcast doctor --probe write-probe   # also upload and delete a probe object`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProbe, "probe", string(preflight.ModeReadSafe), "Share store preflight mode (plan-only|read-safe|write-probe)")
}

// doctorCheck is one diagnostic. detail is shown on success; a non-nil
// error marks the check failed.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (detail string, err error)
}

func doctorChecks(cfg *config.Config, probe preflight.Mode) []doctorCheck {
	checks := []doctorCheck{
		{"Go version", func(context.Context) (string, error) { return runtime.Version(), nil }},
		{"Crucible access", func(context.Context) (string, error) {
			v := crucible.GetVersion()
			if v.Crucible == "" {
				return "", fmt.Errorf("cannot access Crucible")
			}
			return "v" + v.Crucible, nil
		}},
		{"Gofulmen access", func(context.Context) (string, error) {
			v := crucible.GetVersion()
			if v.Gofulmen == "" {
				return "", fmt.Errorf("cannot access Gofulmen")
			}
			return "v" + v.Gofulmen, nil
		}},
		{"Environment", func(context.Context) (string, error) {
			return runtime.GOOS + "/" + runtime.GOARCH, nil
		}},
		{"Output directory", func(ctx context.Context) (string, error) {
			if err := (handlers.DirWritableChecker{Dir: cfg.Podcast.OutputDir}).CheckHealth(ctx); err != nil {
				return "", err
			}
			return cfg.Podcast.OutputDir, nil
		}},
		{"OpenAI API key", keyCheck("openai.api_key", cfg.OpenAI.APIKey)},
		{"Speechmatics API key", keyCheck("speechmatics.api_key", cfg.Speechmatics.APIKey)},
		{"Share backend", func(ctx context.Context) (string, error) {
			backend := cfg.ShareBackend()
			if backend == config.BackendDisabled {
				return "disabled", nil
			}
			shares, err := newSharing(ctx, cfg, zap.NewNop())
			if err != nil {
				return "", err
			}
			defer func() { _ = shares.Close() }()
			rec, err := preflight.ShareStore(ctx, shares.store, backend, preflight.Spec{Mode: probe})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%s, %d checks)", backend, rec.Mode, len(rec.Results)), nil
		}},
	}
	if cfg.ShareBackend() == config.BackendS3 && cfg.Share.S3.AccessKeyID == "" {
		checks = append(checks, doctorCheck{"AWS credentials", awsCredentialCheck})
	}
	return checks
}

func keyCheck(name, key string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%s is not set", name)
		}
		return maskAccessKey(key), nil
	}
}

func awsCredentialCheck(ctx context.Context) (string, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot load AWS config: %w", err)
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot retrieve credentials: %w", err)
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s via %s", maskAccessKey(creds.AccessKeyID), source), nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	log.Info("=== quickcast doctor ===")

	probe, err := preflight.ParseMode(doctorProbe)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --probe", err)
	}
	checks := doctorChecks(appConfig, probe)
	failed := 0
	for i, c := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, err := c.run(cmd.Context())
		if err != nil {
			failed++
			log.Error(prefix+" failed", zap.String("check", c.name), zap.Error(err))
			continue
		}
		log.Info(prefix+" ok", zap.String("check", c.name), zap.String("detail", detail))
	}

	if failed > 0 {
		printDoctorHelp()
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed",
			fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("All checks passed")
	return nil
}

// maskAccessKey masks all but the last 4 characters of a key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printDoctorHelp() {
	log := observability.CLILogger
	log.Info("API keys: set OPENAI_API_KEY and SPEECHMATICS_API_KEY, or openai.api_key and speechmatics.api_key in quickcast.yaml")
	log.Info("R2 sharing: set R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME")
	log.Info("S3 sharing: set share.s3.bucket, and AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY or an AWS profile")
}
