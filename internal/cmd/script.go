package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/pkg/podcast"
	"github.com/3leaps/quickcast/pkg/script"
)

var scriptFormat string

var scriptCmd = &cobra.Command{
	Use:   "script <url>",
	Short: "Write the dialogue script for an article without rendering audio",
	Long: `Scrape an article and print the two-host dialogue the language model
writes for it. No speech is synthesized.

Examples:
  quickcast script https://example.com/post
  quickcast script https://example.com/post --format json --minutes 3`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.Flags().StringVar(&scriptFormat, "format", "yaml", "Output format (yaml|json)")
	scriptCmd.Flags().Float64("minutes", 0, "Target podcast length in minutes (default from config)")
}

// scriptDocument is the printed result of the script command.
type scriptDocument struct {
	Article          *podcast.Article `json:"article" yaml:"article"`
	TargetMinutes    float64          `json:"target_minutes" yaml:"target_minutes"`
	EstimatedMinutes float64          `json:"estimated_minutes" yaml:"estimated_minutes"`
	Lines            []podcast.Line   `json:"lines" yaml:"lines"`
}

func runScript(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appConfig
	log := observability.CLILogger

	format := strings.ToLower(strings.TrimSpace(scriptFormat))
	if format != "yaml" && format != "json" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format", fmt.Errorf("unsupported format %q", scriptFormat))
	}
	if cfg.OpenAI.APIKey == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing OpenAI API key", fmt.Errorf("openai.api_key is not set"))
	}

	gen, err := newGenerator(cfg, log)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid OpenAI configuration", err)
	}

	art, err := newScraper(cfg, log).Scrape(ctx, args[0])
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to scrape article", err)
	}

	minutes := cfg.Podcast.TargetMinutes
	lines, err := gen.Generate(ctx, art, minutes)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to generate script", err)
	}

	doc := scriptDocument{
		Article:          art,
		TargetMinutes:    minutes,
		EstimatedMinutes: script.EstimateDuration(lines),
		Lines:            lines,
	}
	if err := writeDocument(cmd.OutOrStdout(), format, doc); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

// writeDocument renders v as yaml or json.
func writeDocument(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
