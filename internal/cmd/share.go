package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/pkg/share"
)

var shareFormat string

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Inspect and remove published podcasts",
}

var shareInfoCmd = &cobra.Command{
	Use:   "info <share-id>",
	Short: "Show a published podcast",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareInfo,
}

var shareDeleteCmd = &cobra.Command{
	Use:   "delete <share-id>",
	Short: "Delete a published podcast before it expires",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareDelete,
}

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.AddCommand(shareInfoCmd, shareDeleteCmd)
	shareInfoCmd.Flags().StringVar(&shareFormat, "format", "yaml", "Output format (yaml|json)")
}

func openPublisher(cmd *cobra.Command) (*sharing, error) {
	shares, err := newSharing(cmd.Context(), appConfig, observability.CLILogger)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Share backend unavailable", err)
	}
	if shares.publisher == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Sharing is disabled",
			fmt.Errorf("share.backend resolves to %s", appConfig.ShareBackend()))
	}
	return shares, nil
}

func runShareInfo(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(shareFormat))
	if format != "yaml" && format != "json" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format", fmt.Errorf("unsupported format %q", shareFormat))
	}
	shares, err := openPublisher(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shares.Close() }()

	info, err := shares.publisher.Lookup(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, share.ErrNotFound) {
			return exitError(foundry.ExitFileNotFound, "Share not found", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Share lookup failed", err)
	}
	if err := writeDocument(cmd.OutOrStdout(), format, info); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func runShareDelete(cmd *cobra.Command, args []string) error {
	shares, err := openPublisher(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shares.Close() }()

	if err := shares.publisher.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, share.ErrNotFound) {
			return exitError(foundry.ExitInvalidArgument, "Invalid share id", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Share delete failed", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
