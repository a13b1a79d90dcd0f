package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionExtended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if !versionExtended {
			_, err := fmt.Fprintf(w, "quickcast %s\n", versionInfo.Version)
			return err
		}
		_, err := fmt.Fprintf(w, "quickcast %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate,
			runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "Include commit, build date and toolchain")
}
