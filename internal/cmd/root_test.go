package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2026-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitCode(t *testing.T) {
	cause := errors.New("boom")

	t.Run("coded error", func(t *testing.T) {
		err := exitError(foundry.ExitInvalidArgument, "Invalid configuration", cause)
		assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "Invalid configuration: boom")
	})

	t.Run("wrapped coded error", func(t *testing.T) {
		err := exitError(foundry.ExitSignalInt, "Interrupted", cause)
		wrapped := errors.Join(errors.New("outer"), err)
		assert.Equal(t, foundry.ExitSignalInt, ExitCode(wrapped))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, 1, ExitCode(cause))
	})
}

func newOverrideCmd(t *testing.T) *cobra.Command {
	t.Helper()
	origLevel, origProfile := logLevel, logProfile
	t.Cleanup(func() { logLevel, logProfile = origLevel, origProfile })

	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&logLevel, "log-level", "", "")
	c.Flags().StringVar(&logProfile, "log-profile", "", "")
	c.Flags().String("host", "", "")
	c.Flags().Int("port", 0, "")
	c.Flags().Float64("minutes", 0, "")
	c.Flags().Bool("keep-segments", false, "")
	c.Flags().String("output-dir", "", "")
	return c
}

func TestConfigOverrides(t *testing.T) {
	t.Run("no flags changed", func(t *testing.T) {
		c := newOverrideCmd(t)
		assert.Empty(t, configOverrides(c))
	})

	t.Run("changed flags only", func(t *testing.T) {
		c := newOverrideCmd(t)
		require.NoError(t, c.Flags().Set("log-level", "debug"))
		require.NoError(t, c.Flags().Set("port", "8080"))
		require.NoError(t, c.Flags().Set("minutes", "2.5"))
		require.NoError(t, c.Flags().Set("keep-segments", "true"))

		got := configOverrides(c)
		assert.Equal(t, map[string]any{"level": "debug"}, got["logging"])
		assert.Equal(t, map[string]any{"port": "8080"}, got["server"])
		assert.Equal(t, map[string]any{"target_minutes": "2.5", "keep_segments": "true"}, got["podcast"])
	})

	t.Run("commands without the flags", func(t *testing.T) {
		c := &cobra.Command{Use: "bare"}
		assert.Empty(t, commandOverrides(c))
	})
}

func TestCommandOverrides_CommandFlags(t *testing.T) {
	cases := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{generateCmd, []string{"minutes", "keep-segments", "output-dir"}},
		{scriptCmd, []string{"minutes"}},
		{serveCmd, []string{"host", "port"}},
	}
	for _, tc := range cases {
		t.Run(tc.cmd.Name(), func(t *testing.T) {
			for _, name := range tc.flags {
				assert.NotNil(t, tc.cmd.Flags().Lookup(name), name)
			}

			// Copies share no state with the registered command.
			c := &cobra.Command{Use: tc.cmd.Name()}
			tc.cmd.Flags().VisitAll(func(f *pflag.Flag) {
				c.Flags().AddFlag(&pflag.Flag{Name: f.Name, Value: newValueLike(t, f)})
			})
			assert.Empty(t, commandOverrides(c))

			require.NoError(t, c.Flags().Set(tc.flags[0], "1"))
			assert.NotEmpty(t, commandOverrides(c))
		})
	}
}

// newValueLike returns a fresh flag value of the same type as f.
func newValueLike(t *testing.T, f *pflag.Flag) pflag.Value {
	t.Helper()
	fs := pflag.NewFlagSet("copy", pflag.ContinueOnError)
	switch f.Value.Type() {
	case "float64":
		fs.Float64(f.Name, 0, "")
	case "bool":
		fs.Bool(f.Name, false, "")
	case "int":
		fs.Int(f.Name, 0, "")
	default:
		fs.String(f.Name, "", "")
	}
	return fs.Lookup(f.Name).Value
}
