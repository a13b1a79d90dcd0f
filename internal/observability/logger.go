package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ProfileStructured emits JSON lines.
	ProfileStructured = "STRUCTURED"

	// ProfileConsole emits human-readable lines.
	ProfileConsole = "CONSOLE"
)

// CLILogger is the process-wide logger used by commands. It is replaced by
// InitCLILogger once configuration has been read.
var CLILogger = zap.NewNop()

// NewLogger builds a zap logger for the given level and profile.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// InitCLILogger replaces CLILogger. On failure CLILogger is left untouched.
func InitCLILogger(level, profile string) error {
	l, err := NewLogger(level, profile)
	if err != nil {
		return err
	}
	CLILogger = l.Named("quickcast")
	return nil
}
