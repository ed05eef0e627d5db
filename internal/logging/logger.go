package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encodings accepted by Options.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const defaultOutput = "stderr"

// Options select the level, encoding, destination and name of a logger.
type Options struct {
	Level  string
	Format string
	// Output is a zap sink path; empty writes to stderr so stdout stays free for command output.
	Output string
	Name   string
}

// ParseLevel maps a level name onto a zap level. Unknown names read as info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidFormat reports whether format names a supported encoding. Empty means json.
func ValidFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON, FormatConsole:
		return true
	}
	return false
}

// New returns a zap logger built from the production config. The console format swaps in
// the human-readable development encoder for interactive use.
func New(options Options) (*zap.Logger, error) {
	if !ValidFormat(options.Format) {
		return nil, fmt.Errorf("unsupported log format %q", options.Format)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(options.Level))
	if strings.EqualFold(strings.TrimSpace(options.Format), FormatConsole) {
		cfg.Encoding = FormatConsole
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.Sampling = nil
	}
	output := strings.TrimSpace(options.Output)
	if output == "" {
		output = defaultOutput
	}
	cfg.OutputPaths = []string{output}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(options.Name); name != "" {
		logger = logger.Named(name)
	}
	return logger, nil
}
