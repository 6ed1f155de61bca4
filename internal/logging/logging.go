// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the global logger and returns a closer for the log file, if any.
// Output always goes to stderr; with cfg.File set it is also written to a rotating file.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var console io.Writer = os.Stderr
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	out, closer, err := writer(cfg, console)
	if err != nil {
		return nil, err
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

func writer(cfg config.LoggingConfig, console io.Writer) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		return console, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	// the file always gets JSON lines
	return zerolog.MultiLevelWriter(console, file), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
