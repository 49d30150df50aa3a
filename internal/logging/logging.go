// ABOUTME: zerolog construction for the CLI
// ABOUTME: Console or JSON output, optional log file, level from config
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/config"
	"github.com/rs/zerolog"
)

// New creates a zerolog logger writing to console (if non-nil) and to the
// configured file (if any). The returned closer releases the file.
func New(cfg config.LogConfig, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	if console != nil {
		if cfg.Format == "json" {
			writers = append(writers, console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		logFile, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		writers = append(writers, logFile)
		closer = logFile
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).Level(level).With().Timestamp().Logger(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
