// Package logging builds the *log.Logger values handed to each component's
// Config. Output goes to stderr and, when a log file is configured, to a
// size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nekokan/musicwa/internal/config"
)

// Sink owns the shared log output. Close it on exit to release the file.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// Open creates a sink from the log section of the config. Stderr may be
// replaced for tests by passing a non-nil w.
func Open(cfg config.LogConfig, w io.Writer) (*Sink, error) {
	if w == nil {
		w = os.Stderr
	}
	s := &Sink{out: w}
	if cfg.File == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}
	s.file = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	s.out = io.MultiWriter(w, s.file)
	return s, nil
}

// Logger returns a logger with the usual "[component] " prefix.
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
