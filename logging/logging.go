// Package logging builds the structured logger shared by the sync engine.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the engine logger.
type Options struct {
	// Level is a logrus level name. Unknown values fall back to info.
	Level string

	// File, when set, routes output to a size-rotated log file instead
	// of stderr.
	File string

	// MaxSizeMB and MaxBackups bound the rotated file set. Zero values
	// use 10 MB and 3 backups.
	MaxSizeMB  int
	MaxBackups int
}

// New builds a logger from the options. It never fails: bad options
// degrade to an info-level stderr logger.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var out io.Writer = os.Stderr
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetOutput(out)

	return logger
}
