// Package logging builds the logrus loggers used by both commands.
package logging

import (
	"fmt"
	"io"
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ComponentKey is the field rendered as the bracketed prefix of each line.
const ComponentKey = "component"

// Options configures a logger
type Options struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File       string `yaml:"file"`        // Optional log file, rotated by size
	MaxSizeMB  int    `yaml:"max_size_mb"` // Rotation threshold, default 50
	MaxBackups int    `yaml:"max_backups"` // Rotated files kept, default 3
	NoColors   bool   `yaml:"no_colors"`
}

// New creates a logger writing to stderr and, when Options.File is set, to a
// rotated log file as well.
func New(opts Options) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&nested.Formatter{
		FieldsOrder:     []string{ComponentKey},
		HideKeys:        true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		NoColors:        opts.NoColors || opts.File != "",
	})

	var out io.Writer = os.Stderr
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}
	logger.SetOutput(out)
	return logger, nil
}

// Component returns an entry tagged with the component name.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField(ComponentKey, name)
}

// Discard returns a logger that drops everything. Used when callers pass no logger.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
