// Package logging configures the process logger: structured logrus output
// to stderr plus a rotated file.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. When path is non-empty, output also goes
// to a size-rotated file there. An unknown level falls back to info.
func New(path, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}

	return logger
}
