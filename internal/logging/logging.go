// Package logging owns the process logger.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger = logrus.New()
	mu     sync.Mutex
	file   *os.File
)

// Init sets the level and, when path is not empty, tees output into that file.
// Unknown levels fall back to info.
func Init(level, path string) {
	mu.Lock()
	defer mu.Unlock()

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if path == "" {
		logger.SetOutput(os.Stdout)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logger.SetOutput(os.Stdout)
		logger.WithError(err).Warn("failed to log to file, using stdout")
		return
	}
	if file != nil {
		file.Close()
	}
	file = f
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
}

// L returns the process logger.
func L() *logrus.Logger {
	return logger
}

func With(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Close releases the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	logger.SetOutput(os.Stdout)
}
