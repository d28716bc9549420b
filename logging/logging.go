package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"reels-pipeline/config"
)

// Setup points the standard logrus logger at stdout plus a rotating file
// under logDir. The returned closer flushes the file.
func Setup(cfg config.LogConfig, logDir string) (io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "reels.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithField("level", cfg.Level).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	return logFile, nil
}

// Stage returns a logger tagged with a pipeline stage name.
func Stage(name string) *logrus.Entry {
	return logrus.WithField("stage", name)
}
