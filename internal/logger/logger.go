package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/confera-app/backend/internal/config"
)

// Setup configures the global logrus logger from the logging config.
// Services use the package-level logrus functions with structured fields.
func Setup(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logrus.SetOutput(output(cfg))
}

func output(cfg config.LoggingConfig) io.Writer {
	switch cfg.Output {
	case "file":
		return fileWriter(cfg)
	case "both":
		return io.MultiWriter(os.Stdout, fileWriter(cfg))
	default:
		return os.Stdout
	}
}

func fileWriter(cfg config.LoggingConfig) io.Writer {
	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.WithError(err).Error("Failed to create log directory, falling back to stdout")
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}
