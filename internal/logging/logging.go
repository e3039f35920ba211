package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/tokenquota/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the standard logrus logger. The returned closer flushes the rotating file, if any.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	return configure(log.StandardLogger(), cfg)
}

func configure(logger *log.Logger, cfg config.LoggingConfig) (io.Closer, error) {
	levelName := strings.TrimSpace(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, errLevel := log.ParseLevel(levelName)
	if errLevel != nil {
		return nil, fmt.Errorf("logging: %w", errLevel)
	}
	logger.SetLevel(level)

	if cfg.JSON {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	path := strings.TrimSpace(cfg.File)
	if path == "" {
		logger.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", errMkdir)
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
