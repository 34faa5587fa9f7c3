package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"artifact-ingest/config"
)

// Setup points the global zerolog logger at stderr and, when a log file is
// configured, at a size-rotated file as well. The returned closer releases
// the file.
func Setup(cfg config.LogConfig) io.Closer {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, rotator)).With().Timestamp().Logger()
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
