package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger logs to stderr and, when withFile is set and a log file is
// configured, to a rotated file. The returned closer releases the file.
func newLogger(cfg *config.Config, stderr io.Writer, withFile bool) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	consoleHandler := tint.NewHandler(stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(stderr),
	})

	if !withFile || cfg.Log.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	if err := utils.EnsureParent(cfg.Log.File); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
	// the file always keeps debug records
	fileHandler := slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)), rotator, nil
}

// setupLogging installs the logger as the process default.
func setupLogging(cfg *config.Config, stderr io.Writer, withFile bool) (func(), error) {
	logger, closer, err := newLogger(cfg, stderr, withFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return func() { _ = closer.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
