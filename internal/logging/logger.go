package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/logring"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global slog logger from config. When ring is
// non-nil, records are also captured there for the ops log endpoint.
// Returns the lumberjack logger (if file logging) so it can be closed
// on shutdown.
func Setup(cfg config.LoggingConfig, ring *logring.RingBuffer) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	lvl := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if ring != nil {
		handler = logring.NewTeeHandler(handler, ring)
	}

	slog.SetDefault(slog.New(handler))
	return lj
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
