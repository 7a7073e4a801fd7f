package logger

import (
	"io"
	"log/slog"
)

func effectiveLevel(cfg Config) slog.Level {
	if cfg.Debug && cfg.Level == 0 {
		return slog.LevelDebug
	}
	return cfg.Level
}

func newStdHandler(w io.Writer, cfg Config) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     effectiveLevel(cfg),
		AddSource: cfg.AddSource,
	})
}
