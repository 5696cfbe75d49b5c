package app

import (
	"io"
	"log/slog"
)

func NewLogger(config AppConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.Level(config.LogLevel),
	}

	if config.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
