package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger. JSON output is for log
// shippers; production always gets it regardless of LOG_FORMAT. The text
// handler stays readable during local development.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "stockflow"))
}
