// Package logging provides the shared structured logger for all Lambda
// handlers. Output is JSON on stdout so CloudWatch ingests one event per line.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger at Info level.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
