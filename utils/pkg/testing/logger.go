package reflectortesting

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// NewLogger returns a debug-level logger for tests.
func NewLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))
}
