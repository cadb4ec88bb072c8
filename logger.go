package annotate

import (
	"log/slog"

	"github.com/voxmed/annotate/internal/logx"
)

// SetLogger configures the logger for annotate and all its
// sub-packages. By default, annotate produces no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging (restore default silent
// behavior).
//
// Log levels used by annotate:
//   - [slog.LevelDebug]: internal diagnostics (batch drains, budget hits,
//     kernel counter values)
//   - [slog.LevelInfo]: lifecycle events (backend kernel initialization)
//   - [slog.LevelWarn]: non-fatal issues (dispatch retries, view-sync
//     failures)
//
// Example:
//
//	// Enable info-level logging to stderr:
//	annotate.SetLogger(slog.Default())
//
//	// Enable debug-level logging for full diagnostics:
//	annotate.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logx.Set(l)
}

// Logger returns the current logger used by annotate.
// Sub-packages call this to share the same logger configuration.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logx.Logger()
}
