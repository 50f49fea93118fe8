package framegraph

import (
	"log/slog"

	"github.com/gogpu/framegraph/internal/fglog"
)

// SetLogger configures the logger for framegraph and all its
// sub-packages. By default no log output is produced. Pass nil to
// restore the default silent behavior.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically.
//
// Log levels used:
//   - [slog.LevelDebug]: internal diagnostics (pool allocations, barrier
//     placement, shader compiles)
//   - [slog.LevelInfo]: important lifecycle events (pipeline cache
//     invalidation)
//   - [slog.LevelWarn]: non-fatal issues (pipeline reload kept previous
//     version, resource release errors)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	fglog.SetLogger(l)
}

// Logger returns the current logger. Sub-packages share the same logger
// configuration through internal/fglog, so this always reflects the
// most recent SetLogger call.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return fglog.Logger()
}
