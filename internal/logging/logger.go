package logging

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/google/wire"
	"github.com/trebuchet-org/txm/internal/domain/config"
)

var LoggingSet = wire.NewSet(
	NewLogger,
)

// NewLogger creates a logger on stderr. TXM_LOG_LEVEL sets the level and
// --debug forces debug with source locations. --json switches to
// timestamped JSON lines.
func NewLogger(cfg *config.RuntimeConfig) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *config.RuntimeConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("TXM_LOG_LEVEL")),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Text output drops the time unless debugging
			if a.Key == slog.TimeKey && len(groups) == 0 && !cfg.Debug && !cfg.JSON {
				return slog.Attr{}
			}
			// Shorten source paths
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = shortPath(source.File)
				}
			}
			return a
		},
	}

	if cfg.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(val string) slog.Level {
	switch strings.ToLower(val) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shortPath returns a shortened version of the file path
func shortPath(file string) string {
	if idx := strings.Index(file, "txm/"); idx != -1 {
		return file[idx+len("txm/"):]
	}
	// Otherwise, relative to this module's root
	_, f, _, _ := runtime.Caller(0)
	if idx := strings.LastIndex(f, "/internal/"); idx != -1 && strings.HasPrefix(file, f[:idx]) {
		return strings.TrimPrefix(file[idx:], "/")
	}
	parts := strings.Split(file, "/")
	return parts[len(parts)-1]
}
