// Package logging holds the process-wide slog logger. Configure swaps the
// handler once at startup; everything else reads it through L or For.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level string
	JSON  bool

	// Writer overrides the destination (stderr when nil). Tests use this.
	Writer io.Writer
}

var def atomic.Value

func init() {
	def.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

func Configure(opts Options) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, cfg)
	} else {
		h = slog.NewTextHandler(w, cfg)
	}
	def.Store(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// For returns the default logger tagged with a component name, e.g.
// For("driver") or For("artifact").
func For(component string) *slog.Logger {
	return L().With("component", component)
}

// InitFromEnv applies VOXPREP_LOG_LEVEL and VOXPREP_LOG_JSON before flag
// parsing has happened, so early startup failures are still readable.
func InitFromEnv() {
	json := false
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("VOXPREP_LOG_JSON"))); err == nil {
		json = b
	}
	Configure(Options{Level: os.Getenv("VOXPREP_LOG_LEVEL"), JSON: json})
}
