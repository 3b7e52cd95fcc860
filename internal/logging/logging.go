// Package logging sets up the daemon's slog logger: a plain text
// handler to stderr, colored by level when stderr is a terminal. The
// teacher repo logs through slog's zero-value default logger; this
// package is the one place fswatchd configures it, so that the level
// coloring (and the client-broadcast tee installed by
// internal/clienttable.SlogHandler) are both wired through the same
// handler chain.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for level names when writing to a terminal.
const (
	colorReset  = "\x1b[0m"
	colorGray   = "\x1b[90m"
	colorBlue   = "\x1b[34m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
)

// ParseLevel maps the daemon's config-file vocabulary (debug, info,
// errors) onto slog.Level, defaulting to Info for anything else.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "errors":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the base slog.Logger the daemon installs as its default,
// writing to w with per-level line coloring enabled only when w is a
// terminal (github.com/mattn/go-isatty).
func New(w io.Writer, level slog.Level) *slog.Logger {
	colorize := false
	if f, ok := w.(*os.File); ok {
		colorize = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	handler := &levelColorHandler{next: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), colorize: colorize, w: w, level: level}
	return slog.New(handler)
}

// levelColorHandler wraps each record's line in an ANSI color chosen
// by its level (gray debug, blue info, yellow warn, red error) and
// resets the color afterwards. The line itself is the standard text
// handler's output, "level=INFO" field included.
type levelColorHandler struct {
	next  slog.Handler
	w     io.Writer
	level slog.Level

	colorize bool
}

func (h *levelColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *levelColorHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.colorize {
		return h.next.Handle(ctx, r)
	}
	fmt.Fprint(h.w, levelTag(r.Level))
	err := h.next.Handle(ctx, r)
	fmt.Fprint(h.w, colorReset)
	return err
}

func (h *levelColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelColorHandler{next: h.next.WithAttrs(attrs), w: h.w, level: h.level, colorize: h.colorize}
}

func (h *levelColorHandler) WithGroup(name string) slog.Handler {
	return &levelColorHandler{next: h.next.WithGroup(name), w: h.w, level: h.level, colorize: h.colorize}
}

func levelTag(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return colorGray
	case level < slog.LevelWarn:
		return colorBlue
	case level < slog.LevelError:
		return colorYellow
	default:
		return colorRed
	}
}
