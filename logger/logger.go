// Package logger assembles the process-wide slog logger. Log records go to
// the console and, best-effort, to an append-only log file. The file mirrors
// the service's operational error log: if it cannot be opened or written the
// console logger still works and the triggering operation is never failed.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// New returns a logger writing to the console via charmbracelet/log and to
// the append-only file at logPath. An unopenable file degrades to
// console-only logging; the returned cleanup closes the file.
func New(logPath string) (*slog.Logger, func(), error) {

	console := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		console.Warn(fmt.Sprintf("could not open log file %q, logging to console only: %v", logPath, err))
		return slog.New(console), func() {}, nil
	}

	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(fanoutHandler{handlers: []slog.Handler{console, fileHandler}})
	cleanup := func() {
		_ = f.Close()
	}
	return logger, cleanup, nil
}

// fanoutHandler duplicates records to each wrapped handler. Write failures
// on one handler do not stop the others.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: handlers}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: handlers}
}
