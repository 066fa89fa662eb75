// Package log provides the gateway's process-wide structured logger, a thin
// convenience wrapper over log/slog.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	logger  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	service string
)

// Init configures the package logger for the named service, writing
// level-filterable text logs to w (os.Stderr if w is nil).
func Init(service string, level slog.Level, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("service", service)
}

// L returns the current package-wide slog.Logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a child logger with the given key/value attributes attached,
// without altering the package-wide default.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

func Debugf(format string, args ...any) { L().Debug(sprintf(format, args...)) }
func Infof(format string, args ...any)  { L().Info(sprintf(format, args...)) }
func Warnf(format string, args ...any)  { L().Warn(sprintf(format, args...)) }
func Errorf(format string, args ...any) { L().Error(sprintf(format, args...)) }

// DebugCtx/InfoCtx/WarnCtx/ErrorCtx log with a context so handlers can pull
// request-scoped attributes (e.g. via log/slog's context propagation).
func DebugCtx(ctx context.Context, msg string, args ...any) { L().DebugContext(ctx, msg, args...) }
func InfoCtx(ctx context.Context, msg string, args ...any)  { L().InfoContext(ctx, msg, args...) }
func WarnCtx(ctx context.Context, msg string, args ...any)  { L().WarnContext(ctx, msg, args...) }
func ErrorCtx(ctx context.Context, msg string, args ...any) { L().ErrorContext(ctx, msg, args...) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
