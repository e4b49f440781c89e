// Package observability wires structured logging and error reporting.
package observability

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// NewLogger builds the process-wide JSON logger.
func NewLogger(level, env string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("env", env)
}

// InitSentry configures error reporting. A missing DSN disables it without
// error so local development needs no Sentry account. The returned flush
// func is safe to call either way.
func InitSentry(dsn, env string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return nil, fmt.Errorf("observability: sentry init: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError forwards err to Sentry when it is configured.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}
