// Package logger builds the process-wide slog logger: JSON output with
// rotation, sensitive-field masking and optional Sentry fan-out.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	SentryDSN  string
	AppEnv     string
}

// New constructs the application logger. When File is set, output is
// rotated with lumberjack; when SentryDSN is set, Error-level records are
// mirrored to Sentry.
func New(opts Options) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	handlers := []slog.Handler{NewMaskingHandler(base)}

	cleanup := func() {}
	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         opts.SentryDSN,
			Environment: opts.AppEnv,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { sentry.Flush(2 * time.Second) }

		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handlers = append(handlers, sentryHandler)
	}

	return slog.New(newFanoutHandler(handlers...)), cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
