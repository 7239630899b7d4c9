// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and carries the
// current ingestion unit (symbol, timeframe) through context.Context so
// deep call sites can tag their log lines without threading arguments.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const jobKey ctxKey = "ingest_job"

// Job identifies the unit of work a log line belongs to.
type Job struct {
	Symbol    string
	Timeframe string
}

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// slog.Level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithJob stores the current ingestion unit in the context.
func WithJob(ctx context.Context, job Job) context.Context {
	return context.WithValue(ctx, jobKey, job)
}

// JobFrom extracts the ingestion unit from context. Returns a zero Job if unset.
func JobFrom(ctx context.Context) Job {
	if j, ok := ctx.Value(jobKey).(Job); ok {
		return j
	}
	return Job{}
}

// JobAttrs returns slog attributes for the ingestion unit in ctx.
// Usage: slog.Info("msg", logger.JobAttrs(ctx)...)
func JobAttrs(ctx context.Context) []any {
	j := JobFrom(ctx)
	if j.Symbol == "" && j.Timeframe == "" {
		return nil
	}
	attrs := make([]any, 0, 2)
	if j.Symbol != "" {
		attrs = append(attrs, slog.String("symbol", j.Symbol))
	}
	if j.Timeframe != "" {
		attrs = append(attrs, slog.String("timeframe", j.Timeframe))
	}
	return attrs
}
