package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJob_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if j := JobFrom(ctx); j != (Job{}) {
		t.Errorf("expected zero job, got %+v", j)
	}

	ctx = WithJob(ctx, Job{Symbol: "AAPL", Timeframe: "5m"})
	j := JobFrom(ctx)
	if j.Symbol != "AAPL" || j.Timeframe != "5m" {
		t.Errorf("unexpected job: %+v", j)
	}
}

func TestJobAttrs(t *testing.T) {
	ctx := context.Background()

	if attrs := JobAttrs(ctx); attrs != nil {
		t.Errorf("expected nil attrs without a job, got %v", attrs)
	}

	ctx = WithJob(ctx, Job{Symbol: "MSFT"})
	attrs := JobAttrs(ctx)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attr, got %d", len(attrs))
	}

	ctx = WithJob(ctx, Job{Symbol: "MSFT", Timeframe: "1h"})
	if attrs := JobAttrs(ctx); len(attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(attrs))
	}
}
