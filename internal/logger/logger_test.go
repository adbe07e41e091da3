package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	l := Init("tiengine", "info")
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" info ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("empty context: got %q", tid)
	}

	ctx = WithTraceID(ctx, "reload-1709370900000000000")
	if tid := TraceID(ctx); tid != "reload-1709370900000000000" {
		t.Errorf("round trip: got %q", tid)
	}
}

func TestNewTraceID(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 15, 0, 123456789, time.UTC)
	tid := NewTraceID("WAVE_A", ts)
	if !strings.HasPrefix(tid, "WAVE_A-") {
		t.Errorf("prefix: got %s", tid)
	}
	if !strings.HasSuffix(tid, "123456789") {
		t.Errorf("nanos: got %s", tid)
	}
}

func TestTraceAttrs(t *testing.T) {
	if attrs := TraceAttrs(context.Background()); attrs != nil {
		t.Errorf("no trace id: got %v", attrs)
	}

	ctx := WithTraceID(context.Background(), "reload-42")
	attrs := TraceAttrs(ctx)
	if len(attrs) != 1 {
		t.Fatalf("attrs: got %d, want 1", len(attrs))
	}
	attr, ok := attrs[0].(slog.Attr)
	if !ok || attr.Key != "trace_id" || attr.Value.String() != "reload-42" {
		t.Errorf("attr: got %v", attrs[0])
	}
}
