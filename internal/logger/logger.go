// Package logger sets up the structured JSON logging the services emit for
// machine-readable events, on top of Go 1.21's log/slog. Flows that hop
// between goroutines, such as dynamic config reloads, carry a trace ID
// through context.Context so their events can be stitched back together.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type traceKey struct{}

// Init builds the process-wide JSON logger for a service and installs it
// as the slog default, so plain slog.Info calls inherit the service field.
func Init(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	l := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a config string to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts the trace ID from ctx. Returns "" if none is set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// NewTraceID builds a trace ID for a flow: "<scope>-<unixNano>". Scope
// names the flow ("reload") or the symbol a sample belongs to.
func NewTraceID(scope string, ts time.Time) string {
	return scope + "-" + strconv.FormatInt(ts.UnixNano(), 10)
}

// TraceAttrs returns slog attributes carrying the context's trace ID, or
// nil when none is set. Usage: slog.Info("msg", logger.TraceAttrs(ctx)...)
func TraceAttrs(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
