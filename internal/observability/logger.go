package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/nlquery/nlquery/internal/config"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	redacted          = "[REDACTED]"
)

// Attribute keys whose values never reach the log output.
var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
	"dsn":           {},
	"secret_key":    {},
	"password":      {},
}

// NewLogger builds the process logger. Every record carries the service
// name and profile; credentials passed as attributes are redacted.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		AddSource:   cfg.Observability.LogLevel <= slog.LevelDebug,
		ReplaceAttr: redactSensitive,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSensitive(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
