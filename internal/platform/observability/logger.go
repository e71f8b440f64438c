package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/order-engine/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger builds the JSON logger used by every component. Field names follow
// the Cloud Logging structured payload conventions.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || strings.TrimSpace(level) == "" {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext returns the request logger, falling back to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger is the logging contract handed to services and background jobs.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewEventLogger adapts zap to EventLogger. The request scoped logger wins over
// base when one is present on the context.
func NewEventLogger(base *zap.Logger) EventLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := fieldsFromMap(fields)
		if actor := requestctx.Actor(ctx); actor != "" {
			if _, set := fields["actor"]; !set {
				zapFields = append(zapFields, zap.String("actor", actor))
			}
		}
		switch {
		case strings.HasSuffix(event, ".error") || strings.HasSuffix(event, ".failed"):
			logger.Error(event, zapFields...)
		case strings.HasSuffix(event, ".warn") || strings.HasSuffix(event, ".dropped") || strings.HasSuffix(event, ".stale"):
			logger.Warn(event, zapFields...)
		default:
			logger.Info(event, zapFields...)
		}
	}
}

func fieldsFromMap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
