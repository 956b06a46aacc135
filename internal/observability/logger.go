package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger. Only the first call
// has any effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		zerolog.SetGlobalLevel(ParseLevel(level))

		if pretty {
			output := zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			}
			globalLogger = zerolog.New(output).With().Timestamp().Logger()
		} else {
			globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		}

		log.Logger = globalLogger
	})
}

// ParseLevel maps a config string to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	}
	return zerolog.InfoLevel
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}

type correlationKey struct{}

// ContextWithCorrelationID returns a copy of ctx carrying correlationID
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationIDFromContext returns the correlation ID carried by ctx, if any
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// LoggerFromContext adds the request's correlation ID and the active span's
// trace and span IDs to base
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	logCtx := base.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logCtx = logCtx.
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	return logCtx.Logger()
}
