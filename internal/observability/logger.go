package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	correlationIDKey  struct{}
	notificationIDKey struct{}
)

// LoggerOptions configures the process logger. Service tags every entry so
// api and worker lines can be told apart in a shared sink.
type LoggerOptions struct {
	Level   string
	Format  string // json (default) or console
	Service string
}

func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if service := strings.TrimSpace(opts.Service); service != "" {
		cfg.InitialFields = map[string]any{"service": service}
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func withValue(ctx context.Context, key any, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key any) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, correlationIDKey{})
}

// WithNotificationID scopes ctx to one notification's pipeline run.
func WithNotificationID(ctx context.Context, notificationID string) context.Context {
	return withValue(ctx, notificationIDKey{}, notificationID)
}

func NotificationIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, notificationIDKey{})
}

// WithContextLogger attaches the correlation and notification ids carried by
// ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 2)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if notificationID, ok := NotificationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("notificationId", notificationID))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
