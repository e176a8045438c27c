package logging

import (
	"context"
	"log/slog"
	"os"
)

type operationLoggerContextKey struct{}

// NewLogger creates the process-wide base logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(operationLoggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		fallback := NewLogger()
		fallback = fallback.With(slog.String("logger", "fallback"))
		return fallback
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, operationLoggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, args ...slog.Attr) context.Context {
	logger := FromContext(ctx)

	anySlice := make([]any, len(args))
	for i, arg := range args {
		anySlice[i] = arg
	}

	return AddToContext(ctx, logger.With(anySlice...))
}
