package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	pathKey    contextKey = "path"
	handlerKey contextKey = "handler"
)

// WithPath annotates the context with the file path being processed.
func WithPath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, pathKey, path)
}

// WithHandler annotates the context with the planner handler name.
func WithHandler(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, handlerKey, name)
}

// WithContext returns a logger enriched with fields carried in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if path, ok := ctx.Value(pathKey).(string); ok && path != "" {
		logger = logger.With(String(FieldPath, path))
	}
	if name, ok := ctx.Value(handlerKey).(string); ok && name != "" {
		logger = logger.With(String(FieldHandler, name))
	}
	return logger
}
