package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	artifactKindKey
)

// WithJob stores the job identity on ctx so downstream log lines carry it.
func WithJob(ctx context.Context, id int64, kind string) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, id)
	return context.WithValue(ctx, artifactKindKey, kind)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(jobIDKey).(int64); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if kind, ok := ctx.Value(artifactKindKey).(string); ok && kind != "" {
		fields = append(fields, slog.String(FieldArtifactKind, kind))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
