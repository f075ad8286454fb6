package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestIDKey struct{}
type passIDKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is usable as a correlation ID: 1-128
// characters of letters, digits, hyphen and underscore.
func ValidID(id string) bool {
	return len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithRequestID returns ctx carrying an HTTP request ID. Invalid IDs are
// dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !ValidID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// WithPassID returns ctx carrying a learning pass or training run ID.
// Invalid IDs are dropped.
func WithPassID(ctx context.Context, id string) context.Context {
	if !ValidID(id) {
		return ctx
	}
	return context.WithValue(ctx, passIDKey{}, id)
}

// ContextFields returns the correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		fields = append(fields, zap.String("request.id", id))
	}
	if id, ok := ctx.Value(passIDKey{}).(string); ok {
		fields = append(fields, zap.String("pass.id", id))
	}
	return fields
}
