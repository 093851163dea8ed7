package logger

import "context"

const TraceKey = "trace_id"

type traceKey struct{}

// WithTraceID attaches id to ctx. Every record logged with the returned
// context carries it.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the id stored by WithTraceID, or "".
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
