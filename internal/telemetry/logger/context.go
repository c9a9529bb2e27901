package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	shardIDKey
)

// WithRequestID attaches a request id to ctx. Records logged with ctx
// carry it as request_id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached to ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithShardID attaches a shard id to ctx. Records logged with ctx carry
// it as shard_id.
func WithShardID(ctx context.Context, shardID int32) context.Context {
	return context.WithValue(ctx, shardIDKey, shardID)
}

// ShardIDFromContext returns the shard id attached to ctx.
func ShardIDFromContext(ctx context.Context) (int32, bool) {
	id, ok := ctx.Value(shardIDKey).(int32)
	return id, ok
}

// contextHandler copies request and shard ids from the context into
// each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := RequestIDFromContext(ctx); id != "" {
			r.AddAttrs(slog.String("request_id", id))
		}
		if id, ok := ShardIDFromContext(ctx); ok {
			r.AddAttrs(slog.Int("shard_id", int(id)))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
