package logger

import (
	"context"
	"log/slog"
)

type scopeKey struct{}

// scope holds the request attributes carried by a context.
type scope struct {
	requestID    string
	partition    int32
	hasPartition bool
}

func scopeOf(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithRequestID returns ctx tagged with an HTTP or CLI request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	s := scopeOf(ctx)
	s.requestID = id
	return context.WithValue(ctx, scopeKey{}, s)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return scopeOf(ctx).requestID
}

// WithPartition returns ctx tagged with the caller partition of an IPC
// connection.
func WithPartition(ctx context.Context, partition int32) context.Context {
	s := scopeOf(ctx)
	s.partition, s.hasPartition = partition, true
	return context.WithValue(ctx, scopeKey{}, s)
}

// PartitionFromContext returns the caller partition and whether one is set.
func PartitionFromContext(ctx context.Context) (int32, bool) {
	s := scopeOf(ctx)
	return s.partition, s.hasPartition
}

// scopeHandler adds the context's request attributes to every record
// logged through a *Context method.
type scopeHandler struct {
	slog.Handler
}

func (h scopeHandler) Handle(ctx context.Context, r slog.Record) error {
	s := scopeOf(ctx)
	if s.requestID != "" {
		r.AddAttrs(slog.String("request_id", s.requestID))
	}
	if s.hasPartition {
		r.AddAttrs(slog.Int64("partition", int64(s.partition)))
	}
	return h.Handler.Handle(ctx, r)
}

func (h scopeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return scopeHandler{h.Handler.WithAttrs(attrs)}
}

func (h scopeHandler) WithGroup(name string) slog.Handler {
	return scopeHandler{h.Handler.WithGroup(name)}
}
