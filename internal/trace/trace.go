// Package trace carries the per-request correlation id through contexts,
// log lines and HTTP responses.
package trace

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/seantiz/ragserve/internal/model"
)

// Header is the response header that echoes the trace id.
const Header = "X-Trace-Id"

type ctxKey struct{}

// New mints a fresh trace id.
func New() string {
	return model.NewTraceID()
}

// WithID returns a copy of ctx carrying the trace id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id stored in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger returns base enriched with the trace id from ctx.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	id := FromContext(ctx)
	if id == "" {
		return base
	}
	return base.With("trace_id", id)
}

// Middleware assigns every inbound request a new trace id. The id is stored
// in the request context and set on the response before the handler runs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := New()
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
