package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

const traceHeader = "X-Request-ID"

type traceKey struct{}

// Tracing assigns each request a trace ID. A client-supplied X-Request-ID
// is propagated as-is; otherwise a random one is generated. The ID is
// stored in the request context, echoed on the response, and forwarded to
// backends by the proxy.
func Tracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(traceHeader)
			if traceID == "" {
				var b [16]byte
				rand.Read(b[:])
				traceID = hex.EncodeToString(b[:])
			}

			ctx := context.WithValue(r.Context(), traceKey{}, traceID)
			r = r.WithContext(ctx)
			r.Header.Set(traceHeader, traceID)
			w.Header().Set(traceHeader, traceID)

			next.ServeHTTP(w, r)
		})
	}
}

// TraceIDFrom retrieves the trace ID from context, or "" if absent.
func TraceIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey{}).(string); ok {
		return id
	}
	return ""
}
