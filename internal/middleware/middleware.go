// Package middleware provides the HTTP wrappers applied around the proxy
// handler: request IDs, access logging, and panic recovery.
package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes multiple middleware into one. Middleware are applied
// in the order given: Chain(a, b, c)(handler) = a(b(c(handler))), so the
// first middleware is the outermost wrapper and sees the request first.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Recover converts handler panics into 500 responses instead of tearing
// down the connection, and logs the panic value with the request's trace ID.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("handler panic",
						"panic", v,
						"method", r.Method,
						"path", r.URL.Path,
						"trace_id", TraceIDFrom(r.Context()),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
