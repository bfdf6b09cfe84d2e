package httpserver

import (
	"context"
	"net/http"
	"time"
)

// Timeout returns middleware that attaches a deadline to the request
// context. Handlers that honor their context, like the endpoint's Process,
// give up when it passes; nothing else is interrupted.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
