package httpserver

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/hedgebench/rpc"
)

// Recovery returns middleware that turns handler panics into an INTERNAL
// error response and logs the stack.
func Recovery(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", RequestIDFromContext(r.Context())).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")

				rpc.WriteHTTPError(w, rpc.Errorf(rpc.Internal, "an unexpected error occurred"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
