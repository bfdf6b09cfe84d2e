// Package httpserver hosts the benchmark endpoint over HTTP with graceful
// shutdown, request middleware, health probes and a metrics route.
//
// # Quick Start
//
//	mux := http.NewServeMux()
//	mux.Handle(rpc.ProcessPath, rpc.NewHTTPHandler(ep))
//
//	var health *httpserver.HealthHandler
//	server := httpserver.New(
//	    httpserver.WithServiceName("hedgebench-endpoint"),
//	    httpserver.WithLogging(httpserver.LoggerConfig{Logger: logger}),
//	    httpserver.WithHealth(&health, version),
//	    httpserver.WithHandler(mux),
//	)
//	health.Register(mux)
//
//	if err := server.ListenAndServe(ctx); err != nil {
//	    return err
//	}
//
// The server stops when ctx ends. Signal handling is left to the caller,
// typically through signal.NotifyContext.
//
// # Middleware order
//
// Middleware installed by the server always runs in the same order:
// Recovery, RequestID, Tracing, Metrics, Logger, then Timeout. Recovery answers panics with an INTERNAL error body
// that rpc.HTTPClient understands.
package httpserver
