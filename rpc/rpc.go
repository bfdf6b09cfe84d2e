// Package rpc defines the unary call surface shared by the simulated endpoint
// and the load harness: the request and response messages, the failure
// taxonomy, and the gRPC and HTTP transports that carry them.
//
// The harness never depends on a concrete transport. Everything it needs is a
// CallFunc, which can be an in-process Service, a GRPCClient or an HTTPClient:
//
//	ep := endpoint.New(model)
//	call := rpc.CallFunc(ep.Process)
//
//	client, err := rpc.DialGRPC("localhost:50051")
//	call = client.Process
package rpc

import "context"

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "benchmark.BenchmarkService"

	// ProcessMethod is the full gRPC method name of the single unary call.
	ProcessMethod = "/" + ServiceName + "/Process"

	// ProcessPath is the HTTP route serving the same call.
	ProcessPath = "/v1/process"
)

// Request is the payload of one call.
type Request struct {
	Input string `json:"input"`
}

// Response is the payload returned by a successful call.
type Response struct {
	Output string `json:"output"`
}

// Service is implemented by anything that can serve the Process call.
//
// Implementations report failures as *Error so the category survives every
// transport.
type Service interface {
	Process(ctx context.Context, req *Request) (*Response, error)
}

// CallFunc issues a single unary call. The call must return promptly once ctx
// is cancelled.
type CallFunc func(ctx context.Context, req *Request) (*Response, error)

// Process makes a CallFunc usable as a Service.
func (f CallFunc) Process(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
