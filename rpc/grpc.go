package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceDesc is the hand-written equivalent of protoc-generated registration
// for benchmark.BenchmarkService.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Process",
			Handler:    processHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "benchmark.proto",
}

func processHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ProcessMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Service).Process(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterService registers svc on a gRPC server.
func RegisterService(r grpc.ServiceRegistrar, svc Service) {
	r.RegisterService(&serviceDesc, svc)
}

// NewGRPCServer creates a gRPC server exposing svc, with panic recovery and
// call logging installed ahead of any interceptors passed in opts.
//
// Example:
//
//	srv := rpc.NewGRPCServer(ep, logger)
//	lis, _ := net.Listen("tcp", ":50051")
//	go srv.Serve(lis)
//	defer srv.GracefulStop()
func NewGRPCServer(svc Service, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	serverOpts := make([]grpc.ServerOption, 0, len(opts)+1)
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(logger),
		LoggingInterceptor(logger),
	))
	serverOpts = append(serverOpts, opts...)

	srv := grpc.NewServer(serverOpts...)
	RegisterService(srv, svc)
	return srv
}

// RecoveryInterceptor converts handler panics into Internal failures.
func RecoveryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str("method", info.FullMethod).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				resp = nil
				err = Errorf(Internal, "an unexpected error occurred")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call at debug level and failures other than
// caller-side interruptions at warn level.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		category := CategoryOf(err)

		event := logger.Debug()
		if category != OK && category != Interrupted && category != Cancelled {
			event = logger.Warn()
		}
		event.
			Str("method", info.FullMethod).
			Str("category", category.String()).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("rpc handled")

		return resp, err
	}
}

// GRPCClient calls a remote Service over gRPC.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC creates a client for target. The connection is plaintext unless
// opts override the transport credentials.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	dialOpts := make([]grpc.DialOption, 0, len(opts)+2)
	dialOpts = append(dialOpts,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", target, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Process issues one unary call. Failures are returned as *Error.
func (c *GRPCClient) Process(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &Error{Category: InvalidArgument, Err: ErrNilRequest}
	}
	resp := new(Response)
	if err := c.conn.Invoke(ctx, ProcessMethod, req, resp); err != nil {
		return nil, fromStatusError(err)
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
