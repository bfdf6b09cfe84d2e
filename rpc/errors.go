package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/status"
)

// ErrNilRequest is returned when a call carries no request.
var ErrNilRequest = errors.New("rpc: request is nil")

// Error is a categorized call failure.
//
// Error implements GRPCStatus, so returning it from a gRPC handler sends the
// mapped status code to the client without further conversion.
type Error struct {
	Category Category
	Message  string
	Err      error
}

// Errorf builds an *Error with a formatted message.
func Errorf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Category.String()
	}
	return e.Category.String() + ": " + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// GRPCStatus converts the error into a gRPC status.
func (e *Error) GRPCStatus() *status.Status {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return status.New(e.Category.Code(), msg)
}

// CategoryOf classifies err.
//
// Classification order:
//  1. nil is OK
//  2. an *Error anywhere in the chain reports its own category
//  3. context.Canceled and context.DeadlineExceeded map to Cancelled and
//     DeadlineExceeded
//  4. a gRPC status error maps through CategoryFromCode
//  5. everything else is Unknown
func CategoryOf(err error) Category {
	if err == nil {
		return OK
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Category
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	}

	if st, ok := status.FromError(err); ok {
		return CategoryFromCode(st.Code())
	}

	return Unknown
}

// fromStatusError converts a gRPC client error into an *Error.
func fromStatusError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Category: CategoryOf(err), Err: err}
	}
	return &Error{
		Category: CategoryFromCode(st.Code()),
		Message:  st.Message(),
		Err:      err,
	}
}
