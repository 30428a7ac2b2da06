package http11

import (
	"context"
	"log/slog"

	"github.com/yourusername/ripple/pkg/ripple/clock"
)

// WorkerState is shared by every connection of one worker and handed to
// each dispatch.
type WorkerState struct {
	// Clock supplies the cached date.
	Clock *clock.Clock

	// Backend is application state the dispatcher may use, such as a
	// database pool. The engine never touches it.
	Backend any

	// Logger is the worker's logger.
	Logger *slog.Logger
}

// Dispatcher maps a request to a response.
//
// The request and everything it references are only valid until Dispatch
// returns; a BodyStream in the response may read them until it reports
// io.EOF. Requests on one connection are dispatched one at a time, in the
// order they arrived. Different connections dispatch concurrently.
//
// A returned error, or a panic, is resolved by the connection's ErrorPolicy.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request, ws *WorkerState) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req *Request, ws *WorkerState) (*Response, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, req *Request, ws *WorkerState) (*Response, error) {
	return f(ctx, req, ws)
}

// ErrorPolicy turns a dispatcher failure into a response. Returning a
// non-nil error instead aborts the connection after flushing the responses
// already encoded for earlier requests.
type ErrorPolicy func(req *Request, err error) (*Response, error)

// InternalServerError answers every failure with an empty 500 and keeps the
// connection open.
func InternalServerError(*Request, error) (*Response, error) {
	return NewResponse(500), nil
}

// AbortOnError closes the connection on every failure.
func AbortOnError(_ *Request, err error) (*Response, error) {
	return nil, err
}
