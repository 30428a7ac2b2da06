package http11

import (
	"errors"
	"fmt"
)

// Decode errors. All of them are protocol errors and end the connection.
var (
	// ErrInvalidRequestLine indicates the request line is malformed
	// Request line format: METHOD SP request-target SP HTTP-version CRLF
	ErrInvalidRequestLine = errors.New("http11: invalid request line")

	// ErrInvalidMethod indicates an unsupported or malformed HTTP method
	ErrInvalidMethod = errors.New("http11: invalid HTTP method")

	// ErrInvalidPath indicates the request target is not origin-form or "*"
	ErrInvalidPath = errors.New("http11: invalid request path")

	// ErrInvalidProtocol indicates a version other than HTTP/1.0 or HTTP/1.1
	ErrInvalidProtocol = errors.New("http11: invalid or unsupported protocol version")

	// ErrInvalidHeader indicates a malformed header field
	ErrInvalidHeader = errors.New("http11: invalid HTTP header")

	// ErrTooManyHeaders indicates the head has more fields than the scratch area holds
	ErrTooManyHeaders = errors.New("http11: too many headers")

	// ErrRequestLineTooLarge indicates the request line exceeds MaxRequestLineSize
	ErrRequestLineTooLarge = errors.New("http11: request line too large")

	// ErrHeadersTooLarge indicates the head exceeds MaxHeadSize
	ErrHeadersTooLarge = errors.New("http11: headers too large")

	// ErrInvalidContentLength indicates Content-Length header is malformed
	ErrInvalidContentLength = errors.New("http11: invalid Content-Length")

	// ErrContentLengthWithTransferEncoding rejects CL.TE smuggling (RFC 7230 §3.3.3)
	ErrContentLengthWithTransferEncoding = errors.New("http11: request has both Content-Length and Transfer-Encoding")

	// ErrDuplicateContentLength rejects conflicting Content-Length values (RFC 7230 §3.3.3)
	ErrDuplicateContentLength = errors.New("http11: duplicate Content-Length headers with different values")

	// ErrUnsupportedTransferEncoding indicates a transfer coding other than chunked
	ErrUnsupportedTransferEncoding = errors.New("http11: unsupported Transfer-Encoding")

	// ErrChunkedEncoding indicates a malformed chunked request body
	ErrChunkedEncoding = errors.New("http11: chunked encoding error")

	// ErrBodyTooLarge indicates the request body exceeds the configured limit
	ErrBodyTooLarge = errors.New("http11: request body too large")
)

// Encode errors
var (
	// ErrInvalidResponseHeader indicates a response header with CR, LF or an empty name
	ErrInvalidResponseHeader = errors.New("http11: invalid response header")

	// ErrInvalidStatusCode indicates a status outside 100-999
	ErrInvalidStatusCode = errors.New("http11: invalid status code")

	// ErrBodyLengthMismatch indicates a sized body produced more or fewer bytes than declared
	ErrBodyLengthMismatch = errors.New("http11: body length does not match declared size")

	// ErrInvalidState indicates a codec call out of order
	ErrInvalidState = errors.New("http11: codec call in wrong state")
)

// Dispatch errors
var (
	// ErrNilResponse indicates a dispatcher returned neither a response nor an error
	ErrNilResponse = errors.New("http11: dispatcher returned nil response")

	// ErrDispatcherPanic indicates the dispatcher panicked
	ErrDispatcherPanic = errors.New("http11: dispatcher panic")
)

// ErrorClass groups connection failures by how the driver treats them.
type ErrorClass uint8

const (
	// ClassNone is reported for nil errors.
	ClassNone ErrorClass = iota

	// ClassTransport covers read, write and shutdown failures. Fatal.
	ClassTransport

	// ClassProtocol covers malformed or oversized requests. Fatal, after a
	// best-effort error response.
	ClassProtocol

	// ClassApplication covers dispatcher failures the error policy chose not
	// to turn into a response.
	ClassApplication

	// ClassEncoding covers failures while producing a response body. Fatal.
	ClassEncoding
)

// String returns the class name used in logs and metric labels.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransport:
		return "transport"
	case ClassProtocol:
		return "protocol"
	case ClassApplication:
		return "application"
	case ClassEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// ConnError is returned by Connection.Serve when the connection ends abnormally.
type ConnError struct {
	Class ErrorClass
	Err   error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("http11: %s error: %v", e.Class, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ClassOf reports the class of an error returned by Connection.Serve.
// Errors that are not ConnErrors are reported as transport errors.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransport
}

// ErrorStatus maps a protocol error to the status of the best-effort
// response sent before the connection is closed.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrTooManyHeaders), errors.Is(err, ErrHeadersTooLarge):
		return 431
	case errors.Is(err, ErrBodyTooLarge):
		return 413
	case errors.Is(err, ErrInvalidProtocol):
		return 505
	case errors.Is(err, ErrUnsupportedTransferEncoding), errors.Is(err, ErrInvalidMethod):
		return 501
	case errors.Is(err, ErrRequestLineTooLarge):
		return 414
	default:
		return 400
	}
}
