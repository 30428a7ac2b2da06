package http11

import (
	"context"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// BodyKind tells the encoder how a response body is produced.
type BodyKind uint8

const (
	// BodyNone is an empty body.
	BodyNone BodyKind = iota

	// BodyFixed is a byte slice known up front.
	BodyFixed

	// BodyStreamed is pulled chunk by chunk from a BodyStream.
	BodyStreamed
)

// BodyStream produces a response body one chunk at a time.
//
// Next returns the next chunk, or io.EOF once the body is complete. A chunk
// returned together with io.EOF is still written. Empty chunks are skipped.
// The driver calls Next until io.EOF or an error, one call at a time, and
// finishes writing each chunk into the write buffer before the next call.
//
// If the stream implements io.Closer, Close is called once the driver is
// done with it, whether or not the body was completed.
type BodyStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// Body describes a response body and how its size is known.
type Body struct {
	kind   BodyKind
	data   []byte
	stream BodyStream
	size   int64
}

// EmptyBody returns a body with no bytes.
func EmptyBody() Body {
	return Body{}
}

// BytesBody returns a fixed body. The slice must not be modified until the
// response has been encoded.
func BytesBody(b []byte) Body {
	if len(b) == 0 {
		return Body{}
	}
	return Body{kind: BodyFixed, data: b, size: int64(len(b))}
}

// StringBody returns a fixed body holding s.
func StringBody(s string) Body {
	return BytesBody([]byte(s))
}

// StreamBody returns a streamed body of unknown size. It is sent chunked
// to HTTP/1.1 clients and delimited by closing the connection for HTTP/1.0.
func StreamBody(s BodyStream) Body {
	return Body{kind: BodyStreamed, stream: s, size: -1}
}

// SizedStreamBody returns a streamed body that produces exactly size bytes.
// It is sent with a Content-Length and the encoder fails the connection if
// the stream produces more or fewer bytes.
func SizedStreamBody(s BodyStream, size int64) Body {
	return Body{kind: BodyStreamed, stream: s, size: size}
}

// Kind returns how the body is produced.
func (b Body) Kind() BodyKind { return b.kind }

// Len returns the body size, or -1 if unknown.
func (b Body) Len() int64 { return b.size }

// Bytes returns the data of a fixed body.
func (b Body) Bytes() []byte { return b.data }

// Stream returns the stream of a streamed body.
func (b Body) Stream() BodyStream { return b.stream }

// Response is what a Dispatcher hands back for a request.
type Response struct {
	// Status is the status code. Zero means 200.
	Status int

	// Header holds the application's header fields, written in order.
	// Content-Length, Transfer-Encoding, Connection, Server and Date are
	// managed by the codec and dropped from here.
	Header ResponseHeader

	// Body is the response body.
	Body Body

	// Close asks for the connection to be closed after this response.
	// "Connection: close" in Header has the same effect.
	Close bool
}

// NewResponse returns a response with the given status and an empty body.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// Text returns a text/plain response.
func Text(status int, body string) *Response {
	res := &Response{Status: status, Body: StringBody(body)}
	res.Header.Add(HeaderContentType, ContentTypePlain)
	return res
}

// JSON returns an application/json response with v encoded by go-json.
func JSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := &Response{Status: status, Body: BytesBody(data)}
	res.Header.Add(HeaderContentType, ContentTypeJSON)
	return res, nil
}

// Stream returns a response whose body is pulled from s.
func Stream(status int, contentType string, s BodyStream) *Response {
	res := &Response{Status: status, Body: StreamBody(s)}
	if contentType != "" {
		res.Header.Add(HeaderContentType, contentType)
	}
	return res
}

// bodyAllowed reports whether status permits a message body (RFC 7230 §3.3.3).
func bodyAllowed(status int) bool {
	return status >= 200 && status != 204 && status != 304
}

// SliceStream streams a fixed list of chunks.
type SliceStream struct {
	chunks [][]byte
	next   int
}

// NewSliceStream returns a stream producing chunks in order.
func NewSliceStream(chunks ...[]byte) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Next implements BodyStream.
func (s *SliceStream) Next(context.Context) ([]byte, error) {
	if s.next >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}

// StreamFunc adapts a function to BodyStream.
type StreamFunc func(ctx context.Context) ([]byte, error)

// Next implements BodyStream.
func (f StreamFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// ReaderStream streams an io.Reader in reads of up to a fixed size.
type ReaderStream struct {
	r   io.Reader
	buf []byte
}

// NewReaderStream returns a stream that reads r with a buffer of size bytes.
// The buffer is reused, which is safe because the driver copies each chunk
// into the write buffer before asking for the next.
func NewReaderStream(r io.Reader, size int) *ReaderStream {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ReaderStream{r: r, buf: make([]byte, size)}
}

// Next implements BodyStream.
func (s *ReaderStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.r.Read(s.buf)
	return s.buf[:n], err
}

// Close closes the underlying reader if it is an io.Closer.
func (s *ReaderStream) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// statusLines caches "HTTP/1.1 <code> <reason>\r\n" for 100-599.
var statusLines [600][]byte

func init() {
	for code := 100; code < len(statusLines); code++ {
		statusLines[code] = buildStatusLine(code)
	}
}

// buildStatusLine renders a status line using fasthttp's reason phrases.
func buildStatusLine(code int) []byte {
	b := make([]byte, 0, 48)
	b = append(b, http11Version...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, fasthttp.StatusMessage(code)...)
	return append(b, crlf...)
}

// appendStatusLine appends the status line for code to dst.
//
// Allocation behavior: 0 allocs/op for 100-599
func appendStatusLine(dst []byte, code int) []byte {
	if code >= 100 && code < len(statusLines) {
		return append(dst, statusLines[code]...)
	}
	return append(dst, buildStatusLine(code)...)
}
