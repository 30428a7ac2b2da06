package http11

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yourusername/ripple/pkg/ripple/clock"
)

// CodecState tracks where a Context is within one exchange.
type CodecState uint8

const (
	// StateAwaitingHead: no request is in progress.
	StateAwaitingHead CodecState = iota

	// StateHeadDecoded: a request was returned by DecodeHead and its
	// response head has not been encoded yet.
	StateHeadDecoded

	// StateBodyStreaming: the response head is encoded and body chunks
	// may be encoded.
	StateBodyStreaming

	// StateResponseTerminated: the response is complete.
	StateResponseTerminated
)

// String returns the state name.
func (s CodecState) String() string {
	switch s {
	case StateAwaitingHead:
		return "awaiting-head"
	case StateHeadDecoded:
		return "head-decoded"
	case StateBodyStreaming:
		return "body-streaming"
	case StateResponseTerminated:
		return "response-terminated"
	default:
		return "unknown"
	}
}

// Context is the per-connection codec. It decodes request heads out of the
// read buffer into a fixed header scratch area and encodes responses into
// the write buffer, stamping each with the cached date from a Clock.
//
// A Context handles one exchange at a time and is not safe for concurrent use.
//
// Allocation behavior: 0 allocs/op for decode and encode
type Context struct {
	clock       *clock.Clock
	maxBodySize int64

	req   Request
	enc   Encoder
	state CodecState

	keepAlive  bool
	isHead     bool
	protoMinor int

	// 100-continue bookkeeping for the head at the front of the buffer
	expectPending bool
	continueSent  bool

	// progress through an incomplete chunked body; chunkStart is the
	// offset of that body in buf, 0 when no scan is pending
	chunks     chunkScanner
	chunkStart int
}

// NewContext creates a codec that reads dates from clk.
// maxBodySize <= 0 selects DefaultMaxBodySize.
func NewContext(clk *clock.Clock, maxBodySize int64) *Context {
	c := &Context{}
	c.init(clk, maxBodySize)
	return c
}

func (c *Context) init(clk *clock.Clock, maxBodySize int64) {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	c.clock = clk
	c.maxBodySize = maxBodySize
	c.enc.ctx = c
	c.Reset()
}

// Reset returns the context to StateAwaitingHead for a new connection.
func (c *Context) Reset() {
	c.req.Reset()
	c.enc.reset()
	c.state = StateAwaitingHead
	c.keepAlive = false
	c.isHead = false
	c.protoMinor = 1
	c.expectPending = false
	c.continueSent = false
	c.chunks = chunkScanner{}
	c.chunkStart = 0
}

// State returns the current codec state.
func (c *Context) State() CodecState {
	return c.state
}

// KeepAlive reports whether the connection may serve another request after
// the current exchange. It is final once EncodeHead has returned.
func (c *Context) KeepAlive() bool {
	return c.keepAlive
}

// DisableKeepAlive makes the current response the last one on the connection.
// Call it before EncodeHead.
func (c *Context) DisableKeepAlive() {
	c.keepAlive = false
}

// DecodeHead decodes the request at the front of buf.
//
// It returns (nil, 0, nil) when buf does not yet hold a complete request:
// the head, plus the whole body when one is declared. Otherwise it returns
// the request and the number of bytes it occupies. The request views point
// into buf; for chunked bodies the chunk data is compacted in place inside
// the consumed region.
//
// Any error is a protocol error and leaves the connection unusable.
func (c *Context) DecodeHead(buf []byte) (*Request, int, error) {
	switch c.state {
	case StateAwaitingHead, StateResponseTerminated:
	default:
		return nil, 0, ErrInvalidState
	}
	c.state = StateAwaitingHead

	// RFC 7230 §3.5: ignore empty lines received before the request-line
	start := 0
	for len(buf)-start >= 2 && buf[start] == '\r' && buf[start+1] == '\n' {
		start += 2
	}
	head := buf[start:]

	end := bytes.Index(head, headTerminator)
	if end < 0 {
		if len(head) > MaxHeadSize {
			return nil, 0, ErrHeadersTooLarge
		}
		if bytes.IndexByte(head, '\n') < 0 && len(head) > MaxRequestLineSize {
			return nil, 0, ErrRequestLineTooLarge
		}
		return nil, 0, nil
	}
	if end+len(headTerminator) > MaxHeadSize {
		return nil, 0, ErrHeadersTooLarge
	}

	req := &c.req
	req.Reset()

	lineLen, err := parseRequestLine(req, head[:end+2])
	if err != nil {
		return nil, 0, err
	}
	info, err := parseHeaders(req, head[lineLen:end+2])
	if err != nil {
		return nil, 0, err
	}

	if req.ProtoMinor == 0 {
		req.KeepAlive = info.connKeepAlive && !info.connClose
	} else {
		req.KeepAlive = !info.connClose
	}
	req.Expect100 = info.expect100 && req.ProtoMinor == 1
	req.ContentLength = info.contentLength

	consumed := start + end + len(headTerminator)

	switch {
	case info.chunked:
		if c.chunkStart != consumed {
			c.chunks = chunkScanner{}
			c.chunkStart = consumed
		}
		framed, complete, err := c.chunks.scan(buf[consumed:], c.maxBodySize)
		if err != nil {
			return nil, 0, err
		}
		if !complete {
			c.expectPending = req.Expect100 && !c.continueSent
			return nil, 0, nil
		}
		req.Body = dechunk(buf[consumed:consumed+framed], c.chunks.bodyLen)
		c.chunks = chunkScanner{}
		c.chunkStart = 0
		req.Chunked = true
		req.ContentLength = -1
		consumed += framed

	case info.contentLength > 0:
		if info.contentLength > c.maxBodySize {
			return nil, 0, ErrBodyTooLarge
		}
		if int64(len(buf)-consumed) < info.contentLength {
			c.expectPending = req.Expect100 && !c.continueSent
			return nil, 0, nil
		}
		n := consumed + int(info.contentLength)
		req.Body = buf[consumed:n:n]
		consumed = n

	default:
		if req.ContentLength < 0 {
			req.ContentLength = 0
		}
	}

	c.state = StateHeadDecoded
	c.keepAlive = req.KeepAlive
	c.isHead = req.MethodID == MethodHEAD
	c.protoMinor = req.ProtoMinor
	c.expectPending = false
	c.continueSent = false
	return req, consumed, nil
}

// TakeContinue reports, once per request, that the client sent
// "Expect: 100-continue" and is waiting for an interim response before
// sending the rest of its body.
func (c *Context) TakeContinue() bool {
	if !c.expectPending {
		return false
	}
	c.expectPending = false
	c.continueSent = true
	return true
}

// EncodeContinue appends the "100 Continue" interim response.
func (c *Context) EncodeContinue(dst []byte) []byte {
	dst = appendStatusLine(dst, 100)
	return append(dst, crlf...)
}

// EncodeHead appends the response head for the request returned by the last
// DecodeHead and returns the encoder for its body.
//
// Field order: status line, the response's own header fields in insertion
// order, the framing field, Server, Date, and Connection when needed. On
// error dst is returned unchanged and the context stays in StateHeadDecoded.
func (c *Context) EncodeHead(res *Response, dst []byte) (*Encoder, []byte, error) {
	if c.state != StateHeadDecoded {
		return nil, dst, ErrInvalidState
	}
	status := res.Status
	if status == 0 {
		status = 200
	}
	if status < 100 || status > 999 {
		return nil, dst, ErrInvalidStatusCode
	}

	keepAlive := c.keepAlive && !res.Close
	for i := range res.Header.names {
		name, value := res.Header.names[i], res.Header.values[i]
		if !validField(name, value) {
			return nil, dst, ErrInvalidResponseHeader
		}
		if strings.EqualFold(name, HeaderConnection) && hasToken(value, "close") {
			keepAlive = false
		}
	}

	dst = appendStatusLine(dst, status)
	for i := range res.Header.names {
		name := res.Header.names[i]
		if codecOwned(name) {
			continue
		}
		dst = append(dst, name...)
		dst = append(dst, colonSpace...)
		dst = append(dst, res.Header.values[i]...)
		dst = append(dst, crlf...)
	}

	enc := &c.enc
	enc.reset()
	body := res.Body
	switch {
	case !bodyAllowed(status):
		enc.framing = framingNone
		enc.discard = true
	case body.kind == BodyNone:
		dst = appendContentLength(dst, 0)
		enc.framing = framingLength
	case body.size >= 0:
		dst = appendContentLength(dst, body.size)
		enc.framing = framingLength
		enc.remaining = body.size
	case c.protoMinor >= 1:
		dst = append(dst, lineChunked...)
		enc.framing = framingChunked
	default:
		// HTTP/1.0 has no chunked coding: the body ends when the connection does.
		enc.framing = framingClose
		keepAlive = false
	}
	if c.isHead {
		enc.discard = true
	}

	dst = append(dst, lineServer...)
	dst = append(dst, lineDatePrefix...)
	dst = c.clock.AppendDate(dst)
	dst = append(dst, crlf...)
	switch {
	case !keepAlive:
		dst = append(dst, lineConnClose...)
	case c.protoMinor == 0:
		dst = append(dst, lineConnKeepAlive...)
	}
	dst = append(dst, crlf...)

	c.keepAlive = keepAlive
	c.state = StateBodyStreaming
	return enc, dst, nil
}

// EncodeError appends a minimal response with an empty body that closes the
// connection. It is used after a protocol error, when no request is
// available, and works in any state.
func (c *Context) EncodeError(status int, dst []byte) []byte {
	dst = appendStatusLine(dst, status)
	dst = appendContentLength(dst, 0)
	dst = append(dst, lineServer...)
	dst = append(dst, lineDatePrefix...)
	dst = c.clock.AppendDate(dst)
	dst = append(dst, crlf...)
	dst = append(dst, lineConnClose...)
	dst = append(dst, crlf...)

	c.keepAlive = false
	c.state = StateResponseTerminated
	return dst
}

func appendContentLength(dst []byte, n int64) []byte {
	dst = append(dst, lineContentLength...)
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, crlf...)
}

// hasToken reports whether the comma-separated list v contains tok.
func hasToken(v, tok string) bool {
	for v != "" {
		var t string
		t, v, _ = strings.Cut(v, ",")
		if strings.EqualFold(strings.TrimSpace(t), tok) {
			return true
		}
	}
	return false
}
