// Package http11 implements the ripple HTTP/1.x engine: a codec context that
// decodes pipelined request heads out of a connection's read buffer and
// encodes responses into its write buffer, and the connection driver that
// moves buffers between the codec and a transport.
package http11

// HTTP Method IDs for O(1) switching
const (
	MethodUnknown uint8 = 0
	MethodGET     uint8 = 1
	MethodPOST    uint8 = 2
	MethodPUT     uint8 = 3
	MethodDELETE  uint8 = 4
	MethodPATCH   uint8 = 5
	MethodHEAD    uint8 = 6
	MethodOPTIONS uint8 = 7
	MethodCONNECT uint8 = 8
	MethodTRACE   uint8 = 9
)

// ServerName is the constant value of the Server header on every response.
const ServerName = "ripple"

// Limits
const (
	// MaxHeaders is the capacity of the request header scratch area.
	// A request head with more fields is rejected, never truncated.
	MaxHeaders = 8

	// MaxHeadSize bounds request line plus headers, including the blank line.
	MaxHeadSize = 16 * 1024

	// MaxRequestLineSize bounds the request line alone.
	MaxRequestLineSize = 8192

	// DefaultMaxBodySize is the default request body limit (10 MB).
	DefaultMaxBodySize = 10 << 20
)

// Header names the codec inspects or owns
var (
	headerContentLength    = []byte("Content-Length")
	headerConnection       = []byte("Connection")
	headerTransferEncoding = []byte("Transfer-Encoding")
	headerHost             = []byte("Host")

	tokenClose     = []byte("close")
	tokenKeepAlive = []byte("keep-alive")
	tokenChunked   = []byte("chunked")
)

// Pre-rendered header lines
const (
	lineServer        = "Server: " + ServerName + "\r\n"
	lineDatePrefix    = "Date: "
	lineContentLength = "Content-Length: "
	lineChunked       = "Transfer-Encoding: chunked\r\n"
	lineConnClose     = "Connection: close\r\n"
	lineConnKeepAlive = "Connection: keep-alive\r\n"
	lastChunk         = "0\r\n\r\n"
	crlf              = "\r\n"
	colonSpace        = ": "
	http11Version     = "HTTP/1.1"
	http10Version     = "HTTP/1.0"
)

// Response header names written by the codec itself. User-supplied values
// for these are dropped by EncodeHead.
const (
	HeaderContentLength    = "Content-Length"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderConnection       = "Connection"
	HeaderServer           = "Server"
	HeaderDate             = "Date"
	HeaderContentType      = "Content-Type"
)

// Content types used by the helpers in response.go
const (
	ContentTypePlain = "text/plain"
	ContentTypeJSON  = "application/json"
	ContentTypeHTML  = "text/html; charset=utf-8"
)
