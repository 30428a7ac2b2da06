package http11

import (
	"net/url"
)

// Request is a decoded request head plus its fully buffered body.
//
// CRITICAL: every byte slice in a Request (method, path, query, header
// fields, body) is a zero-copy view into the connection's read buffer. The
// views are valid until the dispatcher returns and the response has been
// encoded. Use Clone to keep a request beyond that.
type Request struct {
	// Method as numeric ID for O(1) switching
	MethodID uint8

	methodBytes []byte // e.g., "GET"
	pathBytes   []byte // e.g., "/api/users"
	queryBytes  []byte // e.g., "id=123&name=foo" (without '?')

	// Parsed URL (lazy allocation)
	pathParsed *url.URL

	// Header is the fixed scratch area the head was decoded into.
	Header Header

	// Body is the request body with chunked framing removed. Empty when
	// the request has no body.
	Body []byte

	// ProtoMinor is 0 for HTTP/1.0 and 1 for HTTP/1.1.
	ProtoMinor int

	// ContentLength is -1 when the body is chunked, else the declared length.
	ContentLength int64

	// Chunked reports whether the body arrived with chunked framing.
	Chunked bool

	// KeepAlive reports whether the client allows the connection to be
	// reused after this exchange.
	KeepAlive bool

	// Expect100 reports an "Expect: 100-continue" header.
	Expect100 bool
}

// Method returns the HTTP method as a string.
//
// Allocation behavior: 0 allocs/op for known methods
func (r *Request) Method() string {
	if s := MethodString(r.MethodID); s != "" {
		return s
	}
	return string(r.methodBytes)
}

// MethodBytes returns the method token as it appeared on the wire.
func (r *Request) MethodBytes() []byte {
	return r.methodBytes
}

// Path returns the request path as a string.
//
// Allocation behavior: 1 alloc/op
func (r *Request) Path() string {
	return string(r.pathBytes)
}

// PathBytes returns the request path without the query.
//
// Allocation behavior: 0 allocs/op
func (r *Request) PathBytes() []byte {
	return r.pathBytes
}

// Query returns the raw query string (without '?').
func (r *Request) Query() string {
	return string(r.queryBytes)
}

// QueryBytes returns the raw query (without '?').
func (r *Request) QueryBytes() []byte {
	return r.queryBytes
}

// Proto returns "HTTP/1.1" or "HTTP/1.0".
func (r *Request) Proto() string {
	if r.ProtoMinor == 0 {
		return http10Version
	}
	return http11Version
}

// ParsedURL returns the parsed request target.
// This is lazily allocated only when called and cached afterwards.
func (r *Request) ParsedURL() (*url.URL, error) {
	if r.pathParsed == nil {
		urlStr := string(r.pathBytes)
		if len(r.queryBytes) > 0 {
			urlStr += "?" + string(r.queryBytes)
		}

		var err error
		r.pathParsed, err = url.ParseRequestURI(urlStr)
		if err != nil {
			return nil, err
		}
	}
	return r.pathParsed, nil
}

// GetHeader retrieves a header value by name (case-insensitive).
// Returns nil if not found.
//
// Allocation behavior: 0 allocs/op
func (r *Request) GetHeader(name []byte) []byte {
	return r.Header.Get(name)
}

// GetHeaderString is GetHeader with a string name and result.
//
// Allocation behavior: 1 alloc/op when the header is present
func (r *Request) GetHeaderString(name string) string {
	return string(r.Header.Peek(name))
}

// IsGET reports whether the method is GET
func (r *Request) IsGET() bool {
	return r.MethodID == MethodGET
}

// IsPOST reports whether the method is POST
func (r *Request) IsPOST() bool {
	return r.MethodID == MethodPOST
}

// IsHEAD reports whether the method is HEAD
func (r *Request) IsHEAD() bool {
	return r.MethodID == MethodHEAD
}

// HasBody reports whether the request carried a body.
func (r *Request) HasBody() bool {
	return len(r.Body) > 0
}

// Reset clears the request for the next decode.
//
// Allocation behavior: 0 allocs/op
func (r *Request) Reset() {
	r.MethodID = MethodUnknown
	r.methodBytes = nil
	r.pathBytes = nil
	r.queryBytes = nil
	r.pathParsed = nil
	r.Header.Reset()
	r.Body = nil
	r.ProtoMinor = 1
	r.ContentLength = 0
	r.Chunked = false
	r.KeepAlive = false
	r.Expect100 = false
}

// Clone returns a copy of the request whose views point into a single
// private allocation, safe to keep after the read buffer is reused.
func (r *Request) Clone() *Request {
	size := len(r.methodBytes) + len(r.pathBytes) + len(r.queryBytes) + len(r.Body)
	for i := 0; i < int(r.Header.count); i++ {
		size += len(r.Header.fields[i].name) + len(r.Header.fields[i].value)
	}
	arena := make([]byte, 0, size)
	own := func(b []byte) []byte {
		if b == nil {
			return nil
		}
		start := len(arena)
		arena = append(arena, b...)
		return arena[start:len(arena):len(arena)]
	}

	clone := &Request{
		MethodID:      r.MethodID,
		methodBytes:   own(r.methodBytes),
		pathBytes:     own(r.pathBytes),
		queryBytes:    own(r.queryBytes),
		ProtoMinor:    r.ProtoMinor,
		ContentLength: r.ContentLength,
		Chunked:       r.Chunked,
		KeepAlive:     r.KeepAlive,
		Expect100:     r.Expect100,
	}
	for i := 0; i < int(r.Header.count); i++ {
		f := r.Header.fields[i]
		clone.Header.fields[i] = field{name: own(f.name), value: own(f.value)}
	}
	clone.Header.count = r.Header.count
	clone.Body = own(r.Body)
	return clone
}
