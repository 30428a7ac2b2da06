package http11

import "strings"

// field is one header line. For request headers name and value are views
// into the connection's read buffer.
type field struct {
	name  []byte
	value []byte
}

// Header is the fixed scratch area request heads are decoded into.
//
// Design:
// - Exactly MaxHeaders entries, never grown. A head with more fields fails
//   with ErrTooManyHeaders instead of being truncated
// - Entries are views into the read buffer, nothing is copied
// - Linear scan with case-insensitive compare (RFC 7230 §3.2)
//
// The views are valid until the driver's next read.
//
// Allocation behavior: 0 allocs/op
type Header struct {
	fields [MaxHeaders]field
	count  uint8
}

// add appends a field view. Returns ErrTooManyHeaders when the scratch area is full.
func (h *Header) add(name, value []byte) error {
	if int(h.count) >= MaxHeaders {
		return ErrTooManyHeaders
	}
	h.fields[h.count] = field{name: name, value: value}
	h.count++
	return nil
}

// Get returns the value of the first field named name, or nil.
// Lookup is case-insensitive.
func (h *Header) Get(name []byte) []byte {
	for i := 0; i < int(h.count); i++ {
		if bytesEqualCaseInsensitive(h.fields[i].name, name) {
			return h.fields[i].value
		}
	}
	return nil
}

// Peek is Get for a string name.
func (h *Header) Peek(name string) []byte {
	for i := 0; i < int(h.count); i++ {
		if equalFoldString(h.fields[i].name, name) {
			return h.fields[i].value
		}
	}
	return nil
}

// Has reports whether a field named name is present.
func (h *Header) Has(name []byte) bool {
	for i := 0; i < int(h.count); i++ {
		if bytesEqualCaseInsensitive(h.fields[i].name, name) {
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return int(h.count)
}

// Reset clears the scratch area for the next head.
func (h *Header) Reset() {
	for i := 0; i < int(h.count); i++ {
		h.fields[i] = field{}
	}
	h.count = 0
}

// VisitAll calls visitor for each field in wire order.
// Iteration stops if visitor returns false.
func (h *Header) VisitAll(visitor func(name, value []byte) bool) {
	for i := 0; i < int(h.count); i++ {
		if !visitor(h.fields[i].name, h.fields[i].value) {
			return
		}
	}
}

// ResponseHeader is an ordered, growable list of response header fields.
// Fields are written in insertion order.
type ResponseHeader struct {
	names  []string
	values []string
}

// Add appends a field. Duplicates are kept.
func (h *ResponseHeader) Add(name, value string) {
	h.names = append(h.names, name)
	h.values = append(h.values, value)
}

// Set replaces every field named name with a single one, keeping the
// position of the first occurrence.
func (h *ResponseHeader) Set(name, value string) {
	for i := range h.names {
		if strings.EqualFold(h.names[i], name) {
			h.values[i] = value
			h.delFrom(i+1, name)
			return
		}
	}
	h.Add(name, value)
}

// Get returns the first value for name, or "".
func (h *ResponseHeader) Get(name string) string {
	for i := range h.names {
		if strings.EqualFold(h.names[i], name) {
			return h.values[i]
		}
	}
	return ""
}

// Del removes every field named name.
func (h *ResponseHeader) Del(name string) {
	h.delFrom(0, name)
}

func (h *ResponseHeader) delFrom(start int, name string) {
	j := start
	for i := start; i < len(h.names); i++ {
		if strings.EqualFold(h.names[i], name) {
			continue
		}
		h.names[j], h.values[j] = h.names[i], h.values[i]
		j++
	}
	h.names = h.names[:j]
	h.values = h.values[:j]
}

// Len returns the number of fields.
func (h *ResponseHeader) Len() int {
	return len(h.names)
}

// VisitAll calls visitor for each field in insertion order.
func (h *ResponseHeader) VisitAll(visitor func(name, value string) bool) {
	for i := range h.names {
		if !visitor(h.names[i], h.values[i]) {
			return
		}
	}
}

// Reset clears the header, keeping capacity.
func (h *ResponseHeader) Reset() {
	h.names = h.names[:0]
	h.values = h.values[:0]
}

// codecOwned reports whether name is written by EncodeHead itself.
func codecOwned(name string) bool {
	switch len(name) {
	case len(HeaderContentLength):
		return strings.EqualFold(name, HeaderContentLength)
	case len(HeaderTransferEncoding):
		return strings.EqualFold(name, HeaderTransferEncoding)
	case len(HeaderConnection):
		return strings.EqualFold(name, HeaderConnection)
	case len(HeaderServer):
		return strings.EqualFold(name, HeaderServer)
	case len(HeaderDate):
		return strings.EqualFold(name, HeaderDate)
	}
	return false
}

// validField reports whether a response field can be written verbatim.
// RFC 7230 §3.2: field values MUST NOT contain CR or LF (response splitting).
func validField(name, value string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return strings.IndexByte(value, '\r') < 0 && strings.IndexByte(value, '\n') < 0
}

// bytesEqualCaseInsensitive compares two byte slices case-insensitively.
// Optimized for ASCII header names.
func bytesEqualCaseInsensitive(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

func equalFoldString(a []byte, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

// toLower converts an ASCII byte to lowercase
func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// isTokenChar reports whether c may appear in a header name (RFC 7230 §3.2.6 tchar).
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
