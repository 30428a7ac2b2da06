package http11

import (
	"bytes"
	"math"
)

var headTerminator = []byte("\r\n\r\n")

// headInfo collects the headers that drive framing and keep-alive.
type headInfo struct {
	contentLength int64 // -1 when absent
	chunked       bool
	connClose     bool
	connKeepAlive bool
	hasHost       bool
	expect100     bool
}

// parseRequestLine parses "METHOD SP request-target SP HTTP-version CRLF"
// at the start of buf and returns the length of the line including CRLF.
//
// Allocation behavior: 0 allocs/op
func parseRequestLine(req *Request, buf []byte) (int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return 0, ErrInvalidRequestLine
	}
	if idx > MaxRequestLineSize {
		return 0, ErrRequestLineTooLarge
	}
	if idx == 0 || buf[idx-1] != '\r' {
		return 0, ErrInvalidRequestLine
	}
	line := buf[:idx-1]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return 0, ErrInvalidRequestLine
	}
	req.methodBytes = line[:sp1]
	req.MethodID = ParseMethodID(req.methodBytes)
	if req.MethodID == MethodUnknown {
		return 0, ErrInvalidMethod
	}

	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return 0, ErrInvalidRequestLine
	}
	target, proto := rest[:sp2], rest[sp2+1:]

	switch {
	case bytes.Equal(proto, []byte(http11Version)):
		req.ProtoMinor = 1
	case bytes.Equal(proto, []byte(http10Version)):
		req.ProtoMinor = 0
	case bytes.HasPrefix(proto, []byte("HTTP/")):
		return 0, ErrInvalidProtocol
	default:
		return 0, ErrInvalidRequestLine
	}

	if err := parseTarget(req, target); err != nil {
		return 0, err
	}
	return idx + 1, nil
}

// parseTarget splits an origin-form target into path and query.
// "*" is only accepted for OPTIONS (RFC 7230 §5.3.4).
func parseTarget(req *Request, target []byte) error {
	if len(target) == 1 && target[0] == '*' {
		if req.MethodID != MethodOPTIONS {
			return ErrInvalidPath
		}
		req.pathBytes = target
		return nil
	}
	if target[0] != '/' {
		return ErrInvalidPath
	}
	for _, c := range target {
		if c <= ' ' || c == 0x7f {
			return ErrInvalidPath
		}
	}
	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.pathBytes = target[:q]
		req.queryBytes = target[q+1:]
	} else {
		req.pathBytes = target
	}
	return nil
}

// parseHeaders parses the header block (every line ends with CRLF, the
// terminating blank line excluded) into the request's scratch area.
//
// Security:
// - obs-fold continuation lines are rejected (RFC 7230 §3.2.4)
// - whitespace between name and colon is rejected (RFC 7230 §3.2.4)
// - bare CR or NUL in values is rejected
func parseHeaders(req *Request, buf []byte) (headInfo, error) {
	info := headInfo{contentLength: -1}

	for len(buf) > 0 {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 1 || buf[idx-1] != '\r' {
			return info, ErrInvalidHeader
		}
		line := buf[:idx-1]
		buf = buf[idx+1:]

		if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
			return info, ErrInvalidHeader
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return info, ErrInvalidHeader
		}
		name := line[:colon]
		for _, c := range name {
			if !isTokenChar(c) {
				return info, ErrInvalidHeader
			}
		}
		value := trimTrailingSpace(trimLeadingSpace(line[colon+1:]))
		for _, c := range value {
			if c == '\r' || c == 0 {
				return info, ErrInvalidHeader
			}
		}

		if err := req.Header.add(name, value); err != nil {
			return info, err
		}
		if err := processSpecialHeader(&info, name, value); err != nil {
			return info, err
		}
	}

	if info.chunked && info.contentLength >= 0 {
		return info, ErrContentLengthWithTransferEncoding
	}
	return info, nil
}

// processSpecialHeader records headers that affect framing or keep-alive.
func processSpecialHeader(info *headInfo, name, value []byte) error {
	switch len(name) {
	case len(headerContentLength):
		if !bytesEqualCaseInsensitive(name, headerContentLength) {
			return nil
		}
		n, err := parseContentLength(value)
		if err != nil {
			return err
		}
		if info.contentLength >= 0 && info.contentLength != n {
			return ErrDuplicateContentLength
		}
		info.contentLength = n

	case len(headerTransferEncoding):
		if !bytesEqualCaseInsensitive(name, headerTransferEncoding) {
			return nil
		}
		// Only a single "chunked" coding is supported.
		if info.chunked || !bytesEqualCaseInsensitive(value, tokenChunked) {
			return ErrUnsupportedTransferEncoding
		}
		info.chunked = true

	case len(headerConnection):
		if !bytesEqualCaseInsensitive(name, headerConnection) {
			return nil
		}
		for len(value) > 0 {
			var tok []byte
			if comma := bytes.IndexByte(value, ','); comma >= 0 {
				tok, value = value[:comma], value[comma+1:]
			} else {
				tok, value = value, nil
			}
			tok = trimTrailingSpace(trimLeadingSpace(tok))
			switch {
			case bytesEqualCaseInsensitive(tok, tokenClose):
				info.connClose = true
			case bytesEqualCaseInsensitive(tok, tokenKeepAlive):
				info.connKeepAlive = true
			}
		}

	case len(headerHost):
		if !bytesEqualCaseInsensitive(name, headerHost) {
			return nil
		}
		if info.hasHost {
			return ErrInvalidHeader
		}
		info.hasHost = true

	case len("Expect"):
		if equalFoldString(name, "Expect") && equalFoldString(value, "100-continue") {
			info.expect100 = true
		}
	}
	return nil
}

// parseContentLength parses a Content-Length value: 1*DIGIT.
func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return -1, ErrInvalidContentLength
	}

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + d
	}
	return n, nil
}

// trimLeadingSpace trims leading spaces and tabs (per RFC 7230)
func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}

// trimTrailingSpace trims trailing spaces and tabs (per RFC 7230)
func trimTrailingSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
