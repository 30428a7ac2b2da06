package http11

import (
	"bytes"
	"strconv"
)

// Chunked transfer encoding (RFC 7230 §4.1).
//
//   chunk          = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
//   chunk-size     = 1*HEXDIG
//   last-chunk     = 1*("0") [ chunk-ext ] CRLF
//   trailer        = *( field-line CRLF )
//   chunked-body   = *chunk last-chunk trailer CRLF
//
// Example:
//   4\r\n
//   Wiki\r\n
//   5\r\n
//   pedia\r\n
//   0\r\n
//   \r\n
//
// Request bodies are only handed to the dispatcher once the whole chunked
// body is buffered, so decoding works on the read buffer directly: a first
// pass validates the framing without touching the buffer, a second pass
// moves the chunk data down over the framing in place.

// maxChunkLineSize bounds a chunk-size line including extensions.
const maxChunkLineSize = 4096

// maxChunkSizeDigits bounds the hex digits of a chunk size (16MB needs 7).
const maxChunkSizeDigits = 16

// scanChunked validates the chunked body at the start of buf.
// It returns the decoded body length and the framed bytes consumed.
// complete is false when buf ends before the body does.
func scanChunked(buf []byte, maxBody int64) (bodyLen int64, consumed int, complete bool, err error) {
	var s chunkScanner
	consumed, complete, err = s.scan(buf, maxBody)
	if err != nil || !complete {
		return 0, 0, false, err
	}
	return s.bodyLen, consumed, true, nil
}

// chunkScanner validates a chunked body that may arrive over several reads.
// It keeps the offset of the first chunk not yet validated, so each call
// only looks at chunks completed since the previous one. buf must hold the
// same bytes up to that offset on every call.
type chunkScanner struct {
	pos     int
	bodyLen int64
}

func (s *chunkScanner) scan(buf []byte, maxBody int64) (consumed int, complete bool, err error) {
	for {
		size, lineEnd, ok, err := parseChunkSize(buf[s.pos:])
		if err != nil || !ok {
			return 0, false, err
		}
		pos := s.pos + lineEnd

		if size == 0 {
			trailerEnd, ok, err := skipTrailers(buf[pos:])
			if err != nil || !ok {
				return 0, false, err
			}
			return pos + trailerEnd, true, nil
		}

		if maxBody > 0 && s.bodyLen+size > maxBody {
			return 0, false, ErrBodyTooLarge
		}

		// chunk-data CRLF
		if int64(len(buf)-pos)-2 < size {
			return 0, false, nil
		}
		pos += int(size)
		if buf[pos] != '\r' || buf[pos+1] != '\n' {
			return 0, false, ErrChunkedEncoding
		}
		s.pos = pos + 2
		s.bodyLen += size
	}
}

// dechunk strips the framing from a chunked body that scanChunked reported
// complete, compacting the data to the front of buf. Returns the body.
func dechunk(buf []byte, bodyLen int64) []byte {
	if bodyLen == 0 {
		return nil
	}
	pos, w := 0, 0
	for {
		size, lineEnd, _, _ := parseChunkSize(buf[pos:])
		pos += lineEnd
		if size == 0 {
			return buf[:w:w]
		}
		w += copy(buf[w:], buf[pos:pos+int(size)])
		pos += int(size) + 2
	}
}

// parseChunkSize parses a chunk-size line. n is the length of the line
// including CRLF. ok is false when the line is not complete yet.
//
// Security: chunk extensions are ignored, whitespace is not allowed
// around the size.
func parseChunkSize(buf []byte) (size int64, n int, ok bool, err error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > maxChunkLineSize {
			return 0, 0, false, ErrChunkedEncoding
		}
		return 0, 0, false, nil
	}
	if idx == 0 || buf[idx-1] != '\r' || idx > maxChunkLineSize {
		return 0, 0, false, ErrChunkedEncoding
	}
	line := buf[:idx-1]
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	if len(line) == 0 || len(line) > maxChunkSizeDigits {
		return 0, 0, false, ErrChunkedEncoding
	}

	for _, b := range line {
		size <<= 4
		switch {
		case b >= '0' && b <= '9':
			size |= int64(b - '0')
		case b >= 'a' && b <= 'f':
			size |= int64(b - 'a' + 10)
		case b >= 'A' && b <= 'F':
			size |= int64(b - 'A' + 10)
		default:
			return 0, 0, false, ErrChunkedEncoding
		}
		if size < 0 {
			return 0, 0, false, ErrChunkedEncoding
		}
	}
	return size, idx + 1, true, nil
}

// skipTrailers consumes the trailer section after the last chunk, up to and
// including the terminating blank line. Trailer fields are discarded.
func skipTrailers(buf []byte) (n int, ok bool, err error) {
	for {
		idx := bytes.IndexByte(buf[n:], '\n')
		if idx < 0 {
			// buf holds the complete trailer lines plus one partial line
			// and nothing after it.
			if len(buf) > MaxHeadSize {
				return 0, false, ErrChunkedEncoding
			}
			return 0, false, nil
		}
		if idx == 0 || buf[n+idx-1] != '\r' {
			return 0, false, ErrChunkedEncoding
		}
		blank := idx == 1
		n += idx + 1
		if blank {
			return n, true, nil
		}
		if n > MaxHeadSize {
			return 0, false, ErrChunkedEncoding
		}
	}
}

// appendChunk appends one chunk (size line, data, CRLF) to dst.
// Empty data would terminate the body, so callers must skip it.
func appendChunk(dst, data []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(data)), 16)
	dst = append(dst, crlf...)
	dst = append(dst, data...)
	return append(dst, crlf...)
}

// appendLastChunk appends the terminating zero-size chunk without trailers.
func appendLastChunk(dst []byte) []byte {
	return append(dst, lastChunk...)
}
