package http11

type framing uint8

const (
	framingNone framing = iota
	framingLength
	framingChunked
	framingClose
)

// Encoder writes the body of the response whose head was just encoded.
// It is owned by the Context and valid until the next EncodeHead.
type Encoder struct {
	ctx       *Context
	framing   framing
	remaining int64
	written   int64
	discard   bool
}

func (e *Encoder) reset() {
	e.framing = framingNone
	e.remaining = 0
	e.written = 0
	e.discard = false
}

// BodyAllowed reports whether body bytes reach the wire. It is false for
// HEAD requests and for 1xx, 204 and 304 responses; Encode then only
// counts bytes.
func (e *Encoder) BodyAllowed() bool {
	return !e.discard
}

// Chunked reports whether the body is sent with chunked framing.
func (e *Encoder) Chunked() bool {
	return e.framing == framingChunked
}

// Written returns the body bytes accepted so far.
func (e *Encoder) Written() int64 {
	return e.written
}

// Encode appends one body chunk to dst in the response's framing.
// Empty chunks are skipped so that they can never terminate a chunked body.
// A sized body fails with ErrBodyLengthMismatch when a chunk would exceed
// the declared length.
func (e *Encoder) Encode(chunk, dst []byte) ([]byte, error) {
	if e.ctx.state != StateBodyStreaming {
		return dst, ErrInvalidState
	}
	if len(chunk) == 0 {
		return dst, nil
	}
	n := int64(len(chunk))
	if e.framing == framingLength {
		if n > e.remaining {
			return dst, ErrBodyLengthMismatch
		}
		e.remaining -= n
	}
	e.written += n
	if e.discard {
		return dst, nil
	}

	switch e.framing {
	case framingChunked:
		dst = appendChunk(dst, chunk)
	case framingLength, framingClose:
		dst = append(dst, chunk...)
	}
	return dst, nil
}

// EncodeEOF terminates the body: the last-chunk for chunked framing,
// nothing otherwise. A sized body that is short fails with
// ErrBodyLengthMismatch.
func (e *Encoder) EncodeEOF(dst []byte) ([]byte, error) {
	if e.ctx.state != StateBodyStreaming {
		return dst, ErrInvalidState
	}
	if !e.discard {
		if e.framing == framingLength && e.remaining != 0 {
			return dst, ErrBodyLengthMismatch
		}
		if e.framing == framingChunked {
			dst = appendLastChunk(dst)
		}
	}
	e.ctx.state = StateResponseTerminated
	return dst, nil
}
