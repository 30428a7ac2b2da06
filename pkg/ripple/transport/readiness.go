package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

// maxEmptyReads bounds how often a (0, nil) read is retried before it is
// treated as a broken stream.
const maxEmptyReads = 100

// Readiness performs each call on the caller's goroutine. The Go runtime
// parks the goroutine until the socket is ready, so handing the buffer over is
// a borrow with no extra copy or hop.
type Readiness struct {
	conn net.Conn
}

var _ Transport = (*Readiness)(nil)

// NewReadiness wraps conn.
func NewReadiness(conn net.Conn) *Readiness {
	return &Readiness{conn: conn}
}

// Read implements Transport.
func (r *Readiness) Read(buf []byte) ([]byte, int, error) {
	return readInto(r.conn, buf)
}

// WriteAll implements Transport.
func (r *Readiness) WriteAll(buf []byte) ([]byte, error) {
	return buf, writeAll(r.conn, buf)
}

// Shutdown implements Transport.
func (r *Readiness) Shutdown() error {
	return shutdown(r.conn)
}

// Close implements Transport.
func (r *Readiness) Close() error {
	return r.conn.Close()
}

// SetReadDeadline implements Deadliner.
func (r *Readiness) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

// readInto reads once into the spare capacity of buf.
// io.EOF becomes (n, nil) so the caller sees EOF as a zero-length read.
func readInto(conn net.Conn, buf []byte) ([]byte, int, error) {
	if len(buf) == cap(buf) {
		return buf, 0, ErrNoSpace
	}
	spare := buf[len(buf):cap(buf)]

	for i := 0; i < maxEmptyReads; i++ {
		n, err := conn.Read(spare)
		buf = buf[:len(buf)+n]
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, n, nil
			}
			return buf, n, &OpError{Op: "read", Err: err}
		}
		if n > 0 {
			return buf, n, nil
		}
	}
	return buf, 0, &OpError{Op: "read", Err: io.ErrNoProgress}
}

// writeAll loops until every byte of buf is written.
func writeAll(conn net.Conn, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := conn.Write(buf[off:])
		off += n
		if err != nil {
			return &OpError{Op: "write", Err: err}
		}
		if n == 0 {
			return &OpError{Op: "write", Err: io.ErrShortWrite}
		}
	}
	return nil
}

type closeReader interface{ CloseRead() error }
type closeWriter interface{ CloseWrite() error }

// shutdown half-closes both directions when the connection supports it.
func shutdown(conn net.Conn) error {
	var errs []error
	if cw, ok := conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			errs = append(errs, err)
		}
	}
	if cr, ok := conn.(closeReader); ok {
		if err := cr.CloseRead(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &OpError{Op: "shutdown", Err: err}
	}
	return nil
}
