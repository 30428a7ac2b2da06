package http11

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/ripple/pkg/ripple/clock"
)

// testDate is what the fixed test clock renders.
const testDate = "Tue, 02 Jan 2024 03:04:05 GMT"

func newTestClock() *clock.Clock {
	return clock.New(time.Hour, clock.WithNow(func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
}

func newTestContext() *Context {
	return NewContext(newTestClock(), 0)
}

// scriptTransport replays scripted reads and records writes. When the
// script runs out it reports EOF as a zero-length read.
type scriptTransport struct {
	mu sync.Mutex

	reads   [][]byte
	readErr error

	// onRead is called with the buffer handed to each Read
	onRead func(buf []byte)

	written   bytes.Buffer
	writes    int
	writeErr  error
	readCalls int
	shutdowns int
	closed    bool
	deadlines int
	spare     []int
}

func newScript(reads ...string) *scriptTransport {
	s := &scriptTransport{}
	for _, r := range reads {
		s.reads = append(s.reads, []byte(r))
	}
	return s
}

func (s *scriptTransport) Read(buf []byte) ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	s.spare = append(s.spare, cap(buf)-len(buf))
	if s.onRead != nil {
		s.onRead(buf)
	}
	if len(s.reads) == 0 {
		return buf, 0, s.readErr
	}
	chunk := s.reads[0]
	n := copy(buf[len(buf):cap(buf)], chunk)
	if n < len(chunk) {
		s.reads[0] = chunk[n:]
	} else {
		s.reads = s.reads[1:]
	}
	return buf[:len(buf)+n], n, nil
}

func (s *scriptTransport) WriteAll(buf []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return buf, s.writeErr
	}
	s.written.Write(buf)
	return buf, nil
}

func (s *scriptTransport) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
	return nil
}

func (s *scriptTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptTransport) SetReadDeadline(time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines++
	return nil
}

func (s *scriptTransport) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

var errBackend = errors.New("backend unavailable")

// testDispatcher mirrors the benchmark routes plus failure cases.
func testDispatcher() Dispatcher {
	return DispatcherFunc(func(ctx context.Context, req *Request, ws *WorkerState) (*Response, error) {
		switch string(req.PathBytes()) {
		case "/plaintext":
			return Text(200, "Hello, World!"), nil
		case "/json":
			return JSON(200, map[string]string{"message": "Hello, World!"})
		case "/stream":
			return Stream(200, ContentTypePlain, NewSliceStream([]byte("a"), []byte("bb"), []byte(""))), nil
		case "/sized":
			res := &Response{Status: 200, Body: SizedStreamBody(NewSliceStream([]byte("abc"), []byte("de")), 5)}
			return res, nil
		case "/short":
			res := &Response{Status: 200, Body: SizedStreamBody(NewSliceStream([]byte("abc")), 5)}
			return res, nil
		case "/broken-stream":
			calls := 0
			return Stream(200, "", StreamFunc(func(context.Context) ([]byte, error) {
				calls++
				if calls == 1 {
					return []byte("partial"), nil
				}
				return nil, errBackend
			})), nil
		case "/echo":
			res := &Response{Status: 200, Body: BytesBody(req.Body)}
			res.Header.Add(HeaderContentType, "application/octet-stream")
			return res, nil
		case "/no-content":
			return NewResponse(204), nil
		case "/error":
			return nil, errBackend
		case "/panic":
			panic("boom")
		case "/nil":
			return nil, nil
		case "/bad-header":
			res := NewResponse(200)
			res.Header.Add("X-Split", "a\r\nInjected: 1")
			return res, nil
		case "/close":
			res := Text(200, "bye")
			res.Close = true
			return res, nil
		case "/owned-headers":
			res := Text(200, "x")
			res.Header.Add("Content-Length", "999")
			res.Header.Add("Server", "other")
			res.Header.Add("X-Trace", "1")
			return res, nil
		}
		return NewResponse(404), nil
	})
}

// serveScript runs a connection over a scripted transport to completion.
func serveScript(t *testing.T, config ConnectionConfig, reads ...string) (*scriptTransport, error) {
	t.Helper()
	tr := newScript(reads...)
	ws := &WorkerState{Clock: newTestClock()}
	conn := NewConnection(tr, ws, testDispatcher(), config)
	err := conn.Serve(context.Background())
	return tr, err
}

// readAllFrom drains r, failing the test on errors other than EOF.
func readAllFrom(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return string(b)
}

// plaintextResponse is the exact bytes for GET /plaintext on HTTP/1.1.
const plaintextResponse = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 13\r\n" +
	"Server: ripple\r\n" +
	"Date: " + testDate + "\r\n" +
	"\r\n" +
	"Hello, World!"
