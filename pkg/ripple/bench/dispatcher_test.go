package bench

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/yourusername/ripple/pkg/ripple/clock"
	"github.com/yourusername/ripple/pkg/ripple/http11"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

const testDate = "Tue, 02 Jan 2024 03:04:05 GMT"

func newWorker() *http11.WorkerState {
	clk := clock.New(time.Hour, clock.WithNow(func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	return &http11.WorkerState{Clock: clk}
}

// exchange writes raw to a served pipe connection and returns everything
// the server sends back before closing.
func exchange(t *testing.T, raw string) string {
	t.Helper()
	pc := fasthttputil.NewPipeConns()
	defer pc.Close()

	tr := transport.NewReadiness(pc.Conn2())
	conn := http11.NewConnection(tr, newWorker(), Dispatcher{}, http11.DefaultConnectionConfig())
	done := make(chan error, 1)
	go func() {
		err := conn.Serve(context.Background())
		tr.Close()
		done <- err
	}()

	if _, err := pc.Conn1().Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(pc.Conn1())
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
	return string(out)
}

func TestDispatcherRoutes(t *testing.T) {
	head := func(status, extra string) string {
		return "HTTP/1.1 " + status + "\r\n" + extra + "Server: ripple\r\nDate: " + testDate + "\r\n"
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plaintext",
			raw:  "GET /plaintext HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("200 OK", "Content-Type: text/plain\r\nContent-Length: 13\r\n") +
				"Connection: close\r\n\r\nHello, World!",
		},
		{
			name: "json",
			raw:  "GET /json HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("200 OK", "Content-Type: application/json\r\nContent-Length: 27\r\n") +
				"Connection: close\r\n\r\n" + `{"message":"Hello, World!"}`,
		},
		{
			name: "stream",
			raw:  "GET /stream HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("200 OK", "Content-Type: text/plain\r\nTransfer-Encoding: chunked\r\n") +
				"Connection: close\r\n\r\n5\r\nHello\r\n2\r\n, \r\n5\r\nWorld\r\n1\r\n!\r\n0\r\n\r\n",
		},
		{
			name: "echo",
			raw:  "POST /echo HTTP/1.1\r\nContent-Type: text/csv\r\nContent-Length: 3\r\nConnection: close\r\n\r\na,b",
			want: head("200 OK", "Content-Type: text/csv\r\nContent-Length: 3\r\n") +
				"Connection: close\r\n\r\na,b",
		},
		{
			name: "not found",
			raw:  "GET /db HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("404 Not Found", "Content-Length: 0\r\n") + "Connection: close\r\n\r\n",
		},
		{
			name: "wrong method",
			raw:  "GET /echo HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("404 Not Found", "Content-Length: 0\r\n") + "Connection: close\r\n\r\n",
		},
		{
			name: "head plaintext",
			raw:  "HEAD /plaintext HTTP/1.1\r\nConnection: close\r\n\r\n",
			want: head("200 OK", "Content-Type: text/plain\r\nContent-Length: 13\r\n") +
				"Connection: close\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, exchange(t, tt.raw)); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatcherPipelined(t *testing.T) {
	raw := strings.Repeat("GET /plaintext HTTP/1.1\r\n\r\n", 8) +
		"GET /json HTTP/1.1\r\nConnection: close\r\n\r\n"
	out := exchange(t, raw)

	if got := strings.Count(out, "Hello, World!"); got != 9 {
		t.Errorf("bodies = %d, want 9", got)
	}
	if !strings.HasSuffix(out, `{"message":"Hello, World!"}`) {
		t.Error("json response is not last")
	}
}

func TestEchoCopiesBody(t *testing.T) {
	ctx := http11.NewContext(newWorker().Clock, 0)
	buf := []byte("POST /echo HTTP/1.1\r\nContent-Length: 4\r\n\r\nping")
	req, _, err := ctx.DecodeHead(buf)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Dispatcher{}.Dispatch(context.Background(), req, newWorker())
	if err != nil {
		t.Fatal(err)
	}
	copy(buf[len(buf)-4:], "XXXX")
	if got := string(res.Body.Bytes()); got != "ping" {
		t.Errorf("body = %q after the read buffer changed", got)
	}
	if got := res.Header.Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q", got)
	}
}

func BenchmarkDispatchPlaintext(b *testing.B) {
	ctx := http11.NewContext(newWorker().Clock, 0)
	raw := []byte("GET /plaintext HTTP/1.1\r\nHost: x\r\n\r\n")
	req, _, err := ctx.DecodeHead(raw)
	if err != nil {
		b.Fatal(err)
	}
	ws := newWorker()
	d := Dispatcher{}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := d.Dispatch(context.Background(), req, ws); err != nil {
			b.Fatal(err)
		}
	}
}
