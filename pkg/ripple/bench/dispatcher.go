// Package bench provides the TechEmpower-style dispatcher served by the
// ripple-bench binary.
package bench

import (
	"context"

	"github.com/yourusername/ripple/pkg/ripple/http11"
)

const helloWorld = "Hello, World!"

// Message is the body of the /json route.
type Message struct {
	Message string `json:"message"`
}

// streamParts are the chunks of the /stream route.
var streamParts = [][]byte{
	[]byte("Hello"),
	[]byte(", "),
	[]byte("World"),
	[]byte("!"),
}

// Dispatcher answers the benchmark routes:
//
//	GET  /plaintext  text/plain "Hello, World!"
//	GET  /json       {"message":"Hello, World!"}
//	GET  /stream     the plaintext body as a chunked stream
//	POST /echo       the request body
//
// Every other request gets an empty 404.
type Dispatcher struct{}

var _ http11.Dispatcher = Dispatcher{}

// Dispatch implements http11.Dispatcher.
func (Dispatcher) Dispatch(ctx context.Context, req *http11.Request, ws *http11.WorkerState) (*http11.Response, error) {
	switch req.Path() {
	case "/plaintext":
		if req.IsGET() || req.IsHEAD() {
			return http11.Text(200, helloWorld), nil
		}
	case "/json":
		if req.IsGET() || req.IsHEAD() {
			return http11.JSON(200, Message{Message: helloWorld})
		}
	case "/stream":
		if req.IsGET() || req.IsHEAD() {
			return http11.Stream(200, http11.ContentTypePlain, http11.NewSliceStream(streamParts...)), nil
		}
	case "/echo":
		if req.IsPOST() {
			return echo(req), nil
		}
	}
	return http11.NewResponse(404), nil
}

// echo answers with a copy of the request body, so the response does not
// alias the connection's read buffer.
func echo(req *http11.Request) *http11.Response {
	body := append([]byte(nil), req.Body...)
	res := &http11.Response{Status: 200, Body: http11.BytesBody(body)}
	if ct := req.GetHeaderString("Content-Type"); ct != "" {
		res.Header.Add(http11.HeaderContentType, ct)
	} else {
		res.Header.Add(http11.HeaderContentType, "application/octet-stream")
	}
	return res
}
