package http11

import (
	"testing"
)

// Zero-Allocation Benchmarks
//
// These measure the codec on its own, with the read buffer and the write
// buffer owned by the benchmark the way the connection driver owns them.
//
// Goal: 0 allocs/op for decoding any request with at most MaxHeaders fields

var (
	simpleGETBytes = []byte("GET /api/users HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: Go-http-client/1.1\r\n" +
		"\r\n")

	multiHeaderBytes = []byte("GET /api/data HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: Mozilla/5.0\r\n" +
		"Accept: application/json\r\n" +
		"Accept-Encoding: gzip, deflate\r\n" +
		"Accept-Language: en-US,en;q=0.9\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Connection: keep-alive\r\n" +
		"Cookie: session=abc123\r\n" +
		"\r\n")

	postWithBodyBytes = []byte("POST /api/users HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 25\r\n" +
		"\r\n" +
		`{"name":"Alice","age":30}`)
)

func TestZeroAlloc_DecodeHead(t *testing.T) {
	ctx := newTestContext()
	for _, raw := range [][]byte{simpleGETBytes, multiHeaderBytes, postWithBodyBytes} {
		allocs := testing.AllocsPerRun(100, func() {
			ctx.Reset()
			if _, _, err := ctx.DecodeHead(raw); err != nil {
				t.Fatal(err)
			}
		})
		if allocs != 0 {
			t.Errorf("DecodeHead(%q...) allocs = %v, want 0", raw[:16], allocs)
		}
	}
}

func benchmarkDecode(b *testing.B, raw []byte) {
	ctx := newTestContext()
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.Reset()
		req, _, err := ctx.DecodeHead(raw)
		if err != nil || req == nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkZeroAlloc_DecodeSimpleGET benchmarks decoding a simple GET request
func BenchmarkZeroAlloc_DecodeSimpleGET(b *testing.B) {
	benchmarkDecode(b, simpleGETBytes)
}

// BenchmarkZeroAlloc_DecodeMultipleHeaders fills the header scratch area
func BenchmarkZeroAlloc_DecodeMultipleHeaders(b *testing.B) {
	benchmarkDecode(b, multiHeaderBytes)
}

// BenchmarkZeroAlloc_DecodePOST benchmarks decoding a POST request with body
func BenchmarkZeroAlloc_DecodePOST(b *testing.B) {
	benchmarkDecode(b, postWithBodyBytes)
}

// BenchmarkZeroAlloc_FullCycle measures decode + encode of a fixed response
func BenchmarkZeroAlloc_FullCycle(b *testing.B) {
	ctx := newTestContext()
	res := Text(200, "Hello, World!")
	dst := make([]byte, 0, 512)

	b.ReportAllocs()
	b.SetBytes(int64(len(simpleGETBytes)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := ctx.DecodeHead(simpleGETBytes); err != nil {
			b.Fatal(err)
		}
		enc, out, err := ctx.EncodeHead(res, dst[:0])
		if err != nil {
			b.Fatal(err)
		}
		if out, err = enc.Encode(res.Body.Bytes(), out); err != nil {
			b.Fatal(err)
		}
		if out, err = enc.EncodeEOF(out); err != nil {
			b.Fatal(err)
		}
		dst = out
	}
}

// BenchmarkZeroAlloc_Pipelined decodes a batch of requests from one buffer
func BenchmarkZeroAlloc_Pipelined(b *testing.B) {
	var batch []byte
	for i := 0; i < 16; i++ {
		batch = append(batch, simpleGETBytes...)
	}
	ctx := newTestContext()
	res := NewResponse(204)
	dst := make([]byte, 0, 4096)

	b.ReportAllocs()
	b.SetBytes(int64(len(batch)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := dst[:0]
		for off := 0; off < len(batch); {
			_, n, err := ctx.DecodeHead(batch[off:])
			if err != nil || n == 0 {
				b.Fatal(err)
			}
			off += n
			enc, wb, err := ctx.EncodeHead(res, out)
			if err != nil {
				b.Fatal(err)
			}
			if out, err = enc.EncodeEOF(wb); err != nil {
				b.Fatal(err)
			}
		}
		dst = out
	}
}
