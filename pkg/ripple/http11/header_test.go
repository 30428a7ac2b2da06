package http11

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderScratchAdd(t *testing.T) {
	var h Header

	for i := 0; i < MaxHeaders; i++ {
		if err := h.add([]byte(fmt.Sprintf("X-Header-%d", i)), []byte("v")); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if h.Len() != MaxHeaders {
		t.Errorf("Len = %d, want %d", h.Len(), MaxHeaders)
	}
	if err := h.add([]byte("X-Overflow"), []byte("v")); !errors.Is(err, ErrTooManyHeaders) {
		t.Errorf("add past capacity: err = %v, want ErrTooManyHeaders", err)
	}
	if h.Has([]byte("X-Overflow")) {
		t.Error("rejected field was stored")
	}
}

func TestHeaderGetCaseInsensitive(t *testing.T) {
	var h Header
	h.add([]byte("Content-Type"), []byte("application/json"))

	for _, name := range []string{"Content-Type", "content-type", "CONTENT-TYPE", "CoNtEnT-TyPe"} {
		if got := string(h.Get([]byte(name))); got != "application/json" {
			t.Errorf("Get(%q) = %q", name, got)
		}
		if got := string(h.Peek(name)); got != "application/json" {
			t.Errorf("Peek(%q) = %q", name, got)
		}
	}
	if h.Get([]byte("Content-Length")) != nil {
		t.Error("Get of missing header returned a value")
	}
}

func TestHeaderFirstValueWins(t *testing.T) {
	var h Header
	h.add([]byte("Accept"), []byte("a"))
	h.add([]byte("Accept"), []byte("b"))

	if got := string(h.Get([]byte("accept"))); got != "a" {
		t.Errorf("Get = %q, want first value", got)
	}
}

func TestHeaderVisitAll(t *testing.T) {
	var h Header
	h.add([]byte("A"), []byte("1"))
	h.add([]byte("B"), []byte("2"))
	h.add([]byte("C"), []byte("3"))

	var got []string
	h.VisitAll(func(name, value []byte) bool {
		got = append(got, string(name)+"="+string(value))
		return len(got) < 2
	})
	if diff := cmp.Diff([]string{"A=1", "B=2"}, got); diff != "" {
		t.Errorf("VisitAll with early stop (-want +got):\n%s", diff)
	}
}

func TestHeaderReset(t *testing.T) {
	var h Header
	h.add([]byte("A"), []byte("1"))
	h.Reset()
	if h.Len() != 0 || h.Has([]byte("A")) {
		t.Error("Reset left fields behind")
	}
	if h.fields[0].name != nil {
		t.Error("Reset kept a view into the old buffer")
	}
}

func TestResponseHeaderOrder(t *testing.T) {
	var h ResponseHeader
	h.Add("Content-Type", "text/plain")
	h.Add("X-B", "1")
	h.Add("X-A", "2")
	h.Add("x-b", "3")

	type kv struct{ K, V string }
	collect := func() []kv {
		var out []kv
		h.VisitAll(func(name, value string) bool {
			out = append(out, kv{name, value})
			return true
		})
		return out
	}

	want := []kv{{"Content-Type", "text/plain"}, {"X-B", "1"}, {"X-A", "2"}, {"x-b", "3"}}
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Errorf("Add order (-want +got):\n%s", diff)
	}

	h.Set("X-B", "9")
	want = []kv{{"Content-Type", "text/plain"}, {"X-B", "9"}, {"X-A", "2"}}
	if diff := cmp.Diff(want, collect()); diff != "" {
		t.Errorf("after Set (-want +got):\n%s", diff)
	}

	h.Del("content-type")
	if h.Get("Content-Type") != "" || h.Len() != 2 {
		t.Errorf("Del left %d fields", h.Len())
	}

	h.Set("New", "v")
	if h.Get("new") != "v" || h.Len() != 3 {
		t.Error("Set of a new name did not append")
	}

	h.Reset()
	if h.Len() != 0 {
		t.Error("Reset left fields")
	}
}

func TestCodecOwned(t *testing.T) {
	owned := []string{"Content-Length", "content-length", "Transfer-Encoding", "CONNECTION", "Server", "date"}
	for _, name := range owned {
		if !codecOwned(name) {
			t.Errorf("codecOwned(%q) = false", name)
		}
	}
	for _, name := range []string{"Content-Type", "X-Date", "Servers", "Dat"} {
		if codecOwned(name) {
			t.Errorf("codecOwned(%q) = true", name)
		}
	}
}

func TestValidField(t *testing.T) {
	tests := []struct {
		name, value string
		valid       bool
	}{
		{"Content-Type", "text/plain", true},
		{"X-Empty", "", true},
		{"", "v", false},
		{"Bad Name", "v", false},
		{"X-Split", "a\r\nInjected: 1", false},
		{"X-LF", "a\nb", false},
		{"X-CR", "a\rb", false},
		{"Set-Cookie", "session=abc; Path=/", true},
	}
	for _, tt := range tests {
		if got := validField(tt.name, tt.value); got != tt.valid {
			t.Errorf("validField(%q, %q) = %v, want %v", tt.name, tt.value, got, tt.valid)
		}
	}
}

func BenchmarkHeaderGet(b *testing.B) {
	var h Header
	for i := 0; i < MaxHeaders; i++ {
		h.add([]byte(fmt.Sprintf("X-Header-%d", i)), []byte("value"))
	}
	name := []byte("x-header-7")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = h.Get(name)
	}
}

func BenchmarkResponseHeaderAdd(b *testing.B) {
	var h ResponseHeader
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		h.Reset()
		h.Add("Content-Type", "text/plain")
		h.Add("X-Request-Id", "abc")
	}
}
