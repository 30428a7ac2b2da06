// Package clock provides the cached HTTP Date value shared by every connection of a worker.
package clock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultResolution is how often the cached date is rebuilt.
// HTTP dates have one-second granularity, so anything below a second is enough.
const DefaultResolution = 500 * time.Millisecond

// DateSize is the length of an IMF-fixdate: "Sun, 06 Nov 1994 08:49:37 GMT".
const DateSize = 29

// Clock keeps one formatted IMF-fixdate string that is refreshed on its own
// cadence instead of being formatted for every response.
//
// Readers call Date or AppendDate from any goroutine. Each refresh publishes a
// freshly allocated slice through an atomic pointer, so a reader never blocks
// the refresher and never sees a half-written value.
type Clock struct {
	resolution time.Duration
	now        func() time.Time
	date       atomic.Pointer[[]byte]
	refreshes  atomic.Uint64
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the time source. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New creates a Clock with the given refresh resolution.
// A zero or negative resolution selects DefaultResolution.
// The date is formatted once before New returns.
func New(resolution time.Duration, opts ...Option) *Clock {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	c := &Clock{
		resolution: resolution,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Refresh()
	return c
}

// Resolution returns the refresh interval.
func (c *Clock) Resolution() time.Duration {
	return c.resolution
}

// Refresh formats the current time and publishes it.
func (c *Clock) Refresh() {
	b := fasthttp.AppendHTTPDate(make([]byte, 0, DateSize), c.now())
	c.date.Store(&b)
	c.refreshes.Add(1)
}

// Date returns the cached date. The returned slice must not be modified.
func (c *Clock) Date() []byte {
	return *c.date.Load()
}

// AppendDate appends the cached date to dst.
func (c *Clock) AppendDate(dst []byte) []byte {
	return append(dst, *c.date.Load()...)
}

// Refreshes returns how many times the date has been rebuilt.
func (c *Clock) Refreshes() uint64 {
	return c.refreshes.Load()
}

// Run refreshes the date every resolution until ctx is done.
// It returns nil on cancellation so it can run inside an errgroup.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Refresh()
		}
	}
}
