// Package domaintest provides test doubles for the domain package.
package domaintest

import (
	"sync/atomic"
	"time"

	"github.com/aelexs/embedded-checkout/internal/domain"
)

// FakeClock is a Clock that moves only when a test moves it. It is safe to
// read from HTTP handler goroutines while the test advances it.
type FakeClock struct {
	nanos atomic.Int64
}

// NewFakeClock returns a FakeClock reading t.
func NewFakeClock(t time.Time) *FakeClock {
	c := &FakeClock{}
	c.nanos.Store(t.UnixNano())
	return c
}

func (c *FakeClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Advance moves the clock by d and returns the new reading.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}

// ExpireAt moves the clock to exp, the first instant at which a token carrying
// that expiry counts as expired.
func (c *FakeClock) ExpireAt(exp time.Time) {
	c.nanos.Store(exp.UnixNano())
}

var _ domain.Clock = (*FakeClock)(nil)
