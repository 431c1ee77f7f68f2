// Package clock provides the time source used wherever a "now" default is
// applied. Production code uses Real(); tests use Fixed().
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

// FixedClock always reports the same instant.
type FixedClock struct {
	t time.Time
}

// Fixed returns a Clock frozen at t.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the frozen instant.
func (c *FixedClock) Now() time.Time { return c.t }

// Set moves the frozen instant.
func (c *FixedClock) Set(t time.Time) { c.t = t }
