// Package system provides clock implementations.
package system

import "time"

// DateLayout formats as-of dates used for cache and results paths.
const DateLayout = "2006-01-02"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at one instant.
type Fixed time.Time

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}

// Today returns the current UTC date in DateLayout.
func Today(c interface{ Now() time.Time }) string {
	return c.Now().UTC().Format(DateLayout)
}
