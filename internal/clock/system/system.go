// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock using time.Now. Readings are UTC and
// truncated to microseconds so they compare equal after a round-trip through
// a Postgres timestamptz column.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Since returns the elapsed time from t on this clock.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
