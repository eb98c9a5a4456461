// Package system provides the wall clock used for checkpoints, run history,
// and scan dates.
package system

import "time"

// Precision is the resolution of every timestamp the clock hands out. It
// matches what Postgres stores, so exported scan dates compare equal to the
// SQLite copies.
const Precision = time.Microsecond

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
