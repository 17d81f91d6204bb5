// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock reads the system time. Readings are normalized to UTC because
// ledger keys and range math are derived from them.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
