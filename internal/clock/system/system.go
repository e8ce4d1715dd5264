// Package system provides the clocks used to stamp manifests and outcomes.
package system

import "time"

// Clock reports the current time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() Clock { return Clock{} }

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant; tests use it for reproducible artifacts.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f).UTC() }
