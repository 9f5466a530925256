// Package clock supplies the time source the core uses for atime/mtime/ctime
// stamping, kept behind an interface so tests can control it directly rather
// than racing the wall clock.
package clock

import "time"

// Clock is the minimal time source the core depends on.
type Clock interface {
	Now() time.Time
}

// RealClock reports the actual wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

var _ Clock = RealClock{}
