package ttl

import "time"

// Clock is the time source used to stamp and evaluate values.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock. Tests use it to drive time by hand.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// OrSystem returns c, or SystemClock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}
