// Package clock abstracts wall time and one-shot timers so that the reminder
// scheduler and the session janitor can be driven by a manual clock in tests
package clock

import "time"

// Timer is a handle to a pending callback
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer; false means it already fired or was stopped
	Stop() bool
}

// Clock tells the time and schedules callbacks at a relative offset
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by package time
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
