package ratelimit

import "time"

// Clock abstracts time so the quota window can be driven by a fake clock in
// tests. The production implementation delegates to the time package.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the real wall clock.
func SystemClock() Clock {
	return systemClock{}
}
