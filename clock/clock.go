package clock

import "time"

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop reports whether the call stopped the timer before it fired.
	Stop() bool
}

// Clock is the time source of the engine's retry timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real is the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
