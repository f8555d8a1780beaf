package util

import "time"

// Timer is the stoppable subset of *time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type Clock interface {
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) NewTimer(d time.Duration) Timer         { return realTimer{time.NewTimer(d)} }
func (RealClock) Now() time.Time                         { return time.Now() }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
