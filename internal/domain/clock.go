package domain

import "time"

// Clock provides the current time. The coordinator and token inspection take
// a Clock so tests can pin token expiry decisions.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Expired reports whether exp is set and not after the clock's current time.
func Expired(c Clock, exp time.Time) bool {
	if exp.IsZero() {
		return false
	}
	return !c.Now().Before(exp)
}

var _ Clock = RealClock{}
