package account

import "time"

// LockoutPolicy is the shared failure-counting primitive used by password
// login and two-factor verification. State lives on the account row; the
// policy only computes transitions.
type LockoutPolicy struct {
	Threshold int
	LockFor   time.Duration
}

// Counter is a failure counter plus its optional lock deadline.
type Counter struct {
	Attempts  int
	LockUntil *time.Time
}

// Failure increments the counter and, once the threshold is reached, sets
// the lock deadline. The counter is retained while locked; only a
// subsequent success clears it.
func (p LockoutPolicy) Failure(c Counter, now time.Time) Counter {
	c.Attempts++
	if c.Attempts >= p.Threshold {
		until := now.Add(p.LockFor)
		c.LockUntil = &until
	}
	return c
}

// Success resets the counter and clears the lock.
func (p LockoutPolicy) Success() Counter {
	return Counter{}
}

// Locked reports whether the lock deadline is strictly in the future.
// Boundary-equal is unlocked.
func (p LockoutPolicy) Locked(c Counter, now time.Time) bool {
	return c.LockUntil != nil && c.LockUntil.After(now)
}
