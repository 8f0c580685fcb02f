// Package throttle rate-limits a reporting action: however often it is
// invoked, the action runs at most once per interval.
package throttle

import "time"

// Clock returns the current time.
type Clock func() time.Time

// Throttle wraps a zero-argument action with a minimum interval between
// executions. Calls that arrive too early are dropped, not deferred.
//
// A Throttle is owned by a single caller and is not safe for concurrent use.
type Throttle struct {
	interval time.Duration
	action   func() error
	now      Clock

	last    time.Time
	started bool
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now, e.g. with a fake clock in tests.
func WithClock(c Clock) Option {
	return func(t *Throttle) { t.now = c }
}

// New returns a Throttle for action. An interval <= 0 lets every call through.
func New(interval time.Duration, action func() error, opts ...Option) *Throttle {
	t := &Throttle{
		interval: interval,
		action:   action,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaybeCall runs the action if this is the first call or at least interval
// has elapsed since the last execution, and reports whether it ran. The
// execution time is recorded before the action runs, so a slow or failing
// action still counts as an execution.
func (t *Throttle) MaybeCall() (ran bool, err error) {
	now := t.now()
	if t.started && now.Sub(t.last) < t.interval {
		return false, nil
	}
	t.started = true
	t.last = now
	return true, t.action()
}

// Interval returns the minimum time between executions.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
