// Package temporal evaluates validity constraints against a point in time.
// The evaluator is pure: it never touches the store and has no side effects,
// so the session state machine can call it on every access check.
package temporal

import "time"

// DayMask selects weekdays on which an entity is valid. The zero value means
// every day.
type DayMask uint8

// Weekday bits, Sunday first to line up with time.Weekday.
const (
	Sunday DayMask = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// AllDays covers the whole week; equivalent to an unset mask.
const AllDays = Sunday | Monday | Tuesday | Wednesday | Thursday | Friday | Saturday

// Contains reports whether the mask allows the given weekday.
func (m DayMask) Contains(d time.Weekday) bool {
	if m == 0 {
		return true
	}
	return m&(1<<uint(d)) != 0
}

// Constraint bounds when a user, role or assignment is usable. Zero values on
// any axis mean that axis is unconstrained.
type Constraint struct {
	// BeginDate and EndDate bound the calendar validity window (inclusive).
	BeginDate time.Time `json:"begin_date,omitempty"`
	EndDate   time.Time `json:"end_date,omitempty"`

	// BeginLockDate and EndLockDate bound a suspension window (inclusive).
	// Opposite polarity from the other axes: inside the window is invalid.
	BeginLockDate time.Time `json:"begin_lock_date,omitempty"`
	EndLockDate   time.Time `json:"end_lock_date,omitempty"`

	// BeginTime and EndTime bound the time of day in HHMM form. A window
	// with EndTime < BeginTime wraps past midnight. Both zero means
	// unconstrained.
	BeginTime int `json:"begin_time,omitempty"`
	EndTime   int `json:"end_time,omitempty"`

	// DayMask restricts validity to a subset of weekdays.
	DayMask DayMask `json:"day_mask,omitempty"`

	// Timeout is the session inactivity limit. Zero means no limit. Only
	// consulted by session-scoped evaluation.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// IsZero reports whether no axis is constrained.
func (c Constraint) IsZero() bool {
	return c.BeginDate.IsZero() && c.EndDate.IsZero() &&
		c.BeginLockDate.IsZero() && c.EndLockDate.IsZero() &&
		c.BeginTime == 0 && c.EndTime == 0 &&
		c.DayMask == 0 && c.Timeout == 0
}

// Merge returns c with unset axes filled from fallback. Assignments carry
// their own constraint but default to the role's where silent.
func (c Constraint) Merge(fallback Constraint) Constraint {
	out := c
	if out.BeginDate.IsZero() && out.EndDate.IsZero() {
		out.BeginDate, out.EndDate = fallback.BeginDate, fallback.EndDate
	}
	if out.BeginLockDate.IsZero() && out.EndLockDate.IsZero() {
		out.BeginLockDate, out.EndLockDate = fallback.BeginLockDate, fallback.EndLockDate
	}
	if out.BeginTime == 0 && out.EndTime == 0 {
		out.BeginTime, out.EndTime = fallback.BeginTime, fallback.EndTime
	}
	if out.DayMask == 0 {
		out.DayMask = fallback.DayMask
	}
	if out.Timeout == 0 {
		out.Timeout = fallback.Timeout
	}
	return out
}
