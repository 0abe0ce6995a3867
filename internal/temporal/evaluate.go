package temporal

import (
	"time"

	"github.com/sentra-iam/sentra/internal/shared"
)

// Evaluate checks every non-session axis of the constraint at the given
// instant. It returns nil when the constraint holds and a typed engine error
// naming the failing axis otherwise.
func Evaluate(c Constraint, now time.Time) error {
	if err := checkLockWindow(c, now); err != nil {
		return err
	}
	if err := checkDateWindow(c, now); err != nil {
		return err
	}
	if err := checkDayMask(c, now); err != nil {
		return err
	}
	return checkTimeWindow(c, now)
}

// EvaluateSession applies Evaluate plus the inactivity timeout, which only
// makes sense for an existing session with a last-access timestamp.
func EvaluateSession(c Constraint, now, lastAccess time.Time) error {
	if c.Timeout > 0 && !lastAccess.IsZero() && now.Sub(lastAccess) > c.Timeout {
		return shared.NewError(shared.CodeTemporalTimeout, shared.KindConstraint, "session inactivity timeout exceeded")
	}
	return Evaluate(c, now)
}

func checkLockWindow(c Constraint, now time.Time) error {
	if c.BeginLockDate.IsZero() && c.EndLockDate.IsZero() {
		return nil
	}
	day := dateOnly(now)
	afterBegin := c.BeginLockDate.IsZero() || !day.Before(dateOnly(c.BeginLockDate))
	beforeEnd := c.EndLockDate.IsZero() || !day.After(dateOnly(c.EndLockDate))
	if afterBegin && beforeEnd {
		return shared.NewError(shared.CodeTemporalLock, shared.KindConstraint, "entity is within its lock window")
	}
	return nil
}

func checkDateWindow(c Constraint, now time.Time) error {
	day := dateOnly(now)
	if !c.BeginDate.IsZero() && day.Before(dateOnly(c.BeginDate)) {
		return shared.NewError(shared.CodeTemporalDate, shared.KindConstraint, "validity window has not begun")
	}
	if !c.EndDate.IsZero() && day.After(dateOnly(c.EndDate)) {
		return shared.NewError(shared.CodeTemporalDate, shared.KindConstraint, "validity window has ended")
	}
	return nil
}

func checkDayMask(c Constraint, now time.Time) error {
	if c.DayMask.Contains(now.Weekday()) {
		return nil
	}
	return shared.NewError(shared.CodeTemporalDay, shared.KindConstraint, "weekday not permitted")
}

func checkTimeWindow(c Constraint, now time.Time) error {
	if c.BeginTime == 0 && c.EndTime == 0 {
		return nil
	}
	tod := now.Hour()*100 + now.Minute()
	var ok bool
	if c.EndTime < c.BeginTime {
		// Window wraps past midnight, e.g. 2200-0600.
		ok = tod >= c.BeginTime || tod <= c.EndTime
	} else {
		ok = tod >= c.BeginTime && tod <= c.EndTime
	}
	if !ok {
		return shared.NewError(shared.CodeTemporalTime, shared.KindConstraint, "time of day not permitted")
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
