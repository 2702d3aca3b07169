// Package schedule decides when active notifications are due and drives the
// periodic delivery loop.
package schedule

import (
	"time"

	"github.com/contalink/bandeja/internal/domain"
)

// Decision is the outcome of evaluating one record at one instant.
type Decision struct {
	Fire        bool
	RepeatsSent int        // repeat counter after applying this decision
	LastFiredAt *time.Time // updated only when a fixed-daily record fires
	Active      bool
	DayReset    bool // a fixed-daily counter was reset for a new local day
}

// Evaluate is a pure function over (record, now): it decides whether the
// record is due to fire and computes the updated repeat state. Inactive
// records and records without a complete recurrence configuration never
// fire.
func Evaluate(n domain.Notification, now time.Time) Decision {
	d := Decision{
		RepeatsSent: n.RepeatsSent,
		LastFiredAt: n.LastFiredAt,
		Active:      n.Active,
	}
	if !n.Active || !n.Schedulable() {
		return d
	}

	max := *n.MaxRepeats
	if max <= 0 {
		// Zero means "fire once".
		max = 1
	}
	interval := time.Duration(*n.IntervalMinutes) * time.Minute

	switch n.Kind {
	case domain.KindFixedDaily:
		sent := n.RepeatsSent
		if newLocalDay(n.LastFiredAt, now) && sent > 0 {
			sent = 0
			d.DayReset = true
		}
		d.RepeatsSent = sent

		sched := *n.ScheduledAt
		next := time.Date(now.Year(), now.Month(), now.Day(),
			sched.Hour(), sched.Minute(), sched.Second(), 0, now.Location()).
			Add(time.Duration(sent) * interval)

		if !now.Before(next) && sent < max {
			d.Fire = true
			d.RepeatsSent = sent + 1
			fired := now
			d.LastFiredAt = &fired
			// Fixed-daily records are never deactivated here; they re-arm
			// on the next calendar day.
		}

	case domain.KindImmediate, domain.KindScheduled:
		next := n.ScheduledAt.Add(time.Duration(n.RepeatsSent) * interval)
		if !now.Before(next) && n.RepeatsSent < max {
			d.Fire = true
			d.RepeatsSent = n.RepeatsSent + 1
			if d.RepeatsSent >= max {
				d.Active = false
			}
		}
	}
	return d
}

// newLocalDay reports whether now falls on a different local calendar day
// than last. A nil last counts as a new day.
func newLocalDay(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	ly, lm, ld := last.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}
