package services

import (
	"context"
	"time"

	"registro/internal/core"
)

// ReminderDue decides whether the daily "log your day" reminder should fire:
// notifications enabled, the configured time of day has passed, and it has
// not already fired today. The last-fired date is device state, so the
// reminder survives logins and account switches.
func ReminderDue(settings core.Settings, lastFired core.Date, now time.Time) bool {
	if !settings.NotificationEnabled {
		return false
	}
	if core.DateOf(now) == lastFired {
		return false
	}

	target, err := time.Parse("15:04", settings.NotificationTime)
	if err != nil {
		// A broken stored time falls back to the default slot.
		target, _ = time.Parse("15:04", "18:00")
	}
	minuteOfDay := now.Hour()*60 + now.Minute()
	return minuteOfDay >= target.Hour()*60+target.Minute()
}

// ReminderDue reports whether the reminder should fire right now.
func (t *Tracker) ReminderDue(ctx context.Context, now time.Time) bool {
	return ReminderDue(t.store.Settings(ctx), t.store.LastNotificationDate(ctx), now)
}

// MarkReminded records that the reminder fired on the given date.
func (t *Tracker) MarkReminded(ctx context.Context, d core.Date) error {
	return t.store.SetLastNotificationDate(ctx, d)
}
