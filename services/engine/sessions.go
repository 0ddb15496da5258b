package engine

import "time"

// Session is one continuous trading window within the day, expressed as
// offsets from midnight local time.
type Session struct {
	Start time.Duration
	End   time.Duration
}

// Calendar holds the day's trading sessions. An empty calendar means always
// open.
type Calendar struct {
	Sessions []Session
}

// MainlandSessions is the default cash-equity schedule: a morning and an
// afternoon auction-to-close window.
func MainlandSessions() Calendar {
	return Calendar{Sessions: []Session{
		{Start: 9*time.Hour + 30*time.Minute, End: 11*time.Hour + 30*time.Minute},
		{Start: 13 * time.Hour, End: 15 * time.Hour},
	}}
}

// IsOpen reports whether the timestamp falls inside a trading session.
func (c Calendar) IsOpen(ts time.Time) bool {
	if len(c.Sessions) == 0 {
		return true
	}
	d := clockOffset(ts)
	for _, s := range c.Sessions {
		if d >= s.Start && d < s.End {
			return true
		}
	}
	return false
}

// clockOffset is the time-of-day as a duration since midnight.
func clockOffset(ts time.Time) time.Duration {
	return time.Duration(ts.Hour())*time.Hour +
		time.Duration(ts.Minute())*time.Minute +
		time.Duration(ts.Second())*time.Second
}
