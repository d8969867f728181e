// Package risk scales order notional by the liquidity of the current
// trading session.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

type Session string

const (
	SessionWeekendHoliday Session = "weekend_holiday"
	SessionDeadZone       Session = "dead_zone"
	SessionAsia           Session = "asia_session"
	SessionLondon         Session = "london_session"
	SessionUS             Session = "us_session"
	SessionDisabled       Session = "disabled"

	daysPerWeek = 7
)

// SessionSizer maps a time to its session multiplier.
type SessionSizer struct {
	cfg Config
	loc *time.Location
}

// NewSessionSizer falls back to UTC when the tz database has no
// America/New_York entry.
func NewSessionSizer(cfg Config) *SessionSizer {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &SessionSizer{cfg: cfg, loc: loc}
}

// ScaleNotional returns notional times the multiplier of the session at
// now. Non-positive notional is returned as zero.
func (s *SessionSizer) ScaleNotional(notional decimal.Decimal, now time.Time) (decimal.Decimal, Session) {
	if !notional.IsPositive() {
		return decimal.Zero, SessionDisabled
	}
	if !s.cfg.Enabled {
		return notional, SessionDisabled
	}
	sess := s.Session(now)
	return notional.Mul(s.multiplier(sess)), sess
}

// Session classifies now on New York time. Sunday's London hours count as
// London since liquidity returns before the week opens.
func (s *SessionSizer) Session(now time.Time) Session {
	et := now.In(s.loc)
	h := et.Hour()

	if et.Weekday() == time.Sunday && h >= 3 && h < 9 {
		return SessionLondon
	}
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday || isHoliday(et) {
		return SessionWeekendHoliday
	}
	switch {
	case h >= 17 && h < 20:
		return SessionDeadZone
	case h >= 20 || h < 3:
		return SessionAsia
	case h < 9:
		return SessionLondon
	default:
		return SessionUS
	}
}

func (s *SessionSizer) multiplier(sess Session) decimal.Decimal {
	switch sess {
	case SessionWeekendHoliday:
		return s.cfg.WeekendMultiplier
	case SessionDeadZone:
		return s.cfg.DeadZoneMultiplier
	case SessionAsia:
		return s.cfg.AsiaMultiplier
	case SessionLondon:
		return s.cfg.LondonMultiplier
	case SessionUS:
		return s.cfg.USMultiplier
	}
	return decimal.NewFromInt(1)
}

// isHoliday reports US market holidays, when equity-driven crypto flow
// thins out. Fixed-date holidays falling on Sunday move to Monday.
func isHoliday(t time.Time) bool {
	year := t.Year()
	observed := func(month time.Month, day int) time.Time {
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		return d
	}

	memorialDay := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorialDay.Weekday() != time.Monday {
		memorialDay = memorialDay.AddDate(0, 0, -1)
	}

	holidays := []time.Time{
		observed(time.January, 1),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		memorialDay,
		observed(time.July, 4),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(time.December, 25),
	}
	day := t.Format(time.DateOnly)
	for _, h := range holidays {
		if h.Format(time.DateOnly) == day {
			return true
		}
	}
	return false
}

// nthWeekday returns the nth (1-based) given weekday of a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + daysPerWeek) % daysPerWeek
	return first.AddDate(0, 0, offset+(n-1)*daysPerWeek)
}
