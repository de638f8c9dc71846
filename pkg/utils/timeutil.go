// Package utils holds small cross-cutting helpers: exchange session
// calendars and symbol classification.
package utils

import (
	"time"
)

// Sydney is the ASX trading timezone (AEST/AEDT).
var Sydney *time.Location

// NewYork is the US equities trading timezone (EST/EDT).
var NewYork *time.Location

func init() {
	var err error
	Sydney, err = time.LoadLocation("Australia/Sydney")
	if err != nil {
		// Fallback fixed zone if the tz database is unavailable.
		Sydney = time.FixedZone("AEST", 10*60*60)
	}
	NewYork, err = time.LoadLocation("America/New_York")
	if err != nil {
		NewYork = time.FixedZone("EST", -5*60*60)
	}
	ASX.Location = Sydney
	NYSE.Location = NewYork
}

// Session describes one exchange's regular trading hours.
type Session struct {
	Exchange  string
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
	holidays  map[string]string
}

// ASX is the Australian Securities Exchange session: 10:00-16:00 Sydney.
var ASX = Session{
	Exchange: "ASX",
	OpenHour: 10, OpenMin: 0, CloseHour: 16, CloseMin: 0,
	holidays: asxHolidays2026,
}

// NYSE is the US cash equities session: 9:30-16:00 New York.
var NYSE = Session{
	Exchange: "NYSE",
	OpenHour: 9, OpenMin: 30, CloseHour: 16, CloseMin: 0,
	holidays: nyseHolidays2026,
}

// OpenTime returns the session open on date's calendar day.
func (s Session) OpenTime(date time.Time) time.Time {
	d := date.In(s.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), s.OpenHour, s.OpenMin, 0, 0, s.Location)
}

// CloseTime returns the session close on date's calendar day.
func (s Session) CloseTime(date time.Time) time.Time {
	d := date.In(s.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), s.CloseHour, s.CloseMin, 0, 0, s.Location)
}

// IsHoliday reports whether date falls on an exchange holiday.
func (s Session) IsHoliday(date time.Time) bool {
	_, ok := s.holidays[date.In(s.Location).Format("2006-01-02")]
	return ok
}

// IsTradingDay reports whether date is a weekday and not a holiday.
func (s Session) IsTradingDay(date time.Time) bool {
	d := date.In(s.Location)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !s.IsHoliday(d)
}

// IsOpenAt reports whether the market would be open at t.
func (s Session) IsOpenAt(t time.Time) bool {
	t = t.In(s.Location)
	if !s.IsTradingDay(t) {
		return false
	}
	return !t.Before(s.OpenTime(t)) && !t.After(s.CloseTime(t))
}

// NextTradingDay returns the first trading day strictly after from.
func (s Session) NextTradingDay(from time.Time) time.Time {
	next := from.In(s.Location).AddDate(0, 0, 1)
	for !s.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PrevTradingDay returns the last trading day strictly before from.
func (s Session) PrevTradingDay(from time.Time) time.Time {
	prev := from.In(s.Location).AddDate(0, 0, -1)
	for !s.IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// TradingDaysBetween counts trading days in [start, end).
func (s Session) TradingDaysBetween(start, end time.Time) int {
	count := 0
	for cur := start.In(s.Location); cur.Before(end); cur = cur.AddDate(0, 0, 1) {
		if s.IsTradingDay(cur) {
			count++
		}
	}
	return count
}

// Status summarizes the market state at t for display.
func (s Session) Status(t time.Time) string {
	t = t.In(s.Location)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if name, ok := s.holidays[t.Format("2006-01-02")]; ok {
		return "CLOSED (" + name + ")"
	}
	switch {
	case t.Before(s.OpenTime(t)):
		return "PRE-MARKET"
	case !t.After(s.CloseTime(t)):
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// ParseDate parses "2006-01-02" in the session's location.
func (s Session) ParseDate(v string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", v, s.Location)
}

// ASX trading holidays for 2026. Update annually.
var asxHolidays2026 = map[string]string{
	"2026-01-01": "New Year's Day",
	"2026-01-26": "Australia Day",
	"2026-04-03": "Good Friday",
	"2026-04-06": "Easter Monday",
	"2026-04-25": "Anzac Day",
	"2026-06-08": "King's Birthday",
	"2026-12-25": "Christmas Day",
	"2026-12-28": "Boxing Day (observed)",
}

// NYSE trading holidays for 2026. Update annually.
var nyseHolidays2026 = map[string]string{
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Washington's Birthday",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}
