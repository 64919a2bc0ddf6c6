package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE cash and F&O session, IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// SessionMinutes is the length of a regular trading session.
	SessionMinutes = (CloseHour*60 + CloseMinute) - (OpenHour*60 + OpenMinute)
)

// day truncates t to midnight IST.
func day(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

func openOn(t time.Time) time.Time {
	return day(t).Add(OpenHour*time.Hour + OpenMinute*time.Minute)
}

func closeOn(t time.Time) time.Time {
	return day(t).Add(CloseHour*time.Hour + CloseMinute*time.Minute)
}

// IsTradingDay reports whether t falls on a weekday that is not an NSE holiday.
func IsTradingDay(t time.Time) bool {
	switch t.In(IST).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(t.In(IST))
}

// IsMarketOpen reports whether t is inside the regular session of a trading day.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	return !t.Before(openOn(t)) && t.Before(closeOn(t))
}

// NextOpen returns the next session open strictly after t, or today's open
// when t is earlier on a trading day.
func NextOpen(t time.Time) time.Time {
	if IsTradingDay(t) && t.Before(openOn(t)) {
		return openOn(t)
	}
	d := day(t)
	for i := 0; i < 15; i++ {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			return openOn(d)
		}
	}
	return openOn(d)
}

// PreviousTradingDay returns midnight IST of the closest trading day
// strictly before t's date.
func PreviousTradingDay(t time.Time) time.Time {
	d := day(t)
	for i := 0; i < 15; i++ {
		d = d.AddDate(0, 0, -1)
		if IsTradingDay(d) {
			return d
		}
	}
	return d
}

// AdjustToTradingDay returns t's date if it is a trading day, otherwise the
// previous trading day. Contract expiries that land on a holiday move back.
func AdjustToTradingDay(t time.Time) time.Time {
	if d := day(t); IsTradingDay(d) {
		return d
	}
	return PreviousTradingDay(t)
}

// LookbackStart returns the earliest time from which at least bars complete
// bars of the given interval are available, counting only trading-session
// minutes. Sessions are walked backwards from t.
func LookbackStart(t time.Time, bars int, interval time.Duration) time.Time {
	need := time.Duration(bars) * interval
	end := t.In(IST)

	if IsTradingDay(end) {
		if cl := closeOn(end); end.After(cl) {
			end = cl
		}
		if open := openOn(end); end.After(open) {
			have := end.Sub(open)
			if have >= need {
				return end.Add(-need)
			}
			need -= have
		}
	}

	session := time.Duration(SessionMinutes) * time.Minute
	d := day(t)
	for i := 0; i < 30; i++ {
		d = PreviousTradingDay(d)
		if need <= session {
			return closeOn(d).Add(-need)
		}
		need -= session
	}
	return openOn(d)
}

// StatusString is a one-line description of the session state for logs and
// the status command.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(closeOn(t).Sub(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
