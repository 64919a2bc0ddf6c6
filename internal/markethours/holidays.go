package markethours

import "time"

type holiday struct {
	month time.Month
	day   int
}

// NSE trading holidays by year.
// Source: NSE India official holiday lists.
var nseHolidays = map[int][]holiday{
	2025: {
		{time.February, 26}, // Mahashivratri
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr (Ramadan Eid)
		{time.April, 10},    // Shri Mahavir Jayanti
		{time.April, 14},    // Dr. Baba Saheb Ambedkar Jayanti
		{time.April, 18},    // Good Friday
		{time.May, 1},       // Maharashtra Day
		{time.August, 15},   // Independence Day
		{time.August, 27},   // Ganesh Chaturthi
		{time.October, 2},   // Mahatma Gandhi Jayanti / Dussehra
		{time.October, 21},  // Diwali Laxmi Pujan
		{time.October, 22},  // Diwali Balipratipada
		{time.November, 5},  // Prakash Gurpurb Sri Guru Nanak Dev
		{time.December, 25}, // Christmas
	},
	2026: {
		{time.January, 26},  // Republic Day
		{time.February, 17}, // Mahashivratri (tentative)
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
		{time.April, 2},     // Ram Navami (tentative)
		{time.April, 6},     // Mahavir Jayanti
		{time.April, 10},    // Good Friday
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.May, 1},       // Maharashtra Day
		{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
		{time.July, 6},      // Muharram (tentative)
		{time.August, 15},   // Independence Day
		{time.August, 16},   // Janmashtami (tentative)
		{time.September, 5}, // Milad-un-Nabi (tentative)
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 20},  // Dussehra
		{time.October, 21},  // Dussehra (tentative)
		{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
		{time.November, 6},  // Diwali Balipratipada (tentative)
		{time.November, 7},  // Bhai Dooj (tentative)
		{time.November, 19}, // Guru Nanak Jayanti
		{time.December, 25}, // Christmas
	},
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, 64)
	for year, days := range nseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
