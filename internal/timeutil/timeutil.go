package timeutil

import "time"

const (
	// DateLayout defines the canonical date format (YYYY-MM-DD).
	DateLayout = "2006-01-02"
	// CompactLayout is the YYYYMMDD form the metering API expects.
	CompactLayout = "20060102"
	// TimestampLayout is the second-precision UTC form Blockbax accepts.
	TimestampLayout = "2006-01-02T15:04:05Z"
)

// Window is a closed time range covering one calendar day.
type Window struct {
	From time.Time
	To   time.Time
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, value)
}

// ParseDateIn parses a YYYY-MM-DD date string as midnight in loc.
func ParseDateIn(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, value, loc)
}

// FormatDate formats a time as YYYY-MM-DD in its current location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatCompact formats a time as YYYYMMDD in its current location.
func FormatCompact(t time.Time) string {
	return t.Format(CompactLayout)
}

// FormatTimestamp renders t in UTC with second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayWindow spans the calendar date of day from 00:00:00 to 23:59:59 UTC,
// the same day the metering API returns for date=YYYYMMDD&inUTC=true.
func DayWindow(day time.Time) Window {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Window{
		From: start,
		To:   start.AddDate(0, 0, 1).Add(-time.Second),
	}
}

// Yesterday returns the start of the day before now, as seen in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	return DaysAgo(now, loc, 1)
}

// DaysAgo returns the start of the day n days before now, as seen in loc.
func DaysAgo(now time.Time, loc *time.Location, n int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return StartOfDay(now.In(loc)).AddDate(0, 0, -n)
}

// PastDays lists the n days before today, oldest first.
func PastDays(now time.Time, loc *time.Location, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	for ago := n; ago >= 1; ago-- {
		days = append(days, DaysAgo(now, loc, ago))
	}
	return days
}
