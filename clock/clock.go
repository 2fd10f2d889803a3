package clock

import (
	"fmt"
	"time"
)

const (
	SecondsPerDay = 86400

	// ISO basic date-time layout used on the wire, e.g. 20240102T093000.
	ISOLayout = "20060102T150405"

	dateLayout = "20060102"
)

// An instant expressed relative to the production date of a dataset.
//
// Day is the number of days since the production date and Seconds the
// number of seconds since midnight on that day. Arithmetic may leave
// Seconds outside [0, 86400) or Day negative; Normalize carries the
// excess across day boundaries. Two DateTimes are only comparable
// when they refer to the same production date.
type DateTime struct {
	Day     int
	Seconds int
}

// Builds a normalized DateTime from a linear number of seconds since
// the production date.
func FromAbs(abs int) DateTime {
	day := abs / SecondsPerDay
	seconds := abs % SecondsPerDay
	if seconds < 0 {
		// Floor semantics, so that -1 is 23:59:59 on day -1
		seconds += SecondsPerDay
		day--
	}
	return DateTime{Day: day, Seconds: seconds}
}

// Linear seconds since the production date.
func (dt DateTime) Abs() int {
	return dt.Day*SecondsPerDay + dt.Seconds
}

func (dt DateTime) Normalize() DateTime {
	return FromAbs(dt.Abs())
}

func (dt DateTime) AddSeconds(seconds int) DateTime {
	return FromAbs(dt.Abs() + seconds)
}

func (dt DateTime) Add(d time.Duration) DateTime {
	return dt.AddSeconds(int(d / time.Second))
}

func (dt DateTime) AddDays(days int) DateTime {
	return DateTime{Day: dt.Day + days, Seconds: dt.Seconds}.Normalize()
}

// Duration elapsed from other to dt.
func (dt DateTime) Sub(other DateTime) time.Duration {
	return time.Duration(dt.Abs()-other.Abs()) * time.Second
}

// Time of day component, in seconds. Subtracting it from dt yields
// midnight of the same day.
func (dt DateTime) Hour() int {
	return dt.Normalize().Seconds
}

func (dt DateTime) TimeOfDay() time.Duration {
	return time.Duration(dt.Hour()) * time.Second
}

// Aligns dt on the start of its day.
func (dt DateTime) TruncateToDay() DateTime {
	return dt.AddSeconds(-dt.Hour())
}

func (dt DateTime) Before(other DateTime) bool {
	return dt.Abs() < other.Abs()
}

func (dt DateTime) After(other DateTime) bool {
	return dt.Abs() > other.Abs()
}

func (dt DateTime) Equal(other DateTime) bool {
	return dt.Abs() == other.Abs()
}

// Returns -1, 0 or +1 depending on whether dt is before, equal to or
// after other.
func (dt DateTime) Compare(other DateTime) int {
	a, b := dt.Abs(), other.Abs()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Calendar date of dt, as midnight UTC.
func (dt DateTime) Date(production time.Time) time.Time {
	return Midnight(production).AddDate(0, 0, dt.Normalize().Day)
}

// Absolute time of dt in the given location.
//
// GTFS style times are offsets from "noon minus 12h", which only
// differs from midnight on days with a DST switch.
func (dt DateTime) Time(production time.Time, loc *time.Location) time.Time {
	n := dt.Normalize()
	date := Midnight(production).AddDate(0, 0, n.Day)
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)
	return noon.Add(-12 * time.Hour).Add(time.Duration(n.Seconds) * time.Second)
}

// Formats dt in ISO basic form against the production date.
func (dt DateTime) Format(production time.Time) string {
	n := dt.Normalize()
	date := Midnight(production).AddDate(0, 0, n.Day)
	return date.Add(time.Duration(n.Seconds) * time.Second).Format(ISOLayout)
}

func (dt DateTime) String() string {
	n := dt.Normalize()
	h := n.Seconds / 3600
	m := (n.Seconds % 3600) / 60
	s := n.Seconds % 60
	return fmt.Sprintf("D%+d %02d:%02d:%02d", n.Day, h, m, s)
}

// Midnight UTC of t's calendar date.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Number of days from production to date, ignoring time of day.
func DaysBetween(production time.Time, date time.Time) int {
	return int(Midnight(date).Sub(Midnight(production)).Hours() / 24)
}

// Parses a YYYYMMDD production date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date '%s': %w", s, err)
	}
	return t, nil
}

// Formats a DateTime's date as YYYYMMDD, the format used by calendar
// tables.
func (dt DateTime) DateString(production time.Time) string {
	return dt.Date(production).Format(dateLayout)
}
