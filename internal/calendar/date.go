// Package calendar provides Date, a calendar date without a time of day.
//
// Every date computation in Pulse goes through this type so that "days since"
// arithmetic never depends on the server time zone or daylight saving
// transitions. Timestamps are converted to a Date at the I/O boundary with In
// or Of, and converted back with Time.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical textual form of a Date.
const Layout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// ErrEmpty is returned by Parse for blank input.
var ErrEmpty = errors.New("empty date")

// MinYear is the earliest year Parse accepts. Year 1 would collide with the
// zero Date, which means "no date".
const MinYear = 1900

// Date is a day in the proleptic Gregorian calendar. The zero value means
// "no date" and is reported by IsZero.
type Date struct {
	t time.Time // always midnight UTC
}

// New returns the date year-month-day. Out-of-range values are normalised the
// way time.Date normalises them (October 32 becomes November 1).
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Of returns the calendar date of t as seen in t's own location.
func Of(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return New(t.Year(), t.Month(), t.Day())
}

// In returns the calendar date of t as seen in loc.
func In(t time.Time, loc *time.Location) Date {
	if t.IsZero() {
		return Date{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return Of(t.In(loc))
}

// Today returns the current date in loc.
func Today(loc *time.Location) Date {
	return In(time.Now(), loc)
}

var layouts = []string{
	Layout,
	"2006/01/02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// Parse reads a date. Besides the canonical layout it accepts the formats the
// dashboard historically stored (slashes, day-first, and full timestamps,
// whose date part is taken in the timestamp's own offset).
func Parse(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, ErrEmpty
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			d := Of(parsed)
			if d.IsZero() || d.Year() < MinYear {
				return Date{}, fmt.Errorf("date %q is before %d", value, MinYear)
			}
			return d, nil
		}
	}
	return Date{}, fmt.Errorf("unsupported date format %q", value)
}

// MustParse is like Parse but panics on error. It is meant for tests and
// package-level fixtures.
func MustParse(value string) Date {
	d, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return d
}

// DaysIn reports the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysBetween returns the signed number of days from from to to.
func DaysBetween(from, to Date) int {
	return int((to.t.Unix() - from.t.Unix()) / secondsPerDay)
}

func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// AddMonthsClamped moves d by n months and lands on day, clamped to the last
// day of the target month. A day <= 0 keeps d's own day of month, so
// January 31 plus one month is the last day of February.
func (d Date) AddMonthsClamped(n int, day int) Date {
	if day <= 0 {
		day = d.Day()
	}
	first := time.Date(d.Year(), d.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return New(first.Year(), first.Month(), day)
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// Value stores a Date as its canonical text, or NULL when zero.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan reads a Date from TEXT, DATE or TIMESTAMP columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case time.Time:
		*d = Of(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into calendar.Date", src)
	}
}
