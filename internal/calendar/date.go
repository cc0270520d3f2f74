// Package calendar provides a timezone-normalized calendar day type.
//
// Every date that enters the system is converted into a single reference
// timezone at the data-source boundary, so two values naming the same day in
// different representations compare equal.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IST is India Standard Time. India observes no daylight saving, so a fixed
// zone is exact when tzdata is unavailable.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Location is the reference timezone all dates are normalized into.
var Location = IST

// LoadLocation resolves an IANA zone name, falling back to IST.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return IST, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return IST, err
	}
	return loc, nil
}

// Date is a calendar day with no time-of-day component. The zero value is an
// unknown or unparseable date and never equals a real day.
type Date struct {
	year  int
	month time.Month
	day   int
}

// New returns the normalized date for the given components, so New(2024, 1, 32)
// is 2024-02-01.
func New(year int, month time.Month, day int) Date {
	y, m, d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()
	return Date{year: y, month: m, day: d}
}

// Of returns the day t falls on in the reference timezone.
func Of(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.In(Location).Date()
	return Date{year: y, month: m, day: d}
}

// Today returns the current day in the reference timezone.
func Today(now time.Time) Date {
	return Of(now)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Parse accepts a bare YYYY-MM-DD day, a timestamp with an offset (converted
// into the reference timezone) or a zone-less timestamp (read as reference
// local time).
func Parse(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		y, m, d := t.Date()
		return Date{year: y, month: m, day: d}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, Location); err == nil {
			return Of(t), nil
		}
	}
	return Date{}, fmt.Errorf("calendar: unrecognised date %q", s)
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.year == 0 && d.month == 0 && d.day == 0 }

func (d Date) Year() int          { return d.year }
func (d Date) Month() time.Month  { return d.month }
func (d Date) Day() int           { return d.day }
func (d Date) AddDays(n int) Date { return New(d.year, d.month, d.day+n) }

// Time returns midnight of the day in the reference timezone.
func (d Date) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, Location)
}

// Compare orders dates chronologically. Zero dates sort before every valid
// date; callers that must not let them win check IsZero first.
func (d Date) Compare(o Date) int {
	switch {
	case d.year != o.year:
		return cmpInt(d.year, o.year)
	case d.month != o.month:
		return cmpInt(int(d.month), int(o.month))
	default:
		return cmpInt(d.day, o.day)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether both dates are valid and name the same day.
func (d Date) Equal(o Date) bool {
	return !d.IsZero() && d == o
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, d.month, d.day)
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
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan converts a database value into a Date. Unparseable text yields the
// zero Date rather than an error so one malformed row cannot fail a query.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		// Drivers return DATE columns as UTC midnight; keep that day as
		// written. Any other instant is converted into Location.
		if v.Location() == time.UTC && v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			y, m, day := v.Date()
			*d = Date{year: y, month: m, day: day}
		} else {
			*d = Of(v)
		}
	case string:
		*d, _ = Parse(v)
	case []byte:
		*d, _ = Parse(string(v))
	default:
		return fmt.Errorf("calendar: cannot scan %T into Date", src)
	}
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Range is an inclusive span of days.
type Range struct {
	Start Date
	End   Date
}

var (
	minDate = New(1, time.January, 1)
	maxDate = New(9999, time.December, 31)
)

// Unbounded covers every valid date.
func Unbounded() Range {
	return Range{Start: minDate, End: maxDate}
}

// Since covers start and every day after it.
func Since(start Date) Range {
	return Range{Start: start, End: maxDate}
}

// On covers the single day d.
func On(d Date) Range {
	return Range{Start: d, End: d}
}

// Trailing returns the n days ending on end, inclusive.
func Trailing(end Date, n int) Range {
	return Range{Start: end.AddDays(-(n - 1)), End: end}
}

func (r Range) Contains(d Date) bool {
	if d.IsZero() {
		return false
	}
	return d.Compare(r.Start) >= 0 && d.Compare(r.End) <= 0
}

// String is used as the window component of cache keys.
func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}
