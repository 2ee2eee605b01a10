package stay

import (
	"fmt"
	"time"
)

const DateLayout = time.DateOnly

// Range is a hotel stay, CheckIn is the first night and CheckOut is the
// morning you leave. Both are calendar dates stored as UTC midnight.
type Range struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// Date normalizes t to a calendar date (UTC midnight) keeping its
// year/month/day as seen in t's own location.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func New(checkIn, checkOut time.Time) (Range, error) {
	r := Range{CheckIn: Date(checkIn), CheckOut: Date(checkOut)}
	if !r.CheckOut.After(r.CheckIn) {
		return Range{}, fmt.Errorf("check-out %s must be after check-in %s", FormatDate(r.CheckOut), FormatDate(r.CheckIn))
	}
	return r, nil
}

func Parse(checkIn, checkOut string) (Range, error) {
	in, err := ParseDate(checkIn)
	if err != nil {
		return Range{}, err
	}
	out, err := ParseDate(checkOut)
	if err != nil {
		return Range{}, err
	}
	return New(in, out)
}

func (r Range) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Dates lists every night of the stay, check-out excluded.
func (r Range) Dates() []time.Time {
	out := make([]time.Time, 0, r.Nights())
	for d := r.CheckIn; d.Before(r.CheckOut); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Split returns one single night range per night of the stay.
func (r Range) Split() []Range {
	dates := r.Dates()
	out := make([]Range, len(dates))
	for i, d := range dates {
		out[i] = Range{CheckIn: d, CheckOut: d.AddDate(0, 0, 1)}
	}
	return out
}

func (r Range) Contains(night time.Time) bool {
	night = Date(night)
	return !night.Before(r.CheckIn) && night.Before(r.CheckOut)
}

func (r Range) Year() int {
	return r.CheckIn.Year()
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", FormatDate(r.CheckIn), FormatDate(r.CheckOut))
}
