/*
Package generic provides the domain-agnostic pieces of the ledger engine.

PURPOSE:
  Leave balances, stock quantities and room bookings all follow the same
  shape: a numeric balance (or a calendar) owned by one key, mutated only
  through a ledger that checks sufficiency, applies the record change and
  the balance change atomically, and can be reconciled against the records
  that justify it. This package holds what those ledgers share.

KEY CONCEPTS:
  - Date:      A calendar day with no time-of-day component
  - DateRange: An inclusive [Start, End] range of days with a Span
  - Locker:    Per-key mutual exclusion held across read-modify-write
  - Errors:    Sentinels and structured errors shared by all ledgers

SEE ALSO:
  - period.go: DateRange, overlap and classification
  - lock.go:   Locker and the in-process KeyedMutex
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of a Date.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - A calendar day
// =============================================================================

// Date is a calendar day. The wrapped time is always midnight UTC so that
// two Dates for the same day compare equal regardless of how they were built.
type Date struct {
	t time.Time
}

// NewDate returns the Date for year/month/day. Out-of-range values are
// normalized the same way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current calendar day in the local time zone.
func Today() Date {
	return DateOf(time.Now())
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns the number of calendar days from d to other. It is
// negative when other is before d.
func (d Date) DaysUntil(other Date) int {
	// Both are midnight UTC, so the difference is an exact multiple of 24h.
	return int(other.t.Sub(d.t).Hours() / 24)
}

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) Time() time.Time       { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalText encodes the Date as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a YYYY-MM-DD string. An empty string leaves the zero Date.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
