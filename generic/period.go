package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE RANGE - Inclusive on both ends
// =============================================================================

// DateRange is the closed interval [Start, End].
//
// Examples:
//   - Thirteenth salary window 2024: 2023-12-01 .. 2024-11-30
//   - Fourteenth salary window 2024: 2023-08-01 .. 2024-07-31
//   - A vacation request: first day .. last day
type DateRange struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Days returns the inclusive length, or 0 for an empty range.
func (r DateRange) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// IsEmpty reports End < Start.
func (r DateRange) IsEmpty() bool { return r.End.Before(r.Start) }

// Intersect returns the overlap of r and other; ok is false when they do
// not overlap.
func (r DateRange) Intersect(other DateRange) (DateRange, bool) {
	out := DateRange{Start: MaxDate(r.Start, other.Start), End: MinDate(r.End, other.End)}
	if out.IsEmpty() {
		return DateRange{}, false
	}
	return out, true
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	_, ok := r.Intersect(other)
	return ok
}

// Equal compares both ends.
func (r DateRange) Equal(other DateRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// MonthsTouched counts the calendar months that contain at least one day
// of the range.
func (r DateRange) MonthsTouched() int {
	if r.IsEmpty() {
		return 0
	}
	return (r.End.Year()-r.Start.Year())*12 + int(r.End.Month()) - int(r.Start.Month()) + 1
}

// String returns a string representation of the range.
func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}

// =============================================================================
// PAY PERIOD - (year, month), encoded "YYYY-MM"
// =============================================================================

const (
	MinPeriodYear = 1970
	MaxPeriodYear = 2100
)

type PayPeriod struct {
	Year  int
	Month time.Month
}

// NewPayPeriod validates the year and month.
func NewPayPeriod(year int, month time.Month) (PayPeriod, error) {
	if year < MinPeriodYear || year > MaxPeriodYear || month < time.January || month > time.December {
		return PayPeriod{}, &InvalidPeriodError{Year: year, Month: int(month)}
	}
	return PayPeriod{Year: year, Month: month}, nil
}

const PeriodLayout = "2006-01"

// ParsePayPeriod reads "YYYY-MM". Both fields must be zero-padded digits.
func ParsePayPeriod(s string) (PayPeriod, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil {
		return PayPeriod{}, fmt.Errorf("%w: %q is not YYYY-MM", ErrInvalidPeriod, s)
	}
	return NewPayPeriod(t.Year(), t.Month())
}

// PeriodOf returns the pay period containing d.
func PeriodOf(d Date) PayPeriod { return PayPeriod{Year: d.Year(), Month: d.Month()} }

func (p PayPeriod) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

func (p PayPeriod) Start() Date { return StartOfMonth(p.Year, p.Month) }
func (p PayPeriod) End() Date   { return EndOfMonth(p.Year, p.Month) }

// Range returns the first..last day of the month.
func (p PayPeriod) Range() DateRange { return DateRange{Start: p.Start(), End: p.End()} }

// Days returns the number of calendar days in the month.
func (p PayPeriod) Days() int { return DaysInMonth(p.Year, p.Month) }

func (p PayPeriod) Next() PayPeriod { return PeriodOf(p.Start().AddMonths(1)) }
func (p PayPeriod) Prev() PayPeriod { return PeriodOf(p.Start().AddMonths(-1)) }

func (p PayPeriod) Before(other PayPeriod) bool {
	return p.Year < other.Year || (p.Year == other.Year && p.Month < other.Month)
}

func (p PayPeriod) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// PeriodsIn lists every pay period whose month lies inside r.
func PeriodsIn(r DateRange) []PayPeriod {
	if r.IsEmpty() {
		return nil
	}
	var out []PayPeriod
	for p := PeriodOf(r.Start); !r.End.Before(p.Start()); p = p.Next() {
		out = append(out, p)
	}
	return out
}
