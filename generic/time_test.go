/*
time_test.go - Tests for civil dates, ranges and pay periods

PURPOSE:
  Pins the calendar helpers the calculators lean on: month-end clamping
  for loan due dates, business days for vacation requests, anniversaries
  for seniority, and pay period parsing at the API boundary.
*/
package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
)

func d(s string) generic.Date { return generic.MustParseDate(s) }

// =============================================================================
// DATE ARITHMETIC
// =============================================================================

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from string
		n    int
		want string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2024-05-31", 13, "2025-06-30"},
		{"2024-12-15", 1, "2025-01-15"},
		{"2024-01-15", -1, "2023-12-15"},
		{"2024-03-10", -25, "2022-02-10"},
		{"2024-08-31", 0, "2024-08-31"},
	}
	for _, tt := range tests {
		got := d(tt.from).AddMonths(tt.n)
		assert.Equal(t, tt.want, got.String(), "%s %+d months", tt.from, tt.n)
	}
}

func TestAddYears_LeapDay(t *testing.T) {
	assert.Equal(t, "2025-02-28", d("2024-02-29").AddYears(1).String())
	assert.Equal(t, "2028-02-29", d("2024-02-29").AddYears(4).String())
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, generic.DaysInMonth(2024, time.February))
	assert.Equal(t, 28, generic.DaysInMonth(2023, time.February))
	assert.Equal(t, 28, generic.DaysInMonth(2100, time.February))
	assert.Equal(t, 31, generic.DaysInMonth(2024, time.December))
}

func TestBusinessDays(t *testing.T) {
	// 2024-06-03 is a Monday.
	tests := []struct {
		name     string
		from, to string
		want     int
	}{
		{"one week", "2024-06-03", "2024-06-07", 5},
		{"weekend only", "2024-06-01", "2024-06-02", 0},
		{"two weeks", "2024-06-03", "2024-06-16", 10},
		{"friday to monday", "2024-06-07", "2024-06-10", 2},
		{"single monday", "2024-06-03", "2024-06-03", 1},
		{"reversed", "2024-06-10", "2024-06-03", 0},
		{"across month end", "2024-05-27", "2024-06-09", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.BusinessDays(d(tt.from), d(tt.to)))
		})
	}
}

func TestAnniversaryOnOrBefore(t *testing.T) {
	tests := []struct {
		name         string
		anchor, date string
		wantDate     string
		wantYears    int
	}{
		{"before anchor", "2021-01-01", "2020-06-01", "2021-01-01", 0},
		{"on anchor", "2021-01-01", "2021-01-01", "2021-01-01", 0},
		{"first anniversary", "2021-01-01", "2022-01-01", "2022-01-01", 1},
		{"day before first anniversary", "2021-01-01", "2021-12-31", "2021-01-01", 0},
		{"leap anchor in common year", "2020-02-29", "2021-02-28", "2021-02-28", 1},
		{"leap anchor day before clamp", "2020-02-29", "2021-02-27", "2020-02-29", 0},
		{"leap anchor in leap year", "2020-02-29", "2024-02-29", "2024-02-29", 4},
		{"leap anchor day before leap day", "2020-02-29", "2024-02-28", "2023-02-28", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann, years := generic.AnniversaryOnOrBefore(d(tt.anchor), d(tt.date))
			assert.Equal(t, tt.wantDate, ann.String())
			assert.Equal(t, tt.wantYears, years)
		})
	}
}

// =============================================================================
// DATE RANGES
// =============================================================================

func TestDateRange_MonthsTouched(t *testing.T) {
	tests := []struct {
		start, end string
		want       int
	}{
		{"2024-05-10", "2024-05-20", 1},
		{"2024-01-31", "2024-02-01", 2},
		{"2023-12-01", "2024-11-30", 12},
		{"2023-08-01", "2024-07-31", 12},
		{"2024-06-01", "2024-05-31", 0},
	}
	for _, tt := range tests {
		r := generic.DateRange{Start: d(tt.start), End: d(tt.end)}
		assert.Equal(t, tt.want, r.MonthsTouched(), r.String())
	}
}

func TestDateRange_Intersect(t *testing.T) {
	a := generic.DateRange{Start: d("2024-01-01"), End: d("2024-01-31")}
	b := generic.DateRange{Start: d("2024-01-31"), End: d("2024-02-15")}

	got, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, 1, got.Days())
	assert.True(t, a.Overlaps(b))

	c := generic.DateRange{Start: d("2024-02-01"), End: d("2024-02-15")}
	assert.False(t, a.Overlaps(c))
}

// =============================================================================
// PAY PERIODS
// =============================================================================

func TestParsePayPeriod(t *testing.T) {
	p, err := generic.ParsePayPeriod("2024-05")
	require.NoError(t, err)
	assert.Equal(t, generic.PayPeriod{Year: 2024, Month: time.May}, p)
	assert.Equal(t, "2024-05", p.String())
	assert.Equal(t, 31, p.Days())

	for _, bad := range []string{
		"2024-1x", "2024-1 ", "2024-5", "24-05", "2024/05", "2024-05-01",
		"2024-13", "2024-00", "1969-12", "2101-01", "", " 2024-05",
	} {
		_, err := generic.ParsePayPeriod(bad)
		assert.ErrorIs(t, err, generic.ErrInvalidPeriod, "%q", bad)
	}
}

func TestPayPeriod_NextPrev(t *testing.T) {
	dec := generic.PayPeriod{Year: 2024, Month: time.December}
	assert.Equal(t, "2025-01", dec.Next().String())
	assert.Equal(t, "2023-12", generic.PayPeriod{Year: 2024, Month: time.January}.Prev().String())
	assert.True(t, dec.Prev().Before(dec))
}

func TestPeriodsIn(t *testing.T) {
	// GIVEN: The 2024 thirteenth salary window
	// WHEN: Listing its periods
	// THEN: Twelve months from 2023-12 to 2024-11

	periods := generic.PeriodsIn(generic.DateRange{Start: d("2023-12-01"), End: d("2024-11-30")})
	require.Len(t, periods, 12)
	assert.Equal(t, "2023-12", periods[0].String())
	assert.Equal(t, "2024-11", periods[11].String())

	mid := generic.PeriodsIn(generic.DateRange{Start: d("2024-01-31"), End: d("2024-03-01")})
	require.Len(t, mid, 3)
	assert.Equal(t, "2024-02", mid[1].String())

	assert.Nil(t, generic.PeriodsIn(generic.DateRange{Start: d("2024-06-01"), End: d("2024-05-01")}))
}
