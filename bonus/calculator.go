/*
Package bonus computes the statutory thirteenth and fourteenth salaries.

PURPOSE:
  Both bonuses share one skeleton: a fixed reference window, an
  effective window clipped to the employment dates, and a pro-rating
  rule when the employee did not cover the whole window.

REFERENCE WINDOWS (inclusive):
  THIRTEENTH  Dec 1 of year-1 .. Nov 30 of year
  FOURTEENTH  Aug 1 of year-1 .. Jul 31 of year (Sierra / Amazonia)

AMOUNTS:
  THIRTEENTH  gross / 12 when fully covered,
              gross * days / (W * 12) otherwise,
              where gross = sum of payroll total income in the window,
              or base salary * months touched when no payroll exists
  FOURTEENTH  FOURTEENTH_AMOUNT when fully covered,
              FOURTEENTH_AMOUNT * days / W otherwise

  W is the window length in days; days is the effective window length.
  The final amount is rounded half away from zero to cents.

LIFECYCLE:
  CALCULATED -> APPROVED -> PAID

SEE ALSO:
  - service.go: gateway-backed operations and batch
*/
package bonus

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/params"
)

var twelve = decimal.NewFromInt(12)

// =============================================================================
// WINDOWS
// =============================================================================

func ThirteenthWindow(year int) generic.DateRange {
	return generic.DateRange{
		Start: generic.NewDate(year-1, time.December, 1),
		End:   generic.NewDate(year, time.November, 30),
	}
}

func FourteenthWindow(year int) generic.DateRange {
	return generic.DateRange{
		Start: generic.NewDate(year-1, time.August, 1),
		End:   generic.NewDate(year, time.July, 31),
	}
}

// Window returns the reference window of kind for year.
func Window(kind generic.BonusKind, year int) (generic.DateRange, error) {
	if year < generic.MinPeriodYear || year > generic.MaxPeriodYear {
		return generic.DateRange{}, &generic.InvalidPeriodError{Year: year, Month: 1}
	}
	switch kind {
	case generic.BonusThirteenth:
		return ThirteenthWindow(year), nil
	case generic.BonusFourteenth:
		return FourteenthWindow(year), nil
	}
	return generic.DateRange{}, generic.InputError("kind", "unknown bonus kind %q", kind)
}

// Coverage is the effective part of a reference window.
type Coverage struct {
	Window     generic.DateRange
	Effective  generic.DateRange
	Worked     bool // false when the employment does not touch the window
	WindowDays int
	DaysWorked int
	Full       bool
}

// CoverageOf intersects window with [hire, termination ?? today].
func CoverageOf(emp generic.Employee, window generic.DateRange, today generic.Date) Coverage {
	c := Coverage{Window: window, WindowDays: window.Days()}
	employment := generic.DateRange{Start: emp.HireDate, End: emp.EmploymentEnd(today)}
	eff, ok := window.Intersect(employment)
	if !ok {
		return c
	}
	c.Effective = eff
	c.Worked = true
	c.DaysWorked = eff.Days()
	c.Full = eff.Equal(window)
	return c
}

// =============================================================================
// CALCULATORS
// =============================================================================

// Input carries everything one bonus calculation needs.
type Input struct {
	Employee generic.Employee
	Year     int
	Today    generic.Date
	// Payroll is the employee's stored payroll; only non-VOID records whose
	// period lies in the window count. Ignored for the fourteenth.
	Payroll      []generic.PayrollRecord
	CalculatedAt time.Time
}

// Thirteenth computes the thirteenth salary.
func Thirteenth(in Input, set *params.Set) (generic.BonusRecord, error) {
	window, err := Window(generic.BonusThirteenth, in.Year)
	if err != nil {
		return generic.BonusRecord{}, err
	}
	cov := CoverageOf(in.Employee, window, in.Today)
	rec := newRecord(generic.BonusThirteenth, in, cov)
	if !cov.Worked {
		return rec, nil
	}

	gross, found := GrossInWindow(in.Payroll, window)
	if !found {
		salary := in.Employee.BaseSalary
		if salary.IsZero() {
			salary = set.MinimumWage()
		}
		if !salary.IsPositive() {
			return generic.BonusRecord{}, fmt.Errorf("%w: %s", generic.ErrSalaryUndefined, in.Employee.Code)
		}
		gross = salary.Mul(decimal.NewFromInt(int64(cov.Effective.MonthsTouched())))
	}
	rec.Base = generic.RoundMoney(gross)

	if cov.Full {
		rec.Amount = generic.RoundMoney(gross.Div(twelve))
	} else {
		num := gross.Mul(decimal.NewFromInt(int64(cov.DaysWorked)))
		den := decimal.NewFromInt(int64(cov.WindowDays)).Mul(twelve)
		rec.Amount = generic.RoundMoney(num.Div(den))
	}
	return rec, nil
}

// Fourteenth computes the fourteenth salary.
func Fourteenth(in Input, set *params.Set) (generic.BonusRecord, error) {
	window, err := Window(generic.BonusFourteenth, in.Year)
	if err != nil {
		return generic.BonusRecord{}, err
	}
	cov := CoverageOf(in.Employee, window, in.Today)
	rec := newRecord(generic.BonusFourteenth, in, cov)
	base := set.FourteenthAmount()
	rec.Base = generic.RoundMoney(base)
	if !cov.Worked {
		return rec, nil
	}

	if cov.Full {
		rec.Amount = generic.RoundMoney(base)
	} else {
		num := base.Mul(decimal.NewFromInt(int64(cov.DaysWorked)))
		rec.Amount = generic.RoundMoney(num.Div(decimal.NewFromInt(int64(cov.WindowDays))))
	}
	return rec, nil
}

// GrossInWindow sums TotalIncome of the non-VOID records whose period
// starts inside window. found is false when no record qualifies.
func GrossInWindow(records []generic.PayrollRecord, window generic.DateRange) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, r := range records {
		if r.Status == generic.PayrollVoid || !window.Contains(r.Period.Start()) {
			continue
		}
		total = total.Add(r.TotalIncome)
		found = true
	}
	return total, found
}

func newRecord(kind generic.BonusKind, in Input, cov Coverage) generic.BonusRecord {
	rec := generic.BonusRecord{
		Kind:         kind,
		EmployeeCode: in.Employee.Code,
		Year:         in.Year,
		Window:       cov.Window,
		WindowDays:   cov.WindowDays,
		DaysWorked:   cov.DaysWorked,
		FullCoverage: cov.Full,
		Base:         decimal.Zero,
		Amount:       decimal.Zero,
		Status:       generic.BonusCalculated,
		CalculatedAt: in.CalculatedAt,
	}
	if cov.Worked {
		rec.EffectiveStart = cov.Effective.Start.Ptr()
		rec.EffectiveEnd = cov.Effective.End.Ptr()
	}
	return rec
}
