/*
balance.go - Vacation entitlement and request checks

PURPOSE:
  Computes the vacation balance of an employee at a date and checks a
  candidate request against it. Everything here is pure: callers load the
  employee and its requests and pass them in.

BALANCE AT D:
  years worked     days(hire, D) / 365.25, four decimals (reported tenure)
  complete years   calendar anniversaries reached on or before D
  from complete    complete years * VACATION_DAYS_PER_YEAR
  this year        floor(days since last anniversary / 365 * VACATION_DAYS_PER_YEAR)
  used             days of APPROVED, TAKEN, LIQUIDATED requests starting in [hire, D]
  pending          days of PENDING, APPROVED requests starting after D
  available        from complete + this year - used - pending

  A date before the hire date accrues nothing.

REQUEST CHECKS:
  Hard errors (request invalid):
    - start after end
    - fewer than one day requested
    - more days than available at the start date
    - overlap with a PENDING or APPROVED request
  Warnings (request still valid):
    - start more than 90 days after today
    - requested days differ from business days in range by more than 2

SEE ALSO:
  - service.go: gateway-backed balance, validation and lifecycle
  - generic/time.go: AnniversaryOnOrBefore, BusinessDays
*/
package vacation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// LookaheadDays is how far in the future a request may start without a warning.
const LookaheadDays = 90

// BusinessDayTolerance is the allowed gap between requested and business days.
const BusinessDayTolerance = 2

var daysPerYear = generic.MustParseDecimal("365.25")

// =============================================================================
// BALANCE
// =============================================================================

// Balance is an employee's vacation position at AsOf.
type Balance struct {
	EmployeeCode      generic.EmployeeCode
	AsOf              generic.Date
	HireDate          generic.Date
	YearsWorked       decimal.Decimal
	CompleteYears     int
	FromCompleteYears int
	ThisYear          int
	Accrued           int
	Used              int
	Pending           int
	Available         int
	LastAnniversary   generic.Date
	NextAccrualDate   generic.Date
}

// ComputeBalance derives the balance at asOf from the employee's requests.
func ComputeBalance(emp generic.Employee, requests []generic.VacationRequest, asOf generic.Date, perYear int) Balance {
	b := Balance{
		EmployeeCode: emp.Code,
		AsOf:         asOf,
		HireDate:     emp.HireDate,
		YearsWorked:  decimal.Zero,
	}

	if !asOf.Before(emp.HireDate) {
		days := generic.DaysBetween(emp.HireDate, asOf)
		b.YearsWorked = decimal.NewFromInt(int64(days)).DivRound(daysPerYear, 4)

		ann, years := generic.AnniversaryOnOrBefore(emp.HireDate, asOf)
		b.CompleteYears = years
		b.LastAnniversary = ann
		b.FromCompleteYears = years * perYear
		b.ThisYear = generic.DaysBetween(ann, asOf) * perYear / 365
		b.NextAccrualDate = emp.HireDate.AddYears(years + 1)
	} else {
		b.NextAccrualDate = emp.HireDate.AddYears(1)
	}
	b.Accrued = b.FromCompleteYears + b.ThisYear

	for _, r := range requests {
		if countsAsUsed(r.Status) && !r.StartDate.Before(emp.HireDate) && !r.StartDate.After(asOf) {
			b.Used += r.DaysRequested
		}
		if r.Status.Holds() && r.StartDate.After(asOf) {
			b.Pending += r.DaysRequested
		}
	}
	b.Available = b.Accrued - b.Used - b.Pending
	return b
}

func countsAsUsed(s generic.VacationStatus) bool {
	switch s {
	case generic.VacationApproved, generic.VacationTaken, generic.VacationLiquidated:
		return true
	}
	return false
}

// =============================================================================
// REQUEST CHECKS
// =============================================================================

// Candidate is a request under validation.
type Candidate struct {
	ID            string // excluded from overlap and balance checks when set
	StartDate     generic.Date
	EndDate       generic.Date
	DaysRequested int
}

// Validation is the structured outcome of a request check.
type Validation struct {
	Valid        bool
	Errors       []string
	Warnings     []string
	BusinessDays int
	Balance      Balance // at the start date
}

// Err returns an *generic.InvalidRequestError when the request is invalid.
func (v Validation) Err(requestID string) error {
	if v.Valid {
		return nil
	}
	return &generic.InvalidRequestError{RequestID: requestID, Problems: v.Errors}
}

// Check validates c against the employee's other requests.
func Check(c Candidate, emp generic.Employee, requests []generic.VacationRequest, today generic.Date, perYear int) Validation {
	others := make([]generic.VacationRequest, 0, len(requests))
	for _, r := range requests {
		if c.ID != "" && r.ID == c.ID {
			continue
		}
		others = append(others, r)
	}

	v := Validation{
		Balance:      ComputeBalance(emp, others, c.StartDate, perYear),
		BusinessDays: generic.BusinessDays(c.StartDate, c.EndDate),
	}

	if c.StartDate.After(c.EndDate) {
		v.Errors = append(v.Errors, fmt.Sprintf("start date %s is after end date %s", c.StartDate, c.EndDate))
	}
	if c.DaysRequested < 1 {
		v.Errors = append(v.Errors, fmt.Sprintf("days requested must be at least 1, got %d", c.DaysRequested))
	}
	if c.DaysRequested > v.Balance.Available {
		v.Errors = append(v.Errors, fmt.Sprintf("insufficient balance: requested %d, available %d at %s",
			c.DaysRequested, v.Balance.Available, c.StartDate))
	}
	span := generic.DateRange{Start: c.StartDate, End: c.EndDate}
	for _, r := range others {
		if r.Status.Holds() && r.Range().Overlaps(span) {
			v.Errors = append(v.Errors, fmt.Sprintf("overlaps %s request %s (%s)", r.Status, r.ID, r.Range()))
		}
	}

	if c.StartDate.After(today.AddDays(LookaheadDays)) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("start date is more than %d days ahead", LookaheadDays))
	}
	if diff := c.DaysRequested - v.BusinessDays; diff > BusinessDayTolerance || diff < -BusinessDayTolerance {
		v.Warnings = append(v.Warnings, fmt.Sprintf("requested %d days but the range has %d business days",
			c.DaysRequested, v.BusinessDays))
	}

	v.Valid = len(v.Errors) == 0
	return v
}
