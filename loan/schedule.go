/*
schedule.go - French amortization tables

PURPOSE:
  Builds the fixed-installment (French system) amortization table of an
  employee loan. Every figure in the table is rounded to cents, half away
  from zero, as the row is produced.

FORMULAS:
  i = annual rate / 100 / 12
  A = P * i * (1+i)^n / ((1+i)^n - 1)     when i > 0
  A = P / n                               when i = 0

  Row k (due = start + k months, clamped to month end):
    interest_k  = round(balance_{k-1} * i)
    principal_k = A - interest_k
    balance_k   = balance_{k-1} - principal_k

  The last row takes whatever balance is left as its principal, so the
  principal column sums to P exactly and the final balance is zero. Its
  installment may therefore differ from A by a few cents.

TOTALS:
  TotalToPay and TotalInterest are sums over the rounded rows, not A * n.

SEE ALSO:
  - service.go: loan lifecycle, payments and rate changes
*/
package loan

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// MaxTermMonths bounds the table length.
const MaxTermMonths = 600

// powPlaces is the working precision of the compound factor.
const powPlaces = 30

var twelveHundred = decimal.NewFromInt(1200)

// ScheduleInput describes the table to build.
type ScheduleInput struct {
	Principal  decimal.Decimal
	TermMonths int
	AnnualRate decimal.Decimal // percent
	StartDate  generic.Date
	// FirstNumber is the installment number of the first row; zero means 1.
	// Row k is due StartDate + k months, so a recomputed table keeps the
	// original due-date anchor.
	FirstNumber int
}

// Table is a computed amortization schedule.
type Table struct {
	MonthlyRate   decimal.Decimal
	Installment   decimal.Decimal
	TotalToPay    decimal.Decimal
	TotalInterest decimal.Decimal
	Lines         []generic.AmortizationLine
}

// MonthlyRate converts an annual percentage into the monthly rate.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.DivRound(twelveHundred, 20)
}

// Schedule builds the amortization table for in.
func Schedule(in ScheduleInput) (Table, error) {
	if !in.Principal.IsPositive() {
		return Table{}, generic.InputError("principal", "must be positive, got %s", in.Principal)
	}
	if in.TermMonths < 1 || in.TermMonths > MaxTermMonths {
		return Table{}, generic.InputError("term_months", "must be between 1 and %d, got %d", MaxTermMonths, in.TermMonths)
	}
	if in.AnnualRate.IsNegative() {
		return Table{}, generic.InputError("annual_rate", "must not be negative, got %s", in.AnnualRate)
	}
	if in.StartDate.IsZero() {
		return Table{}, generic.InputError("start_date", "is required")
	}
	first := in.FirstNumber
	if first == 0 {
		first = 1
	}

	i := MonthlyRate(in.AnnualRate)
	n := in.TermMonths
	t := Table{
		MonthlyRate:   i,
		Installment:   Installment(in.Principal, i, n),
		TotalToPay:    decimal.Zero,
		TotalInterest: decimal.Zero,
		Lines:         make([]generic.AmortizationLine, 0, n),
	}

	balance := in.Principal
	for k := 0; k < n; k++ {
		interest := generic.RoundMoney(balance.Mul(i))
		principal := t.Installment.Sub(interest)
		if k == n-1 || principal.GreaterThan(balance) {
			principal = balance
		}
		balance = balance.Sub(principal)

		number := first + k
		line := generic.AmortizationLine{
			Number:      number,
			DueDate:     in.StartDate.AddMonths(number),
			Principal:   principal,
			Interest:    interest,
			Installment: principal.Add(interest),
			Balance:     balance,
		}
		t.Lines = append(t.Lines, line)
		t.TotalToPay = t.TotalToPay.Add(line.Installment)
		t.TotalInterest = t.TotalInterest.Add(line.Interest)
		if balance.IsZero() {
			break
		}
	}
	return t, nil
}

// Installment is the rounded French-system installment.
func Installment(principal, i decimal.Decimal, n int) decimal.Decimal {
	if i.IsZero() {
		return generic.RoundMoney(principal.Div(decimal.NewFromInt(int64(n))))
	}
	f := powInt(decimal.NewFromInt(1).Add(i), n)
	num := principal.Mul(i).Mul(f)
	den := f.Sub(decimal.NewFromInt(1))
	return generic.RoundMoney(num.DivRound(den, powPlaces))
}

// powInt raises x to n >= 0 by squaring, holding powPlaces decimals.
func powInt(x decimal.Decimal, n int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(x).Round(powPlaces)
		}
		x = x.Mul(x).Round(powPlaces)
		n >>= 1
	}
	return result
}
