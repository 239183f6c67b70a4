/*
Package payroll produces one payroll record per (employee, period).

PURPOSE:
  Compute is the pure algorithm: given an employee, a period, the inputs
  snapshot and a parameter Set it returns a CALCULATED record. Service
  gathers those inputs through the Persistence Gateway, persists results
  and aggregates period summaries.

ALGORITHM (Compute):
  1. Inactive employees are rejected
  2. monthly = base salary, or MINIMUM_WAGE when the salary is zero
     basic   = monthly / 30 * days
  3. hourly  = monthly / 240
     overtime = h50 * hourly * OVERTIME_50_FACTOR + h100 * hourly * OVERTIME_100_FACTOR
  4. Adjustments effective in the period: taxable income, non-taxable
     income (reported only) and deductions
  5. total income = basic + overtime + taxable additional income
  6. IESS personal = total income * IESS_EMPLOYEE_RATE
  7. income tax = AnnualTax(total income * 12) / 12
  8. total deductions = IESS + tax + additional deductions
  9. net = total income - total deductions (may be negative)
  10. Employer provisions, reported but not netted

ROUNDING:
  Every money field is rounded half away from zero to cents when it is
  assigned. Later steps read the rounded fields, so the record identities
  hold exactly; Verify still checks them.

SEE ALSO:
  - tax.go: bracket walking
  - service.go: gateway-backed operations
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/params"
)

const (
	// Regulatory divisors, independent of the real month length.
	DaysPerMonth  = 30
	HoursPerMonth = 240
	MaxDaysWorked = 31
)

var (
	daysPerMonth  = decimal.NewFromInt(DaysPerMonth)
	hoursPerMonth = decimal.NewFromInt(HoursPerMonth)
	twentyFour    = decimal.NewFromInt(24)
)

// Input is everything Compute needs for one employee and one period.
type Input struct {
	Employee         generic.Employee
	Period           generic.PayPeriod
	DaysWorked       *int // nil = days in the month
	Overtime50Hours  decimal.Decimal
	Overtime100Hours decimal.Decimal
	Adjustments      []generic.Adjustment
	CalculatedAt     time.Time
}

// Compute runs the payroll algorithm. It does not touch storage.
func Compute(in Input, set *params.Set) (generic.PayrollRecord, error) {
	period, err := generic.NewPayPeriod(in.Period.Year, in.Period.Month)
	if err != nil {
		return generic.PayrollRecord{}, err
	}

	days := period.Days()
	if in.DaysWorked != nil {
		days = *in.DaysWorked
	}
	if days < 0 || days > MaxDaysWorked {
		return generic.PayrollRecord{}, generic.InputError("days_worked", "%d outside 0..%d", days, MaxDaysWorked)
	}
	if in.Overtime50Hours.IsNegative() || in.Overtime100Hours.IsNegative() {
		return generic.PayrollRecord{}, generic.InputError("overtime", "hours must not be negative")
	}

	emp := in.Employee
	if !emp.Active {
		return generic.PayrollRecord{}, fmt.Errorf("%w: %s", generic.ErrEmployeeInactive, emp.Code)
	}
	if emp.BaseSalary.IsNegative() {
		return generic.PayrollRecord{}, generic.InputError("base_salary", "%s is negative", emp.BaseSalary)
	}

	monthly := emp.BaseSalary
	if monthly.IsZero() {
		monthly = set.MinimumWage()
	}
	if !monthly.IsPositive() {
		return generic.PayrollRecord{}, fmt.Errorf("%w: %s", generic.ErrSalaryUndefined, emp.Code)
	}

	rec := generic.PayrollRecord{
		EmployeeCode:     emp.Code,
		Period:           period,
		DaysWorked:       days,
		Overtime50Hours:  in.Overtime50Hours,
		Overtime100Hours: in.Overtime100Hours,
		Status:           generic.PayrollCalculated,
		CalculatedAt:     in.CalculatedAt,
	}
	if days == 0 {
		zeroMoney(&rec)
		return rec, nil
	}

	// Earnings
	rec.BasicSalary = generic.RoundMoney(monthly.Mul(decimal.NewFromInt(int64(days))).Div(daysPerMonth))
	rec.OvertimePay = generic.RoundMoney(overtime(monthly, in.Overtime50Hours, in.Overtime100Hours, set))

	income, nonTaxable, deductions := decimal.Zero, decimal.Zero, decimal.Zero
	for _, adj := range in.Adjustments {
		if adj.EmployeeCode != emp.Code || !adj.AvailableFor(period) {
			continue
		}
		if adj.Amount.IsNegative() {
			return generic.PayrollRecord{}, generic.InputError("adjustment", "%s has a negative amount", adj.ID)
		}
		switch {
		case adj.Kind == generic.AdjustmentDeduction:
			deductions = deductions.Add(adj.Amount)
		case adj.Taxable:
			income = income.Add(adj.Amount)
		default:
			nonTaxable = nonTaxable.Add(adj.Amount)
		}
		rec.AdjustmentIDs = append(rec.AdjustmentIDs, adj.ID)
	}
	rec.AdditionalIncome = generic.RoundMoney(income)
	rec.NonTaxableIncome = generic.RoundMoney(nonTaxable)
	rec.TotalIncome = rec.BasicSalary.Add(rec.OvertimePay).Add(rec.AdditionalIncome)

	// Deductions
	rec.IESSPersonal = generic.RoundMoney(rec.TotalIncome.Mul(set.IESSEmployeeRate()))
	rec.IncomeTaxMonthly = generic.RoundMoney(MonthlyTax(set.Brackets(), rec.TotalIncome))
	rec.AdditionalDeductions = generic.RoundMoney(deductions)
	rec.TotalDeductions = rec.IESSPersonal.Add(rec.IncomeTaxMonthly).Add(rec.AdditionalDeductions)
	rec.NetPay = rec.TotalIncome.Sub(rec.TotalDeductions)

	// Employer provisions
	rec.ThirteenthAccrual = generic.RoundMoney(rec.TotalIncome.Mul(set.ThirteenthRate()))
	rec.FourteenthAccrual = generic.RoundMoney(set.FourteenthAmount().Div(twelve))
	rec.VacationAccrual = generic.RoundMoney(monthly.Div(twentyFour))
	rec.ReserveFundAccrual = decimal.Zero
	if ReserveFundEligible(emp, period) {
		rec.ReserveFundAccrual = generic.RoundMoney(rec.TotalIncome.Mul(set.ReserveFundRate()))
	}
	rec.IESSEmployer = generic.RoundMoney(rec.TotalIncome.Mul(set.IESSEmployerRate()))

	if err := Verify(rec); err != nil {
		return generic.PayrollRecord{}, err
	}
	return rec, nil
}

func overtime(monthly, h50, h100 decimal.Decimal, set *params.Set) decimal.Decimal {
	at50 := h50.Mul(monthly).Mul(set.Overtime50Factor())
	at100 := h100.Mul(monthly).Mul(set.Overtime100Factor())
	return at50.Add(at100).Div(hoursPerMonth)
}

// ReserveFundEligible reports tenure of at least one year on the last day
// of the period.
func ReserveFundEligible(emp generic.Employee, period generic.PayPeriod) bool {
	if emp.HireDate.IsZero() {
		return false
	}
	return !emp.HireDate.AddYears(1).After(period.End())
}

// Verify checks the two record identities to within one cent.
func Verify(rec generic.PayrollRecord) error {
	parts := rec.BasicSalary.Add(rec.OvertimePay).Add(rec.AdditionalIncome)
	if !generic.WithinCent(rec.TotalIncome, parts) {
		return &generic.InvariantError{
			Invariant: "total_income = basic + overtime + additional",
			Want:      parts.StringFixed(2),
			Got:       rec.TotalIncome.StringFixed(2),
		}
	}
	net := rec.TotalIncome.Sub(rec.TotalDeductions)
	if !generic.WithinCent(rec.NetPay, net) {
		return &generic.InvariantError{
			Invariant: "net_pay = total_income - total_deductions",
			Want:      net.StringFixed(2),
			Got:       rec.NetPay.StringFixed(2),
		}
	}
	return nil
}

func zeroMoney(rec *generic.PayrollRecord) {
	z := decimal.Zero
	rec.BasicSalary, rec.OvertimePay, rec.AdditionalIncome, rec.NonTaxableIncome, rec.TotalIncome = z, z, z, z, z
	rec.IESSPersonal, rec.IncomeTaxMonthly, rec.AdditionalDeductions, rec.TotalDeductions = z, z, z, z
	rec.NetPay = z
	rec.ThirteenthAccrual, rec.FourteenthAccrual, rec.VacationAccrual, rec.ReserveFundAccrual, rec.IESSEmployer = z, z, z, z, z
}
