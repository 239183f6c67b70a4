/*
Package generic provides the shared kernel of the payroll engine.

PURPOSE:
  This package contains the types every calculator agrees on: money
  rounding, civil dates, pay periods, the persisted record shapes, the
  error kinds and the Persistence Gateway interfaces. Calculators live in
  their own packages (payroll, bonus, vacation, loan) and only meet here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal rounded half-up to 2 places at assignment
  - Rates: decimal.Decimal with 4 places when entered by a user
  - Employee: the subject of every calculation
  - PayrollRecord, BonusRecord, VacationRequest, Loan: persisted results

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for amounts
  2. Rounding at assignment: intermediates keep full precision
  3. Plain values: records are copied, not shared
  4. Optimistic concurrency: every persisted record carries a Version

SEE ALSO:
  - time.go: Date and Clock
  - period.go: DateRange and PayPeriod
  - store.go: Persistence Gateway interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY AND RATES
// =============================================================================

const (
	MoneyPlaces = 2
	RatePlaces  = 4
)

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -2)
)

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// RoundRate rounds a rate to four fractional digits.
func RoundRate(d decimal.Decimal) decimal.Decimal { return d.Round(RatePlaces) }

// Cent returns 0.01.
func Cent() decimal.Decimal { return cent }

// Hundred returns 100.
func Hundred() decimal.Decimal { return hundred }

// WithinCent reports |a-b| <= 0.01.
func WithinCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(cent)
}

// MustParseDecimal parses s or panics. Use for constants and tests only.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// SumMoney adds amounts.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// EmployeeCode is the stable opaque identifier of an employee.
type EmployeeCode string

// Employee is the master record. It is never deleted once referenced.
type Employee struct {
	Code            EmployeeCode
	Names           string
	Surnames        string
	NationalID      string
	HireDate        Date
	TerminationDate *Date
	BaseSalary      decimal.Decimal
	DepartmentCode  string
	PositionCode    string
	Active          bool
}

// FullName returns "Names Surnames".
func (e Employee) FullName() string {
	if e.Surnames == "" {
		return e.Names
	}
	return e.Names + " " + e.Surnames
}

// EmploymentEnd returns the termination date, or fallback when still employed.
func (e Employee) EmploymentEnd(fallback Date) Date {
	if e.TerminationDate != nil {
		return *e.TerminationDate
	}
	return fallback
}

// =============================================================================
// ADJUSTMENTS - additional income and deductions fed into payroll
// =============================================================================

type AdjustmentKind string

const (
	AdjustmentIncome    AdjustmentKind = "INCOME"
	AdjustmentDeduction AdjustmentKind = "DEDUCTION"
)

// Adjustment is a one-off income or deduction line for an employee.
// ProcessedPeriod is empty until a saved payroll record consumes it.
type Adjustment struct {
	ID              string
	EmployeeCode    EmployeeCode
	Kind            AdjustmentKind
	Concept         string
	Amount          decimal.Decimal
	EffectiveDate   Date
	Taxable         bool
	ProcessedPeriod string
}

// AvailableFor reports whether the adjustment may enter the given period.
// Lines already consumed by the same period stay available so a
// recalculation sees the same inputs.
func (a Adjustment) AvailableFor(p PayPeriod) bool {
	if !p.Range().Contains(a.EffectiveDate) {
		return false
	}
	return a.ProcessedPeriod == "" || a.ProcessedPeriod == p.String()
}

// =============================================================================
// PAYROLL RECORD
// =============================================================================

type PayrollStatus string

const (
	PayrollDraft      PayrollStatus = "DRAFT"
	PayrollCalculated PayrollStatus = "CALCULATED"
	PayrollApproved   PayrollStatus = "APPROVED"
	PayrollPaid       PayrollStatus = "PAID"
	PayrollVoid       PayrollStatus = "VOID"
)

// Locked reports whether a record in this state may no longer be recomputed.
func (s PayrollStatus) Locked() bool {
	return s == PayrollApproved || s == PayrollPaid
}

// PayrollRecord is one employee's payroll for one period.
type PayrollRecord struct {
	EmployeeCode EmployeeCode
	Period       PayPeriod

	// Inputs snapshot
	DaysWorked       int
	Overtime50Hours  decimal.Decimal
	Overtime100Hours decimal.Decimal

	// Earnings
	BasicSalary      decimal.Decimal
	OvertimePay      decimal.Decimal
	AdditionalIncome decimal.Decimal
	NonTaxableIncome decimal.Decimal // informational, outside the totals
	TotalIncome      decimal.Decimal

	// Deductions
	IESSPersonal         decimal.Decimal
	IncomeTaxMonthly     decimal.Decimal
	AdditionalDeductions decimal.Decimal
	TotalDeductions      decimal.Decimal

	NetPay decimal.Decimal

	// Employer provisions (reported, not deducted)
	ThirteenthAccrual  decimal.Decimal
	FourteenthAccrual  decimal.Decimal
	VacationAccrual    decimal.Decimal
	ReserveFundAccrual decimal.Decimal
	IESSEmployer       decimal.Decimal

	Status        PayrollStatus
	CalculatedAt  time.Time
	ApprovedBy    string
	ApprovedAt    *time.Time
	AdjustmentIDs []string
	Version       int
}

// Provisions returns the sum of the four accrual provisions.
func (r PayrollRecord) Provisions() decimal.Decimal {
	return SumMoney(r.ThirteenthAccrual, r.FourteenthAccrual, r.VacationAccrual, r.ReserveFundAccrual)
}

// =============================================================================
// STATUTORY BONUSES
// =============================================================================

type BonusKind string

const (
	BonusThirteenth BonusKind = "THIRTEENTH"
	BonusFourteenth BonusKind = "FOURTEENTH"
)

type BonusStatus string

const (
	BonusCalculated BonusStatus = "CALCULATED"
	BonusApproved   BonusStatus = "APPROVED"
	BonusPaid       BonusStatus = "PAID"
)

// Locked reports whether a stored bonus may no longer be replaced.
func (s BonusStatus) Locked() bool {
	return s == BonusApproved || s == BonusPaid
}

// BonusRecord holds a thirteenth or fourteenth salary for one employee and year.
type BonusRecord struct {
	Kind           BonusKind
	EmployeeCode   EmployeeCode
	Year           int
	Window         DateRange
	WindowDays     int
	EffectiveStart *Date
	EffectiveEnd   *Date
	DaysWorked     int
	FullCoverage   bool
	Base           decimal.Decimal
	Amount         decimal.Decimal
	Status         BonusStatus
	CalculatedAt   time.Time
	ApprovedBy     string
	ApprovedAt     *time.Time
	Version        int
}

// =============================================================================
// VACATION REQUESTS
// =============================================================================

type VacationType string

const (
	VacationScheduled VacationType = "SCHEDULED"
	VacationEmergency VacationType = "EMERGENCY"
)

type VacationStatus string

const (
	VacationPending    VacationStatus = "PENDING"
	VacationApproved   VacationStatus = "APPROVED"
	VacationRejected   VacationStatus = "REJECTED"
	VacationTaken      VacationStatus = "TAKEN"
	VacationLiquidated VacationStatus = "LIQUIDATED"
)

// Holds reports whether the request blocks its dates for other requests.
func (s VacationStatus) Holds() bool {
	return s == VacationPending || s == VacationApproved
}

type VacationRequest struct {
	ID            string
	EmployeeCode  EmployeeCode
	StartDate     Date
	EndDate       Date
	DaysRequested int
	Type          VacationType
	Status        VacationStatus
	Reason        string
	DecidedBy     string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	Version       int
}

// Range returns [StartDate, EndDate].
func (r VacationRequest) Range() DateRange {
	return DateRange{Start: r.StartDate, End: r.EndDate}
}

// =============================================================================
// LOANS
// =============================================================================

type LoanKind string

const (
	LoanUnsecured LoanKind = "UNSECURED"
	LoanMortgage  LoanKind = "MORTGAGE"
	LoanEmergency LoanKind = "EMERGENCY"
)

type RateMode string

const (
	RateFixed    RateMode = "FIXED"
	RateVariable RateMode = "VARIABLE"
)

type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanCancelled LoanStatus = "CANCELLED"
	LoanPaidOff   LoanStatus = "PAID_OFF"
	LoanOverdue   LoanStatus = "OVERDUE"
)

// Payable reports whether payments may be registered.
func (s LoanStatus) Payable() bool {
	return s == LoanActive || s == LoanOverdue
}

// AmortizationLine is one row of a loan table.
type AmortizationLine struct {
	Number      int
	DueDate     Date
	Principal   decimal.Decimal
	Interest    decimal.Decimal
	Installment decimal.Decimal
	Balance     decimal.Decimal
}

// LoanPayment is an append-only record of money received against a loan.
type LoanPayment struct {
	ID           string
	Date         Date
	Amount       decimal.Decimal
	Interest     decimal.Decimal
	Principal    decimal.Decimal
	Fees         decimal.Decimal
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

type Loan struct {
	ID                 string
	EmployeeCode       EmployeeCode
	Kind               LoanKind
	Principal          decimal.Decimal
	TermMonths         int
	AnnualRate         decimal.Decimal // percent, e.g. 15.30
	RateMode           RateMode
	StartDate          Date
	MonthlyInstallment decimal.Decimal
	TotalToPay         decimal.Decimal
	TotalInterest      decimal.Decimal
	RemainingBalance   decimal.Decimal
	Status             LoanStatus
	Lines              []AmortizationLine
	Payments           []LoanPayment
	CreatedAt          time.Time
	Version            int
}

// PrincipalPaid sums the principal portion of every recorded payment.
func (l Loan) PrincipalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.Payments {
		total = total.Add(p.Principal)
	}
	return total
}

// LastPaymentDate returns the most recent payment date, or StartDate.
func (l Loan) LastPaymentDate() Date {
	last := l.StartDate
	for _, p := range l.Payments {
		if p.Date.After(last) {
			last = p.Date
		}
	}
	return last
}

// =============================================================================
// PARAMETERS
// =============================================================================

type ParameterType string

const (
	ParamDecimal ParameterType = "decimal"
	ParamInt     ParameterType = "int"
	ParamJSON    ParameterType = "json"
)

// ParameterRow is one persisted key/value override.
type ParameterRow struct {
	Key       string
	Value     string
	Type      ParameterType
	UpdatedAt time.Time
}
