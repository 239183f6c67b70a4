/*
store.go - Persistence Gateway contracts

PURPOSE:
  Defines the interface between the calculators and the database.
  Calculators read master data and prior records through these
  interfaces and hand results to a separate persist step. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  EmployeeStore:   Employee master (read, plus upsert for onboarding tools)
  AdjustmentStore: One-off income/deduction lines consumed by payroll
  PayrollStore:    One record per (employee, period)
  BonusStore:      One record per (kind, employee, year)
  VacationStore:   Requests keyed by (employee, request id)
  LoanStore:       Loans with their amortization lines and payments
  ParameterStore:  Key/value overrides of the default parameter table
  TxGateway:       All of the above plus WithTx

OPTIMISTIC CONCURRENCY:
  Every Save* takes a pointer. Version 0 means "insert"; the write fails
  with ErrConflictingWrite if the natural key already exists. A non-zero
  Version means "update the row still at this version"; a mismatch is
  ErrConflictingWrite. On success the stored Version is incremented and
  written back into the argument.

ORDERING:
  List* results are deterministic: employees by code, payroll by period
  then code, vacation requests by start date, loans by creation time,
  payments by date.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite (mattn/go-sqlite3)
  - store/postgres/postgres.go: PostgreSQL (pgx)

SEE ALSO:
  - errors.go: ErrConflictingWrite, ErrRecordNotFound
*/
package generic

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// EmployeeFilter narrows ListEmployees. Zero value lists everyone.
type EmployeeFilter struct {
	ActiveOnly bool
	Codes      []EmployeeCode // empty = no code filter
}

// Match reports whether e passes the filter.
func (f EmployeeFilter) Match(e Employee) bool {
	if f.ActiveOnly && !e.Active {
		return false
	}
	if len(f.Codes) == 0 {
		return true
	}
	for _, c := range f.Codes {
		if c == e.Code {
			return true
		}
	}
	return false
}

// LoanFilter narrows ListLoans. Zero value lists every loan.
type LoanFilter struct {
	EmployeeCode EmployeeCode
	RateMode     RateMode
	Statuses     []LoanStatus
}

func (f LoanFilter) Match(l Loan) bool {
	if f.EmployeeCode != "" && f.EmployeeCode != l.EmployeeCode {
		return false
	}
	if f.RateMode != "" && f.RateMode != l.RateMode {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == l.Status {
			return true
		}
	}
	return false
}

// =============================================================================
// STORES
// =============================================================================

type EmployeeStore interface {
	// GetEmployee returns ErrEmployeeNotFound when the code is unknown.
	GetEmployee(ctx context.Context, code EmployeeCode) (Employee, error)
	ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error
}

type AdjustmentStore interface {
	// ListAdjustments returns the employee's lines with EffectiveDate in r.
	ListAdjustments(ctx context.Context, code EmployeeCode, r DateRange) ([]Adjustment, error)
	SaveAdjustment(ctx context.Context, a Adjustment) error
	// MarkAdjustmentsProcessed stamps the lines as consumed by period.
	MarkAdjustmentsProcessed(ctx context.Context, ids []string, period PayPeriod) error
}

type PayrollStore interface {
	// GetPayroll returns ErrRecordNotFound when no record exists.
	GetPayroll(ctx context.Context, code EmployeeCode, period PayPeriod) (PayrollRecord, error)
	ListPayroll(ctx context.Context, period PayPeriod) ([]PayrollRecord, error)
	// ListPayrollRange returns the employee's records for from..to inclusive.
	ListPayrollRange(ctx context.Context, code EmployeeCode, from, to PayPeriod) ([]PayrollRecord, error)
	SavePayroll(ctx context.Context, r *PayrollRecord) error
}

type BonusStore interface {
	GetBonus(ctx context.Context, kind BonusKind, code EmployeeCode, year int) (BonusRecord, error)
	ListBonuses(ctx context.Context, kind BonusKind, year int) ([]BonusRecord, error)
	SaveBonus(ctx context.Context, r *BonusRecord) error
}

type VacationStore interface {
	GetVacationRequest(ctx context.Context, id string) (VacationRequest, error)
	ListVacationRequests(ctx context.Context, code EmployeeCode) ([]VacationRequest, error)
	SaveVacationRequest(ctx context.Context, r *VacationRequest) error
}

type LoanStore interface {
	// GetLoan returns the loan with its lines and payments.
	GetLoan(ctx context.Context, id string) (Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
	// SaveLoan writes the header and replaces the amortization lines.
	// Payments are never rewritten; use AppendLoanPayment.
	SaveLoan(ctx context.Context, l *Loan) error
	// AppendLoanPayment is append-only; a repeated payment ID is
	// ErrConflictingWrite.
	AppendLoanPayment(ctx context.Context, loanID string, p LoanPayment) error
}

type ParameterStore interface {
	ListParameters(ctx context.Context) ([]ParameterRow, error)
	SaveParameter(ctx context.Context, row ParameterRow) error
}

// =============================================================================
// GATEWAY - Everything a calculator may touch
// =============================================================================

type Gateway interface {
	EmployeeStore
	AdjustmentStore
	PayrollStore
	BonusStore
	VacationStore
	LoanStore
	ParameterStore
}

// TxGateway wraps Gateway with transaction support.
type TxGateway interface {
	Gateway

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Gateway) error) error
}
