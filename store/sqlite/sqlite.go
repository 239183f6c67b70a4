/*
Package sqlite provides a SQLite-backed Persistence Gateway.

PURPOSE:
  Implements generic.TxGateway on SQLite through mattn/go-sqlite3. The
  PostgreSQL gateway in store/postgres follows the same table layout with
  native column types.

KEY TABLES:
  employees:          Employee master
  adjustments:        One-off income and deduction lines
  payroll_records:    One row per (employee_code, period)
  bonus_records:      One row per (kind, employee_code, year)
  vacation_requests:  One row per request id, unique with employee_code
  loans:              Loan headers
  amortization_lines: Current table of each loan, replaced on rate change
  loan_payments:      Append-only payments, unique per (loan_id, id)
  parameters:         Overrides of the default parameter table

STORAGE FORMATS:
  Money, rates and hours are TEXT holding the exact decimal string. Dates
  are TEXT "YYYY-MM-DD", periods "YYYY-MM", instants fixed-width UTC
  RFC 3339 with nanoseconds so text order matches time order.

CONCURRENCY:
  Natural keys are primary keys. A duplicate insert or a version mismatch
  on update is reported as generic.ErrConflictingWrite. WithTx holds a
  mutex so only one write transaction runs at a time; SQLite would
  serialize them anyway.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store, cache, nil, logger)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// timeLayout is fixed width so instants sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.TxGateway using SQLite.
type Store struct {
	*gateway
	db *sql.DB
	mu sync.Mutex
}

// gateway runs every generic.Gateway method against q.
type gateway struct {
	q querier
}

var _ generic.TxGateway = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{gateway: &gateway{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		code TEXT PRIMARY KEY,
		names TEXT NOT NULL,
		surnames TEXT NOT NULL DEFAULT '',
		national_id TEXT NOT NULL DEFAULT '',
		hire_date TEXT NOT NULL,
		termination_date TEXT,
		base_salary TEXT NOT NULL,
		department_code TEXT NOT NULL DEFAULT '',
		position_code TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		employee_code TEXT NOT NULL REFERENCES employees(code),
		kind TEXT NOT NULL,
		concept TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		taxable INTEGER NOT NULL DEFAULT 1,
		processed_period TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_employee_date
		ON adjustments(employee_code, effective_date);

	CREATE TABLE IF NOT EXISTS payroll_records (
		employee_code TEXT NOT NULL REFERENCES employees(code),
		period TEXT NOT NULL,
		days_worked INTEGER NOT NULL,
		overtime_50_hours TEXT NOT NULL,
		overtime_100_hours TEXT NOT NULL,
		basic_salary TEXT NOT NULL,
		overtime_pay TEXT NOT NULL,
		additional_income TEXT NOT NULL,
		non_taxable_income TEXT NOT NULL,
		total_income TEXT NOT NULL,
		iess_personal TEXT NOT NULL,
		income_tax_monthly TEXT NOT NULL,
		additional_deductions TEXT NOT NULL,
		total_deductions TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		thirteenth_accrual TEXT NOT NULL,
		fourteenth_accrual TEXT NOT NULL,
		vacation_accrual TEXT NOT NULL,
		reserve_fund_accrual TEXT NOT NULL,
		iess_employer TEXT NOT NULL,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		adjustment_ids_json TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL,
		PRIMARY KEY (employee_code, period)
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_period
		ON payroll_records(period);

	CREATE TABLE IF NOT EXISTS bonus_records (
		kind TEXT NOT NULL,
		employee_code TEXT NOT NULL REFERENCES employees(code),
		year INTEGER NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		window_days INTEGER NOT NULL,
		effective_start TEXT,
		effective_end TEXT,
		days_worked INTEGER NOT NULL,
		full_coverage INTEGER NOT NULL,
		base TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		version INTEGER NOT NULL,
		PRIMARY KEY (kind, employee_code, year)
	);

	CREATE TABLE IF NOT EXISTS vacation_requests (
		id TEXT PRIMARY KEY,
		employee_code TEXT NOT NULL REFERENCES employees(code),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days_requested INTEGER NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL,
		UNIQUE (employee_code, id)
	);

	CREATE INDEX IF NOT EXISTS idx_vacation_employee_start
		ON vacation_requests(employee_code, start_date);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		employee_code TEXT NOT NULL REFERENCES employees(code),
		kind TEXT NOT NULL,
		principal TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		annual_rate TEXT NOT NULL,
		rate_mode TEXT NOT NULL,
		start_date TEXT NOT NULL,
		monthly_installment TEXT NOT NULL,
		total_to_pay TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_rate_mode_status
		ON loans(rate_mode, status);

	CREATE TABLE IF NOT EXISTS amortization_lines (
		loan_id TEXT NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		installment TEXT NOT NULL,
		balance TEXT NOT NULL,
		PRIMARY KEY (loan_id, number)
	);

	CREATE TABLE IF NOT EXISTS loan_payments (
		loan_id TEXT NOT NULL REFERENCES loans(id),
		id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		interest TEXT NOT NULL,
		principal TEXT NOT NULL,
		fees TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (loan_id, id)
	);

	CREATE TABLE IF NOT EXISTS parameters (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (generic.TxGateway)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Gateway) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&gateway{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

const employeeColumns = `code, names, surnames, national_id, hire_date, termination_date,
	base_salary, department_code, position_code, active`

func (g *gateway) GetEmployee(ctx context.Context, code generic.EmployeeCode) (generic.Employee, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE code = ?`, code)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Employee{}, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, code)
	}
	return e, err
}

func (g *gateway) ListEmployees(ctx context.Context, f generic.EmployeeFilter) ([]generic.Employee, error) {
	rows, err := g.q.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE (? = 0 OR active = 1) ORDER BY code`, f.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []generic.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// SaveEmployee upserts the master record.
func (g *gateway) SaveEmployee(ctx context.Context, e generic.Employee) error {
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			names = excluded.names,
			surnames = excluded.surnames,
			national_id = excluded.national_id,
			hire_date = excluded.hire_date,
			termination_date = excluded.termination_date,
			base_salary = excluded.base_salary,
			department_code = excluded.department_code,
			position_code = excluded.position_code,
			active = excluded.active`,
		e.Code, e.Names, e.Surnames, e.NationalID, e.HireDate.String(), nullDate(e.TerminationDate),
		e.BaseSalary.String(), e.DepartmentCode, e.PositionCode, e.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func scanEmployee(sc scanner) (generic.Employee, error) {
	var (
		e            generic.Employee
		hire, salary string
		termination  sql.NullString
	)
	if err := sc.Scan(&e.Code, &e.Names, &e.Surnames, &e.NationalID, &hire, &termination,
		&salary, &e.DepartmentCode, &e.PositionCode, &e.Active); err != nil {
		return generic.Employee{}, err
	}
	var err error
	if e.HireDate, err = generic.ParseDate(hire); err != nil {
		return generic.Employee{}, err
	}
	if e.TerminationDate, err = parseNullDate(termination); err != nil {
		return generic.Employee{}, err
	}
	if e.BaseSalary, err = decimal.NewFromString(salary); err != nil {
		return generic.Employee{}, err
	}
	return e, nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (g *gateway) ListAdjustments(ctx context.Context, code generic.EmployeeCode, r generic.DateRange) ([]generic.Adjustment, error) {
	rows, err := g.q.QueryContext(ctx, `
		SELECT id, employee_code, kind, concept, amount, effective_date, taxable, processed_period
		FROM adjustments
		WHERE employee_code = ? AND effective_date BETWEEN ? AND ?
		ORDER BY effective_date, id`,
		code, r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []generic.Adjustment
	for rows.Next() {
		var (
			a              generic.Adjustment
			amount, effDay string
		)
		if err := rows.Scan(&a.ID, &a.EmployeeCode, &a.Kind, &a.Concept, &amount, &effDay,
			&a.Taxable, &a.ProcessedPeriod); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if a.EffectiveDate, err = generic.ParseDate(effDay); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (g *gateway) SaveAdjustment(ctx context.Context, a generic.Adjustment) error {
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO adjustments (id, employee_code, kind, concept, amount, effective_date, taxable, processed_period)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			concept = excluded.concept,
			amount = excluded.amount,
			effective_date = excluded.effective_date,
			taxable = excluded.taxable,
			processed_period = excluded.processed_period`,
		a.ID, a.EmployeeCode, a.Kind, a.Concept, a.Amount.String(), a.EffectiveDate.String(),
		a.Taxable, a.ProcessedPeriod,
	)
	if err != nil {
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

func (g *gateway) MarkAdjustmentsProcessed(ctx context.Context, ids []string, p generic.PayPeriod) error {
	for _, id := range ids {
		res, err := g.q.ExecContext(ctx, `UPDATE adjustments SET processed_period = ? WHERE id = ?`, p.String(), id)
		if err != nil {
			return fmt.Errorf("failed to mark adjustment %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: adjustment %s", generic.ErrRecordNotFound, id)
		}
	}
	return nil
}

// =============================================================================
// PAYROLL RECORDS
// =============================================================================

const payrollColumns = `employee_code, period, days_worked, overtime_50_hours, overtime_100_hours,
	basic_salary, overtime_pay, additional_income, non_taxable_income, total_income,
	iess_personal, income_tax_monthly, additional_deductions, total_deductions, net_pay,
	thirteenth_accrual, fourteenth_accrual, vacation_accrual, reserve_fund_accrual, iess_employer,
	status, calculated_at, approved_by, approved_at, adjustment_ids_json, version`

func (g *gateway) GetPayroll(ctx context.Context, code generic.EmployeeCode, p generic.PayPeriod) (generic.PayrollRecord, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT `+payrollColumns+` FROM payroll_records WHERE employee_code = ? AND period = ?`, code, p.String())
	r, err := scanPayroll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.PayrollRecord{}, fmt.Errorf("%w: payroll %s %s", generic.ErrRecordNotFound, code, p)
	}
	return r, err
}

func (g *gateway) ListPayroll(ctx context.Context, p generic.PayPeriod) ([]generic.PayrollRecord, error) {
	return g.queryPayroll(ctx,
		`SELECT `+payrollColumns+` FROM payroll_records WHERE period = ? ORDER BY employee_code`, p.String())
}

func (g *gateway) ListPayrollRange(ctx context.Context, code generic.EmployeeCode, from, to generic.PayPeriod) ([]generic.PayrollRecord, error) {
	return g.queryPayroll(ctx, `
		SELECT `+payrollColumns+` FROM payroll_records
		WHERE employee_code = ? AND period BETWEEN ? AND ?
		ORDER BY period`, code, from.String(), to.String())
}

func (g *gateway) queryPayroll(ctx context.Context, query string, args ...any) ([]generic.PayrollRecord, error) {
	rows, err := g.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll: %w", err)
	}
	defer rows.Close()

	var out []generic.PayrollRecord
	for rows.Next() {
		r, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *gateway) SavePayroll(ctx context.Context, r *generic.PayrollRecord) error {
	ids, err := json.Marshal(nonNil(r.AdjustmentIDs))
	if err != nil {
		return err
	}
	args := []any{
		r.DaysWorked, r.Overtime50Hours.String(), r.Overtime100Hours.String(),
		r.BasicSalary.String(), r.OvertimePay.String(), r.AdditionalIncome.String(),
		r.NonTaxableIncome.String(), r.TotalIncome.String(),
		r.IESSPersonal.String(), r.IncomeTaxMonthly.String(), r.AdditionalDeductions.String(),
		r.TotalDeductions.String(), r.NetPay.String(),
		r.ThirteenthAccrual.String(), r.FourteenthAccrual.String(), r.VacationAccrual.String(),
		r.ReserveFundAccrual.String(), r.IESSEmployer.String(),
		r.Status, formatTime(r.CalculatedAt), r.ApprovedBy, nullTime(r.ApprovedAt), string(ids),
	}

	if r.Version == 0 {
		_, err = g.q.ExecContext(ctx, `
			INSERT INTO payroll_records (`+payrollColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			append([]any{r.EmployeeCode, r.Period.String()}, args...)...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE payroll_records SET
				days_worked = ?, overtime_50_hours = ?, overtime_100_hours = ?,
				basic_salary = ?, overtime_pay = ?, additional_income = ?,
				non_taxable_income = ?, total_income = ?,
				iess_personal = ?, income_tax_monthly = ?, additional_deductions = ?,
				total_deductions = ?, net_pay = ?,
				thirteenth_accrual = ?, fourteenth_accrual = ?, vacation_accrual = ?,
				reserve_fund_accrual = ?, iess_employer = ?,
				status = ?, calculated_at = ?, approved_by = ?, approved_at = ?, adjustment_ids_json = ?,
				version = version + 1
			WHERE employee_code = ? AND period = ? AND version = ?`,
			append(args, r.EmployeeCode, r.Period.String(), r.Version)...)
	}
	if err != nil {
		return mapWriteError("payroll record", err)
	}
	r.Version++
	return nil
}

func scanPayroll(sc scanner) (generic.PayrollRecord, error) {
	var (
		r                    generic.PayrollRecord
		period, calculatedAt string
		approvedAt           sql.NullString
		idsJSON              string
		dec                  [17]string
	)
	if err := sc.Scan(&r.EmployeeCode, &period, &r.DaysWorked, &dec[0], &dec[1],
		&dec[2], &dec[3], &dec[4], &dec[5], &dec[6],
		&dec[7], &dec[8], &dec[9], &dec[10], &dec[11],
		&dec[12], &dec[13], &dec[14], &dec[15], &dec[16],
		&r.Status, &calculatedAt, &r.ApprovedBy, &approvedAt, &idsJSON, &r.Version); err != nil {
		return generic.PayrollRecord{}, err
	}
	var err error
	if r.Period, err = generic.ParsePayPeriod(period); err != nil {
		return generic.PayrollRecord{}, err
	}
	targets := []*decimal.Decimal{
		&r.Overtime50Hours, &r.Overtime100Hours,
		&r.BasicSalary, &r.OvertimePay, &r.AdditionalIncome, &r.NonTaxableIncome, &r.TotalIncome,
		&r.IESSPersonal, &r.IncomeTaxMonthly, &r.AdditionalDeductions, &r.TotalDeductions, &r.NetPay,
		&r.ThirteenthAccrual, &r.FourteenthAccrual, &r.VacationAccrual, &r.ReserveFundAccrual, &r.IESSEmployer,
	}
	for i, t := range targets {
		if *t, err = decimal.NewFromString(dec[i]); err != nil {
			return generic.PayrollRecord{}, err
		}
	}
	if r.CalculatedAt, err = parseTime(calculatedAt); err != nil {
		return generic.PayrollRecord{}, err
	}
	if r.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return generic.PayrollRecord{}, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &r.AdjustmentIDs); err != nil {
		return generic.PayrollRecord{}, err
	}
	if len(r.AdjustmentIDs) == 0 {
		r.AdjustmentIDs = nil
	}
	return r, nil
}

// =============================================================================
// BONUS RECORDS
// =============================================================================

const bonusColumns = `kind, employee_code, year, window_start, window_end, window_days,
	effective_start, effective_end, days_worked, full_coverage, base, amount,
	status, calculated_at, approved_by, approved_at, version`

func (g *gateway) GetBonus(ctx context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+bonusColumns+` FROM bonus_records
		WHERE kind = ? AND employee_code = ? AND year = ?`, kind, code, year)
	r, err := scanBonus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.BonusRecord{}, fmt.Errorf("%w: %s %s/%d", generic.ErrRecordNotFound, code, kind, year)
	}
	return r, err
}

func (g *gateway) ListBonuses(ctx context.Context, kind generic.BonusKind, year int) ([]generic.BonusRecord, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT `+bonusColumns+` FROM bonus_records
		WHERE kind = ? AND year = ? ORDER BY employee_code`, kind, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses: %w", err)
	}
	defer rows.Close()

	var out []generic.BonusRecord
	for rows.Next() {
		r, err := scanBonus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *gateway) SaveBonus(ctx context.Context, r *generic.BonusRecord) error {
	args := []any{
		r.Window.Start.String(), r.Window.End.String(), r.WindowDays,
		nullDate(r.EffectiveStart), nullDate(r.EffectiveEnd), r.DaysWorked, r.FullCoverage,
		r.Base.String(), r.Amount.String(), r.Status, formatTime(r.CalculatedAt),
		r.ApprovedBy, nullTime(r.ApprovedAt),
	}

	var err error
	if r.Version == 0 {
		_, err = g.q.ExecContext(ctx, `INSERT INTO bonus_records (`+bonusColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			append([]any{r.Kind, r.EmployeeCode, r.Year}, args...)...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE bonus_records SET
				window_start = ?, window_end = ?, window_days = ?,
				effective_start = ?, effective_end = ?, days_worked = ?, full_coverage = ?,
				base = ?, amount = ?, status = ?, calculated_at = ?,
				approved_by = ?, approved_at = ?,
				version = version + 1
			WHERE kind = ? AND employee_code = ? AND year = ? AND version = ?`,
			append(args, r.Kind, r.EmployeeCode, r.Year, r.Version)...)
	}
	if err != nil {
		return mapWriteError("bonus record", err)
	}
	r.Version++
	return nil
}

func scanBonus(sc scanner) (generic.BonusRecord, error) {
	var (
		r                            generic.BonusRecord
		winStart, winEnd, base, amt  string
		calculatedAt                 string
		effStart, effEnd, approvedAt sql.NullString
	)
	if err := sc.Scan(&r.Kind, &r.EmployeeCode, &r.Year, &winStart, &winEnd, &r.WindowDays,
		&effStart, &effEnd, &r.DaysWorked, &r.FullCoverage, &base, &amt,
		&r.Status, &calculatedAt, &r.ApprovedBy, &approvedAt, &r.Version); err != nil {
		return generic.BonusRecord{}, err
	}
	var err error
	if r.Window.Start, err = generic.ParseDate(winStart); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.Window.End, err = generic.ParseDate(winEnd); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.EffectiveStart, err = parseNullDate(effStart); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.EffectiveEnd, err = parseNullDate(effEnd); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.Base, err = decimal.NewFromString(base); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.Amount, err = decimal.NewFromString(amt); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.CalculatedAt, err = parseTime(calculatedAt); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return generic.BonusRecord{}, err
	}
	return r, nil
}

// =============================================================================
// VACATION REQUESTS
// =============================================================================

const vacationColumns = `id, employee_code, start_date, end_date, days_requested, type, status,
	reason, decided_by, decided_at, created_at, version`

func (g *gateway) GetVacationRequest(ctx context.Context, id string) (generic.VacationRequest, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+vacationColumns+` FROM vacation_requests WHERE id = ?`, id)
	r, err := scanVacation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.VacationRequest{}, fmt.Errorf("%w: vacation request %s", generic.ErrRecordNotFound, id)
	}
	return r, err
}

func (g *gateway) ListVacationRequests(ctx context.Context, code generic.EmployeeCode) ([]generic.VacationRequest, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT `+vacationColumns+` FROM vacation_requests
		WHERE employee_code = ? ORDER BY start_date, id`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to list vacation requests: %w", err)
	}
	defer rows.Close()

	var out []generic.VacationRequest
	for rows.Next() {
		r, err := scanVacation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *gateway) SaveVacationRequest(ctx context.Context, r *generic.VacationRequest) error {
	args := []any{
		r.StartDate.String(), r.EndDate.String(), r.DaysRequested, r.Type, r.Status,
		r.Reason, r.DecidedBy, nullTime(r.DecidedAt), formatTime(r.CreatedAt),
	}

	var err error
	if r.Version == 0 {
		_, err = g.q.ExecContext(ctx, `INSERT INTO vacation_requests (`+vacationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			append([]any{r.ID, r.EmployeeCode}, args...)...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE vacation_requests SET
				start_date = ?, end_date = ?, days_requested = ?, type = ?, status = ?,
				reason = ?, decided_by = ?, decided_at = ?, created_at = ?,
				version = version + 1
			WHERE id = ? AND employee_code = ? AND version = ?`,
			append(args, r.ID, r.EmployeeCode, r.Version)...)
	}
	if err != nil {
		return mapWriteError("vacation request", err)
	}
	r.Version++
	return nil
}

func scanVacation(sc scanner) (generic.VacationRequest, error) {
	var (
		r                 generic.VacationRequest
		start, end, creat string
		decidedAt         sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.EmployeeCode, &start, &end, &r.DaysRequested, &r.Type, &r.Status,
		&r.Reason, &r.DecidedBy, &decidedAt, &creat, &r.Version); err != nil {
		return generic.VacationRequest{}, err
	}
	var err error
	if r.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.VacationRequest{}, err
	}
	if r.EndDate, err = generic.ParseDate(end); err != nil {
		return generic.VacationRequest{}, err
	}
	if r.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return generic.VacationRequest{}, err
	}
	if r.CreatedAt, err = parseTime(creat); err != nil {
		return generic.VacationRequest{}, err
	}
	return r, nil
}

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = `id, employee_code, kind, principal, term_months, annual_rate, rate_mode,
	start_date, monthly_installment, total_to_pay, total_interest, remaining_balance,
	status, created_at, version`

func (g *gateway) GetLoan(ctx context.Context, id string) (generic.Loan, error) {
	row := g.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Loan{}, fmt.Errorf("%w: loan %s", generic.ErrRecordNotFound, id)
	}
	if err != nil {
		return generic.Loan{}, err
	}
	if err := g.loadLoanDetail(ctx, &l); err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

func (g *gateway) ListLoans(ctx context.Context, f generic.LoanFilter) ([]generic.Loan, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans
		WHERE (? = '' OR employee_code = ?) AND (? = '' OR rate_mode = ?)
		ORDER BY created_at, id`,
		f.EmployeeCode, f.EmployeeCode, f.RateMode, f.RateMode)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	var out []generic.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if f.Match(l) {
			out = append(out, l)
		}
	}
	// Close before loading details: the store runs on one connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := g.loadLoanDetail(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveLoan writes the header and replaces the amortization lines.
func (g *gateway) SaveLoan(ctx context.Context, l *generic.Loan) error {
	args := []any{
		l.Kind, l.Principal.String(), l.TermMonths, l.AnnualRate.String(), l.RateMode,
		l.StartDate.String(), l.MonthlyInstallment.String(), l.TotalToPay.String(),
		l.TotalInterest.String(), l.RemainingBalance.String(), l.Status, formatTime(l.CreatedAt),
	}

	var err error
	if l.Version == 0 {
		_, err = g.q.ExecContext(ctx, `INSERT INTO loans (`+loanColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			append([]any{l.ID, l.EmployeeCode}, args...)...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE loans SET
				kind = ?, principal = ?, term_months = ?, annual_rate = ?, rate_mode = ?,
				start_date = ?, monthly_installment = ?, total_to_pay = ?,
				total_interest = ?, remaining_balance = ?, status = ?, created_at = ?,
				version = version + 1
			WHERE id = ? AND version = ?`,
			append(args, l.ID, l.Version)...)
	}
	if err != nil {
		return mapWriteError("loan", err)
	}

	if _, err := g.q.ExecContext(ctx, `DELETE FROM amortization_lines WHERE loan_id = ?`, l.ID); err != nil {
		return fmt.Errorf("failed to clear amortization lines: %w", err)
	}
	for _, line := range l.Lines {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO amortization_lines (loan_id, number, due_date, principal, interest, installment, balance)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, line.Number, line.DueDate.String(), line.Principal.String(), line.Interest.String(),
			line.Installment.String(), line.Balance.String())
		if err != nil {
			return mapWriteError("amortization line", err)
		}
	}
	l.Version++
	return nil
}

func (g *gateway) AppendLoanPayment(ctx context.Context, loanID string, p generic.LoanPayment) error {
	var exists int
	err := g.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE id = ?`, loanID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check loan: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: loan %s", generic.ErrRecordNotFound, loanID)
	}

	_, err = g.q.ExecContext(ctx, `
		INSERT INTO loan_payments (loan_id, id, date, amount, interest, principal, fees, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loanID, p.ID, p.Date.String(), p.Amount.String(), p.Interest.String(), p.Principal.String(),
		p.Fees.String(), p.BalanceAfter.String(), formatTime(p.CreatedAt))
	if err != nil {
		return mapWriteError("loan payment", err)
	}
	return nil
}

func (g *gateway) loadLoanDetail(ctx context.Context, l *generic.Loan) error {
	rows, err := g.q.QueryContext(ctx, `
		SELECT number, due_date, principal, interest, installment, balance
		FROM amortization_lines WHERE loan_id = ? ORDER BY number`, l.ID)
	if err != nil {
		return fmt.Errorf("failed to load amortization lines: %w", err)
	}
	l.Lines = nil
	for rows.Next() {
		var (
			line generic.AmortizationLine
			due  string
			dec  [4]string
		)
		if err := rows.Scan(&line.Number, &due, &dec[0], &dec[1], &dec[2], &dec[3]); err != nil {
			rows.Close()
			return err
		}
		if line.DueDate, err = generic.ParseDate(due); err == nil {
			err = parseDecimals(dec[:], &line.Principal, &line.Interest, &line.Installment, &line.Balance)
		}
		if err != nil {
			rows.Close()
			return err
		}
		l.Lines = append(l.Lines, line)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = g.q.QueryContext(ctx, `
		SELECT id, date, amount, interest, principal, fees, balance_after, created_at
		FROM loan_payments WHERE loan_id = ? ORDER BY date, created_at, id`, l.ID)
	if err != nil {
		return fmt.Errorf("failed to load loan payments: %w", err)
	}
	defer rows.Close()
	l.Payments = nil
	for rows.Next() {
		var (
			p            generic.LoanPayment
			day, created string
			dec          [5]string
		)
		if err := rows.Scan(&p.ID, &day, &dec[0], &dec[1], &dec[2], &dec[3], &dec[4], &created); err != nil {
			return err
		}
		if p.Date, err = generic.ParseDate(day); err != nil {
			return err
		}
		if err := parseDecimals(dec[:], &p.Amount, &p.Interest, &p.Principal, &p.Fees, &p.BalanceAfter); err != nil {
			return err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		l.Payments = append(l.Payments, p)
	}
	return rows.Err()
}

func scanLoan(sc scanner) (generic.Loan, error) {
	var (
		l              generic.Loan
		start, created string
		dec            [6]string
	)
	if err := sc.Scan(&l.ID, &l.EmployeeCode, &l.Kind, &dec[0], &l.TermMonths, &dec[1], &l.RateMode,
		&start, &dec[2], &dec[3], &dec[4], &dec[5], &l.Status, &created, &l.Version); err != nil {
		return generic.Loan{}, err
	}
	var err error
	if l.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.Loan{}, err
	}
	if err := parseDecimals(dec[:], &l.Principal, &l.AnnualRate, &l.MonthlyInstallment,
		&l.TotalToPay, &l.TotalInterest, &l.RemainingBalance); err != nil {
		return generic.Loan{}, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

// =============================================================================
// PARAMETERS
// =============================================================================

func (g *gateway) ListParameters(ctx context.Context) ([]generic.ParameterRow, error) {
	rows, err := g.q.QueryContext(ctx, `SELECT key, value, type, updated_at FROM parameters ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters: %w", err)
	}
	defer rows.Close()

	var out []generic.ParameterRow
	for rows.Next() {
		var (
			row     generic.ParameterRow
			updated string
		)
		if err := rows.Scan(&row.Key, &row.Value, &row.Type, &updated); err != nil {
			return nil, err
		}
		if row.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (g *gateway) SaveParameter(ctx context.Context, row generic.ParameterRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO parameters (key, value, type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, type = excluded.type, updated_at = excluded.updated_at`,
		row.Key, row.Value, row.Type, formatTime(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save parameter: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

// updateVersioned runs an UPDATE guarded by a version predicate. No
// affected row means the row moved on or never existed.
func (g *gateway) updateVersioned(ctx context.Context, query string, args ...any) error {
	res, err := g.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConflictingWrite
	}
	return nil
}

func mapWriteError(what string, err error) error {
	if errors.Is(err, generic.ErrConflictingWrite) || isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", generic.ErrConflictingWrite, what)
	}
	return fmt.Errorf("failed to save %s: %w", what, err)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*generic.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDecimals(values []string, targets ...*decimal.Decimal) error {
	for i, t := range targets {
		d, err := decimal.NewFromString(values[i])
		if err != nil {
			return err
		}
		*t = d
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
