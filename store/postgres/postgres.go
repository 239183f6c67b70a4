/*
Package postgres provides a PostgreSQL-backed Persistence Gateway.

PURPOSE:
  Implements generic.TxGateway on PostgreSQL through jackc/pgx v5 and a
  pgxpool connection pool. Same tables and keys as store/sqlite, with
  native NUMERIC, DATE and TIMESTAMPTZ columns.

DECIMALS:
  Money and rates travel as decimal strings in both directions. Numeric
  and date columns are selected with a ::text cast and parsed with
  shopspring/decimal and generic.ParseDate, so no float ever touches an
  amount.

CONCURRENCY:
  WithTx runs at REPEATABLE READ so every read inside one calculation
  sees the same snapshot. Unique violations (SQLSTATE 23505),
  serialization failures (40001) and version-guarded updates that hit no
  row all surface as generic.ErrConflictingWrite.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
)

var txOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements generic.TxGateway on a pgx pool.
type Store struct {
	*gateway
	pool *pgxpool.Pool
}

type gateway struct {
	db dbtx
}

var _ generic.TxGateway = (*Store)(nil)

// PoolConfig tunes the connection pool. Zero values take the defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string, pc PoolConfig) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	s := &Store{gateway: &gateway{db: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	code TEXT PRIMARY KEY,
	names TEXT NOT NULL,
	surnames TEXT NOT NULL DEFAULT '',
	national_id TEXT NOT NULL DEFAULT '',
	hire_date DATE NOT NULL,
	termination_date DATE,
	base_salary NUMERIC(14,2) NOT NULL,
	department_code TEXT NOT NULL DEFAULT '',
	position_code TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS adjustments (
	id TEXT PRIMARY KEY,
	employee_code TEXT NOT NULL REFERENCES employees(code),
	kind TEXT NOT NULL,
	concept TEXT NOT NULL DEFAULT '',
	amount NUMERIC(14,2) NOT NULL,
	effective_date DATE NOT NULL,
	taxable BOOLEAN NOT NULL DEFAULT TRUE,
	processed_period TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_adjustments_employee_date ON adjustments(employee_code, effective_date);

CREATE TABLE IF NOT EXISTS payroll_records (
	employee_code TEXT NOT NULL REFERENCES employees(code),
	period TEXT NOT NULL,
	days_worked INTEGER NOT NULL,
	overtime_50_hours NUMERIC(10,2) NOT NULL,
	overtime_100_hours NUMERIC(10,2) NOT NULL,
	basic_salary NUMERIC(14,2) NOT NULL,
	overtime_pay NUMERIC(14,2) NOT NULL,
	additional_income NUMERIC(14,2) NOT NULL,
	non_taxable_income NUMERIC(14,2) NOT NULL,
	total_income NUMERIC(14,2) NOT NULL,
	iess_personal NUMERIC(14,2) NOT NULL,
	income_tax_monthly NUMERIC(14,2) NOT NULL,
	additional_deductions NUMERIC(14,2) NOT NULL,
	total_deductions NUMERIC(14,2) NOT NULL,
	net_pay NUMERIC(14,2) NOT NULL,
	thirteenth_accrual NUMERIC(14,2) NOT NULL,
	fourteenth_accrual NUMERIC(14,2) NOT NULL,
	vacation_accrual NUMERIC(14,2) NOT NULL,
	reserve_fund_accrual NUMERIC(14,2) NOT NULL,
	iess_employer NUMERIC(14,2) NOT NULL,
	status TEXT NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL,
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ,
	adjustment_ids TEXT[] NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL,
	PRIMARY KEY (employee_code, period)
);

CREATE TABLE IF NOT EXISTS bonus_records (
	kind TEXT NOT NULL,
	employee_code TEXT NOT NULL REFERENCES employees(code),
	year INTEGER NOT NULL,
	window_start DATE NOT NULL,
	window_end DATE NOT NULL,
	window_days INTEGER NOT NULL,
	effective_start DATE,
	effective_end DATE,
	days_worked INTEGER NOT NULL,
	full_coverage BOOLEAN NOT NULL,
	base NUMERIC(14,2) NOT NULL,
	amount NUMERIC(14,2) NOT NULL,
	status TEXT NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL,
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ,
	version INTEGER NOT NULL,
	PRIMARY KEY (kind, employee_code, year)
);

CREATE TABLE IF NOT EXISTS vacation_requests (
	id TEXT PRIMARY KEY,
	employee_code TEXT NOT NULL REFERENCES employees(code),
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	days_requested INTEGER NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	decided_by TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	version INTEGER NOT NULL,
	UNIQUE (employee_code, id)
);

CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	employee_code TEXT NOT NULL REFERENCES employees(code),
	kind TEXT NOT NULL,
	principal NUMERIC(14,2) NOT NULL,
	term_months INTEGER NOT NULL,
	annual_rate NUMERIC(8,4) NOT NULL,
	rate_mode TEXT NOT NULL,
	start_date DATE NOT NULL,
	monthly_installment NUMERIC(14,2) NOT NULL,
	total_to_pay NUMERIC(14,2) NOT NULL,
	total_interest NUMERIC(14,2) NOT NULL,
	remaining_balance NUMERIC(14,2) NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS amortization_lines (
	loan_id TEXT NOT NULL REFERENCES loans(id),
	number INTEGER NOT NULL,
	due_date DATE NOT NULL,
	principal NUMERIC(14,2) NOT NULL,
	interest NUMERIC(14,2) NOT NULL,
	installment NUMERIC(14,2) NOT NULL,
	balance NUMERIC(14,2) NOT NULL,
	PRIMARY KEY (loan_id, number)
);

CREATE TABLE IF NOT EXISTS loan_payments (
	loan_id TEXT NOT NULL REFERENCES loans(id),
	id TEXT NOT NULL,
	date DATE NOT NULL,
	amount NUMERIC(14,2) NOT NULL,
	interest NUMERIC(14,2) NOT NULL,
	principal NUMERIC(14,2) NOT NULL,
	fees NUMERIC(14,2) NOT NULL,
	balance_after NUMERIC(14,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (loan_id, id)
);

CREATE TABLE IF NOT EXISTS parameters (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	type TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Gateway) error) error {
	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&gateway{db: tx}); err != nil {
		return serializationConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return serializationConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// EMPLOYEES AND ADJUSTMENTS
// =============================================================================

const employeeSelect = `SELECT code, names, surnames, national_id, hire_date::text, termination_date::text,
	base_salary::text, department_code, position_code, active FROM employees`

func (g *gateway) GetEmployee(ctx context.Context, code generic.EmployeeCode) (generic.Employee, error) {
	e, err := scanEmployee(g.db.QueryRow(ctx, employeeSelect+` WHERE code = $1`, string(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Employee{}, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, code)
	}
	return e, err
}

func (g *gateway) ListEmployees(ctx context.Context, f generic.EmployeeFilter) ([]generic.Employee, error) {
	rows, err := g.db.Query(ctx, employeeSelect+` WHERE ($1 = FALSE OR active) ORDER BY code`, f.ActiveOnly)
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

func (g *gateway) SaveEmployee(ctx context.Context, e generic.Employee) error {
	_, err := g.db.Exec(ctx, `
		INSERT INTO employees (code, names, surnames, national_id, hire_date, termination_date,
			base_salary, department_code, position_code, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO UPDATE SET
			names = EXCLUDED.names, surnames = EXCLUDED.surnames, national_id = EXCLUDED.national_id,
			hire_date = EXCLUDED.hire_date, termination_date = EXCLUDED.termination_date,
			base_salary = EXCLUDED.base_salary, department_code = EXCLUDED.department_code,
			position_code = EXCLUDED.position_code, active = EXCLUDED.active`,
		string(e.Code), e.Names, e.Surnames, e.NationalID, e.HireDate.String(), datePtr(e.TerminationDate),
		e.BaseSalary.String(), e.DepartmentCode, e.PositionCode, e.Active)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func scanEmployee(row pgx.Row) (generic.Employee, error) {
	var (
		e                  generic.Employee
		code, hire, salary string
		termination        *string
	)
	if err := row.Scan(&code, &e.Names, &e.Surnames, &e.NationalID, &hire, &termination,
		&salary, &e.DepartmentCode, &e.PositionCode, &e.Active); err != nil {
		return generic.Employee{}, err
	}
	e.Code = generic.EmployeeCode(code)
	var err error
	if e.HireDate, err = generic.ParseDate(hire); err != nil {
		return generic.Employee{}, err
	}
	if e.TerminationDate, err = parseDatePtr(termination); err != nil {
		return generic.Employee{}, err
	}
	if e.BaseSalary, err = decimal.NewFromString(salary); err != nil {
		return generic.Employee{}, err
	}
	return e, nil
}

func (g *gateway) ListAdjustments(ctx context.Context, code generic.EmployeeCode, r generic.DateRange) ([]generic.Adjustment, error) {
	rows, err := g.db.Query(ctx, `
		SELECT id, kind, concept, amount::text, effective_date::text, taxable, processed_period
		FROM adjustments
		WHERE employee_code = $1 AND effective_date BETWEEN $2 AND $3
		ORDER BY effective_date, id`,
		string(code), r.Start.String(), r.End.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []generic.Adjustment
	for rows.Next() {
		var (
			a                 generic.Adjustment
			kind, amount, eff string
		)
		if err := rows.Scan(&a.ID, &kind, &a.Concept, &amount, &eff, &a.Taxable, &a.ProcessedPeriod); err != nil {
			return nil, err
		}
		a.EmployeeCode = code
		a.Kind = generic.AdjustmentKind(kind)
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if a.EffectiveDate, err = generic.ParseDate(eff); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (g *gateway) SaveAdjustment(ctx context.Context, a generic.Adjustment) error {
	_, err := g.db.Exec(ctx, `
		INSERT INTO adjustments (id, employee_code, kind, concept, amount, effective_date, taxable, processed_period)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, concept = EXCLUDED.concept, amount = EXCLUDED.amount,
			effective_date = EXCLUDED.effective_date, taxable = EXCLUDED.taxable,
			processed_period = EXCLUDED.processed_period`,
		a.ID, string(a.EmployeeCode), string(a.Kind), a.Concept, a.Amount.String(), a.EffectiveDate.String(),
		a.Taxable, a.ProcessedPeriod)
	if err != nil {
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

func (g *gateway) MarkAdjustmentsProcessed(ctx context.Context, ids []string, p generic.PayPeriod) error {
	for _, id := range ids {
		tag, err := g.db.Exec(ctx, `UPDATE adjustments SET processed_period = $1 WHERE id = $2`, p.String(), id)
		if err != nil {
			return fmt.Errorf("failed to mark adjustment %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: adjustment %s", generic.ErrRecordNotFound, id)
		}
	}
	return nil
}

// =============================================================================
// PAYROLL RECORDS
// =============================================================================

const payrollSelect = `SELECT employee_code, period, days_worked,
	overtime_50_hours::text, overtime_100_hours::text,
	basic_salary::text, overtime_pay::text, additional_income::text, non_taxable_income::text, total_income::text,
	iess_personal::text, income_tax_monthly::text, additional_deductions::text, total_deductions::text, net_pay::text,
	thirteenth_accrual::text, fourteenth_accrual::text, vacation_accrual::text, reserve_fund_accrual::text,
	iess_employer::text, status, calculated_at, approved_by, approved_at, adjustment_ids, version
	FROM payroll_records`

func (g *gateway) GetPayroll(ctx context.Context, code generic.EmployeeCode, p generic.PayPeriod) (generic.PayrollRecord, error) {
	r, err := scanPayroll(g.db.QueryRow(ctx, payrollSelect+` WHERE employee_code = $1 AND period = $2`,
		string(code), p.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.PayrollRecord{}, fmt.Errorf("%w: payroll %s %s", generic.ErrRecordNotFound, code, p)
	}
	return r, err
}

func (g *gateway) ListPayroll(ctx context.Context, p generic.PayPeriod) ([]generic.PayrollRecord, error) {
	return g.queryPayroll(ctx, payrollSelect+` WHERE period = $1 ORDER BY employee_code`, p.String())
}

func (g *gateway) ListPayrollRange(ctx context.Context, code generic.EmployeeCode, from, to generic.PayPeriod) ([]generic.PayrollRecord, error) {
	return g.queryPayroll(ctx, payrollSelect+` WHERE employee_code = $1 AND period BETWEEN $2 AND $3 ORDER BY period`,
		string(code), from.String(), to.String())
}

func (g *gateway) queryPayroll(ctx context.Context, query string, args ...any) ([]generic.PayrollRecord, error) {
	rows, err := g.db.Query(ctx, query, args...)
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
	ids := r.AdjustmentIDs
	if ids == nil {
		ids = []string{}
	}
	args := []any{
		string(r.EmployeeCode), r.Period.String(), r.DaysWorked,
		r.Overtime50Hours.String(), r.Overtime100Hours.String(),
		r.BasicSalary.String(), r.OvertimePay.String(), r.AdditionalIncome.String(),
		r.NonTaxableIncome.String(), r.TotalIncome.String(),
		r.IESSPersonal.String(), r.IncomeTaxMonthly.String(), r.AdditionalDeductions.String(),
		r.TotalDeductions.String(), r.NetPay.String(),
		r.ThirteenthAccrual.String(), r.FourteenthAccrual.String(), r.VacationAccrual.String(),
		r.ReserveFundAccrual.String(), r.IESSEmployer.String(),
		string(r.Status), r.CalculatedAt, r.ApprovedBy, r.ApprovedAt, ids,
	}

	var err error
	if r.Version == 0 {
		_, err = g.db.Exec(ctx, `
			INSERT INTO payroll_records (employee_code, period, days_worked,
				overtime_50_hours, overtime_100_hours,
				basic_salary, overtime_pay, additional_income, non_taxable_income, total_income,
				iess_personal, income_tax_monthly, additional_deductions, total_deductions, net_pay,
				thirteenth_accrual, fourteenth_accrual, vacation_accrual, reserve_fund_accrual,
				iess_employer, status, calculated_at, approved_by, approved_at, adjustment_ids, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24, $25, 1)`, args...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE payroll_records SET
				days_worked = $3, overtime_50_hours = $4, overtime_100_hours = $5,
				basic_salary = $6, overtime_pay = $7, additional_income = $8,
				non_taxable_income = $9, total_income = $10,
				iess_personal = $11, income_tax_monthly = $12, additional_deductions = $13,
				total_deductions = $14, net_pay = $15,
				thirteenth_accrual = $16, fourteenth_accrual = $17, vacation_accrual = $18,
				reserve_fund_accrual = $19, iess_employer = $20,
				status = $21, calculated_at = $22, approved_by = $23, approved_at = $24, adjustment_ids = $25,
				version = version + 1
			WHERE employee_code = $1 AND period = $2 AND version = $26`,
			append(args, r.Version)...)
	}
	if err != nil {
		return mapWriteError("payroll record", err)
	}
	r.Version++
	return nil
}

func scanPayroll(row pgx.Row) (generic.PayrollRecord, error) {
	var (
		r                    generic.PayrollRecord
		code, period, status string
		dec                  [17]string
	)
	if err := row.Scan(&code, &period, &r.DaysWorked,
		&dec[0], &dec[1], &dec[2], &dec[3], &dec[4], &dec[5], &dec[6],
		&dec[7], &dec[8], &dec[9], &dec[10], &dec[11],
		&dec[12], &dec[13], &dec[14], &dec[15], &dec[16],
		&status, &r.CalculatedAt, &r.ApprovedBy, &r.ApprovedAt, &r.AdjustmentIDs, &r.Version); err != nil {
		return generic.PayrollRecord{}, err
	}
	r.EmployeeCode = generic.EmployeeCode(code)
	r.Status = generic.PayrollStatus(status)
	var err error
	if r.Period, err = generic.ParsePayPeriod(period); err != nil {
		return generic.PayrollRecord{}, err
	}
	if err := parseDecimals(dec[:],
		&r.Overtime50Hours, &r.Overtime100Hours,
		&r.BasicSalary, &r.OvertimePay, &r.AdditionalIncome, &r.NonTaxableIncome, &r.TotalIncome,
		&r.IESSPersonal, &r.IncomeTaxMonthly, &r.AdditionalDeductions, &r.TotalDeductions, &r.NetPay,
		&r.ThirteenthAccrual, &r.FourteenthAccrual, &r.VacationAccrual, &r.ReserveFundAccrual,
		&r.IESSEmployer); err != nil {
		return generic.PayrollRecord{}, err
	}
	r.CalculatedAt = r.CalculatedAt.UTC()
	r.ApprovedAt = utcPtr(r.ApprovedAt)
	if len(r.AdjustmentIDs) == 0 {
		r.AdjustmentIDs = nil
	}
	return r, nil
}

// =============================================================================
// BONUS RECORDS
// =============================================================================

const bonusSelect = `SELECT kind, employee_code, year, window_start::text, window_end::text, window_days,
	effective_start::text, effective_end::text, days_worked, full_coverage, base::text, amount::text,
	status, calculated_at, approved_by, approved_at, version FROM bonus_records`

func (g *gateway) GetBonus(ctx context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	r, err := scanBonus(g.db.QueryRow(ctx, bonusSelect+` WHERE kind = $1 AND employee_code = $2 AND year = $3`,
		string(kind), string(code), year))
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.BonusRecord{}, fmt.Errorf("%w: %s %s/%d", generic.ErrRecordNotFound, code, kind, year)
	}
	return r, err
}

func (g *gateway) ListBonuses(ctx context.Context, kind generic.BonusKind, year int) ([]generic.BonusRecord, error) {
	rows, err := g.db.Query(ctx, bonusSelect+` WHERE kind = $1 AND year = $2 ORDER BY employee_code`, string(kind), year)
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
		string(r.Kind), string(r.EmployeeCode), r.Year,
		r.Window.Start.String(), r.Window.End.String(), r.WindowDays,
		datePtr(r.EffectiveStart), datePtr(r.EffectiveEnd), r.DaysWorked, r.FullCoverage,
		r.Base.String(), r.Amount.String(), string(r.Status), r.CalculatedAt, r.ApprovedBy, r.ApprovedAt,
	}

	var err error
	if r.Version == 0 {
		_, err = g.db.Exec(ctx, `
			INSERT INTO bonus_records (kind, employee_code, year, window_start, window_end, window_days,
				effective_start, effective_end, days_worked, full_coverage, base, amount,
				status, calculated_at, approved_by, approved_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`, args...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE bonus_records SET
				window_start = $4, window_end = $5, window_days = $6,
				effective_start = $7, effective_end = $8, days_worked = $9, full_coverage = $10,
				base = $11, amount = $12, status = $13, calculated_at = $14,
				approved_by = $15, approved_at = $16,
				version = version + 1
			WHERE kind = $1 AND employee_code = $2 AND year = $3 AND version = $17`,
			append(args, r.Version)...)
	}
	if err != nil {
		return mapWriteError("bonus record", err)
	}
	r.Version++
	return nil
}

func scanBonus(row pgx.Row) (generic.BonusRecord, error) {
	var (
		r                              generic.BonusRecord
		kind, code, status             string
		winStart, winEnd, base, amount string
		effStart, effEnd               *string
	)
	if err := row.Scan(&kind, &code, &r.Year, &winStart, &winEnd, &r.WindowDays,
		&effStart, &effEnd, &r.DaysWorked, &r.FullCoverage, &base, &amount,
		&status, &r.CalculatedAt, &r.ApprovedBy, &r.ApprovedAt, &r.Version); err != nil {
		return generic.BonusRecord{}, err
	}
	r.Kind = generic.BonusKind(kind)
	r.EmployeeCode = generic.EmployeeCode(code)
	r.Status = generic.BonusStatus(status)
	var err error
	if r.Window.Start, err = generic.ParseDate(winStart); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.Window.End, err = generic.ParseDate(winEnd); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.EffectiveStart, err = parseDatePtr(effStart); err != nil {
		return generic.BonusRecord{}, err
	}
	if r.EffectiveEnd, err = parseDatePtr(effEnd); err != nil {
		return generic.BonusRecord{}, err
	}
	if err := parseDecimals([]string{base, amount}, &r.Base, &r.Amount); err != nil {
		return generic.BonusRecord{}, err
	}
	r.CalculatedAt = r.CalculatedAt.UTC()
	r.ApprovedAt = utcPtr(r.ApprovedAt)
	return r, nil
}

// =============================================================================
// VACATION REQUESTS
// =============================================================================

const vacationSelect = `SELECT id, employee_code, start_date::text, end_date::text, days_requested, type, status,
	reason, decided_by, decided_at, created_at, version FROM vacation_requests`

func (g *gateway) GetVacationRequest(ctx context.Context, id string) (generic.VacationRequest, error) {
	r, err := scanVacation(g.db.QueryRow(ctx, vacationSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.VacationRequest{}, fmt.Errorf("%w: vacation request %s", generic.ErrRecordNotFound, id)
	}
	return r, err
}

func (g *gateway) ListVacationRequests(ctx context.Context, code generic.EmployeeCode) ([]generic.VacationRequest, error) {
	rows, err := g.db.Query(ctx, vacationSelect+` WHERE employee_code = $1 ORDER BY start_date, id`, string(code))
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
		r.ID, string(r.EmployeeCode), r.StartDate.String(), r.EndDate.String(), r.DaysRequested,
		string(r.Type), string(r.Status), r.Reason, r.DecidedBy, r.DecidedAt, r.CreatedAt,
	}

	var err error
	if r.Version == 0 {
		_, err = g.db.Exec(ctx, `
			INSERT INTO vacation_requests (id, employee_code, start_date, end_date, days_requested, type, status,
				reason, decided_by, decided_at, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`, args...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE vacation_requests SET
				start_date = $3, end_date = $4, days_requested = $5, type = $6, status = $7,
				reason = $8, decided_by = $9, decided_at = $10, created_at = $11,
				version = version + 1
			WHERE id = $1 AND employee_code = $2 AND version = $12`,
			append(args, r.Version)...)
	}
	if err != nil {
		return mapWriteError("vacation request", err)
	}
	r.Version++
	return nil
}

func scanVacation(row pgx.Row) (generic.VacationRequest, error) {
	var (
		r                             generic.VacationRequest
		code, start, end, typ, status string
	)
	if err := row.Scan(&r.ID, &code, &start, &end, &r.DaysRequested, &typ, &status,
		&r.Reason, &r.DecidedBy, &r.DecidedAt, &r.CreatedAt, &r.Version); err != nil {
		return generic.VacationRequest{}, err
	}
	r.EmployeeCode = generic.EmployeeCode(code)
	r.Type = generic.VacationType(typ)
	r.Status = generic.VacationStatus(status)
	var err error
	if r.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.VacationRequest{}, err
	}
	if r.EndDate, err = generic.ParseDate(end); err != nil {
		return generic.VacationRequest{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.DecidedAt = utcPtr(r.DecidedAt)
	return r, nil
}

// =============================================================================
// LOANS
// =============================================================================

const loanSelect = `SELECT id, employee_code, kind, principal::text, term_months, annual_rate::text, rate_mode,
	start_date::text, monthly_installment::text, total_to_pay::text, total_interest::text,
	remaining_balance::text, status, created_at, version FROM loans`

func (g *gateway) GetLoan(ctx context.Context, id string) (generic.Loan, error) {
	l, err := scanLoan(g.db.QueryRow(ctx, loanSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := g.db.Query(ctx, loanSelect+`
		WHERE ($1 = '' OR employee_code = $1) AND ($2 = '' OR rate_mode = $2)
		ORDER BY created_at, id`, string(f.EmployeeCode), string(f.RateMode))
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
	// A transaction holds one connection; the cursor must close first.
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

func (g *gateway) SaveLoan(ctx context.Context, l *generic.Loan) error {
	args := []any{
		l.ID, string(l.EmployeeCode), string(l.Kind), l.Principal.String(), l.TermMonths,
		l.AnnualRate.String(), string(l.RateMode), l.StartDate.String(), l.MonthlyInstallment.String(),
		l.TotalToPay.String(), l.TotalInterest.String(), l.RemainingBalance.String(),
		string(l.Status), l.CreatedAt,
	}

	var err error
	if l.Version == 0 {
		_, err = g.db.Exec(ctx, `
			INSERT INTO loans (id, employee_code, kind, principal, term_months, annual_rate, rate_mode,
				start_date, monthly_installment, total_to_pay, total_interest, remaining_balance,
				status, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`, args...)
	} else {
		err = g.updateVersioned(ctx, `
			UPDATE loans SET
				employee_code = $2, kind = $3, principal = $4, term_months = $5, annual_rate = $6,
				rate_mode = $7, start_date = $8, monthly_installment = $9, total_to_pay = $10,
				total_interest = $11, remaining_balance = $12, status = $13, created_at = $14,
				version = version + 1
			WHERE id = $1 AND version = $15`,
			append(args, l.Version)...)
	}
	if err != nil {
		return mapWriteError("loan", err)
	}

	if _, err := g.db.Exec(ctx, `DELETE FROM amortization_lines WHERE loan_id = $1`, l.ID); err != nil {
		return fmt.Errorf("failed to clear amortization lines: %w", err)
	}
	for _, line := range l.Lines {
		_, err := g.db.Exec(ctx, `
			INSERT INTO amortization_lines (loan_id, number, due_date, principal, interest, installment, balance)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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
	var exists bool
	if err := g.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, loanID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check loan: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: loan %s", generic.ErrRecordNotFound, loanID)
	}

	_, err := g.db.Exec(ctx, `
		INSERT INTO loan_payments (loan_id, id, date, amount, interest, principal, fees, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		loanID, p.ID, p.Date.String(), p.Amount.String(), p.Interest.String(), p.Principal.String(),
		p.Fees.String(), p.BalanceAfter.String(), p.CreatedAt)
	if err != nil {
		return mapWriteError("loan payment", err)
	}
	return nil
}

func (g *gateway) loadLoanDetail(ctx context.Context, l *generic.Loan) error {
	rows, err := g.db.Query(ctx, `
		SELECT number, due_date::text, principal::text, interest::text, installment::text, balance::text
		FROM amortization_lines WHERE loan_id = $1 ORDER BY number`, l.ID)
	if err != nil {
		return fmt.Errorf("failed to load amortization lines: %w", err)
	}
	l.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (generic.AmortizationLine, error) {
		var (
			line generic.AmortizationLine
			due  string
			dec  [4]string
		)
		if err := row.Scan(&line.Number, &due, &dec[0], &dec[1], &dec[2], &dec[3]); err != nil {
			return line, err
		}
		var err error
		if line.DueDate, err = generic.ParseDate(due); err != nil {
			return line, err
		}
		return line, parseDecimals(dec[:], &line.Principal, &line.Interest, &line.Installment, &line.Balance)
	})
	if err != nil {
		return err
	}

	rows, err = g.db.Query(ctx, `
		SELECT id, date::text, amount::text, interest::text, principal::text, fees::text, balance_after::text, created_at
		FROM loan_payments WHERE loan_id = $1 ORDER BY date, created_at, id`, l.ID)
	if err != nil {
		return fmt.Errorf("failed to load loan payments: %w", err)
	}
	l.Payments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (generic.LoanPayment, error) {
		var (
			p   generic.LoanPayment
			day string
			dec [5]string
		)
		if err := row.Scan(&p.ID, &day, &dec[0], &dec[1], &dec[2], &dec[3], &dec[4], &p.CreatedAt); err != nil {
			return p, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		var err error
		if p.Date, err = generic.ParseDate(day); err != nil {
			return p, err
		}
		return p, parseDecimals(dec[:], &p.Amount, &p.Interest, &p.Principal, &p.Fees, &p.BalanceAfter)
	})
	if err != nil {
		return err
	}
	if len(l.Lines) == 0 {
		l.Lines = nil
	}
	if len(l.Payments) == 0 {
		l.Payments = nil
	}
	return nil
}

func scanLoan(row pgx.Row) (generic.Loan, error) {
	var (
		l                               generic.Loan
		code, kind, mode, status, start string
		dec                             [6]string
	)
	if err := row.Scan(&l.ID, &code, &kind, &dec[0], &l.TermMonths, &dec[1], &mode,
		&start, &dec[2], &dec[3], &dec[4], &dec[5], &status, &l.CreatedAt, &l.Version); err != nil {
		return generic.Loan{}, err
	}
	l.EmployeeCode = generic.EmployeeCode(code)
	l.Kind = generic.LoanKind(kind)
	l.RateMode = generic.RateMode(mode)
	l.Status = generic.LoanStatus(status)
	l.CreatedAt = l.CreatedAt.UTC()
	var err error
	if l.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.Loan{}, err
	}
	if err := parseDecimals(dec[:], &l.Principal, &l.AnnualRate, &l.MonthlyInstallment,
		&l.TotalToPay, &l.TotalInterest, &l.RemainingBalance); err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

// =============================================================================
// PARAMETERS
// =============================================================================

func (g *gateway) ListParameters(ctx context.Context) ([]generic.ParameterRow, error) {
	rows, err := g.db.Query(ctx, `SELECT key, value, type, updated_at FROM parameters ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (generic.ParameterRow, error) {
		var (
			p   generic.ParameterRow
			typ string
		)
		err := row.Scan(&p.Key, &p.Value, &typ, &p.UpdatedAt)
		p.Type = generic.ParameterType(typ)
		p.UpdatedAt = p.UpdatedAt.UTC()
		return p, err
	})
}

func (g *gateway) SaveParameter(ctx context.Context, row generic.ParameterRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	_, err := g.db.Exec(ctx, `
		INSERT INTO parameters (key, value, type, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, updated_at = EXCLUDED.updated_at`,
		row.Key, row.Value, string(row.Type), row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save parameter: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (g *gateway) updateVersioned(ctx context.Context, query string, args ...any) error {
	tag, err := g.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrConflictingWrite
	}
	return nil
}

func mapWriteError(what string, err error) error {
	if errors.Is(err, generic.ErrConflictingWrite) || hasCode(err, uniqueViolation, serializationFailure) {
		return fmt.Errorf("%w: %s", generic.ErrConflictingWrite, what)
	}
	return fmt.Errorf("failed to save %s: %w", what, err)
}

// serializationConflict turns a 40001 raised by a read or by COMMIT into
// ErrConflictingWrite so callers retry the whole unit.
func serializationConflict(err error) error {
	if !errors.Is(err, generic.ErrConflictingWrite) && hasCode(err, serializationFailure) {
		return fmt.Errorf("%w: %v", generic.ErrConflictingWrite, err)
	}
	return err
}

func hasCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}

func datePtr(d *generic.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDatePtr(s *string) (*generic.Date, error) {
	if s == nil {
		return nil, nil
	}
	d, err := generic.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
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
