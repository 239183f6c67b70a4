package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
)

// newTestStore connects to PAYROLL_TEST_DATABASE_URL and empties every table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PAYROLL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYROLL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url, PoolConfig{MaxConns: 2, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.pool.Exec(ctx, `TRUNCATE loan_payments, amortization_lines, loans, vacation_requests,
		bonus_records, payroll_records, adjustments, parameters, employees`)
	require.NoError(t, err)
	return s
}

func TestPostgresVersionedWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
		Code: "E001", Names: "Ana", HireDate: generic.MustParseDate("2023-01-16"),
		BaseSalary: generic.MustParseDecimal("1200.00"), Active: true,
	}))

	at := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	req := generic.VacationRequest{
		ID: "v1", EmployeeCode: "E001",
		StartDate: generic.MustParseDate("2024-07-01"), EndDate: generic.MustParseDate("2024-07-05"),
		DaysRequested: 5, Type: generic.VacationScheduled, Status: generic.VacationPending, CreatedAt: at,
	}

	// GIVEN: an inserted request
	require.NoError(t, s.SaveVacationRequest(ctx, &req))

	// WHEN: a second insert uses the same id
	dup := req
	dup.Version = 0

	// THEN: it conflicts
	assert.ErrorIs(t, s.SaveVacationRequest(ctx, &dup), generic.ErrConflictingWrite)

	req.Status = generic.VacationApproved
	req.DecidedBy = "boss"
	req.DecidedAt = &at
	require.NoError(t, s.SaveVacationRequest(ctx, &req))

	stale := req
	stale.Version = 1
	assert.ErrorIs(t, s.SaveVacationRequest(ctx, &stale), generic.ErrConflictingWrite)

	got, err := s.GetVacationRequest(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, generic.VacationApproved, got.Status)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(at))
}

func TestPostgresLoanDetail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := generic.MustParseDecimal

	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
		Code: "E001", Names: "Ana", HireDate: generic.MustParseDate("2023-01-16"),
		BaseSalary: d("1200.00"), Active: true,
	}))

	l := generic.Loan{
		ID: "L1", EmployeeCode: "E001", Kind: generic.LoanEmergency,
		Principal: d("1000.00"), TermMonths: 2, AnnualRate: d("0"), RateMode: generic.RateFixed,
		StartDate: generic.MustParseDate("2024-01-31"), MonthlyInstallment: d("500.00"),
		TotalToPay: d("1000.00"), TotalInterest: d("0"), RemainingBalance: d("1000.00"),
		Status: generic.LoanActive, CreatedAt: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		Lines: []generic.AmortizationLine{
			{Number: 1, DueDate: generic.MustParseDate("2024-02-29"), Principal: d("500.00"), Interest: d("0"), Installment: d("500.00"), Balance: d("500.00")},
			{Number: 2, DueDate: generic.MustParseDate("2024-03-31"), Principal: d("500.00"), Interest: d("0"), Installment: d("500.00"), Balance: d("0")},
		},
	}
	require.NoError(t, s.WithTx(ctx, func(g generic.Gateway) error {
		if err := g.SaveLoan(ctx, &l); err != nil {
			return err
		}
		return g.AppendLoanPayment(ctx, "L1", generic.LoanPayment{
			ID: "p1", Date: generic.MustParseDate("2024-02-29"), Amount: d("500.00"), Interest: d("0"),
			Principal: d("500.00"), Fees: d("0"), BalanceAfter: d("500.00"), CreatedAt: l.CreatedAt,
		})
	}))

	loans, err := s.ListLoans(ctx, generic.LoanFilter{EmployeeCode: "E001"})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Len(t, loans[0].Lines, 2)
	require.Len(t, loans[0].Payments, 1)
	assert.Equal(t, "2024-02-29", loans[0].Lines[0].DueDate.String())
	assert.True(t, loans[0].Payments[0].BalanceAfter.Equal(d("500")))
	assert.True(t, loans[0].Principal.Equal(d("1000")))
}

func TestSerializationFailureIsConflict(t *testing.T) {
	// GIVEN: errors carrying SQLSTATE 40001 from a write and from COMMIT
	serial := &pgconn.PgError{Code: "40001"}
	commit := fmt.Errorf("failed to commit transaction: %w", serial)

	// THEN: both are retryable conflicts, other codes pass through
	assert.ErrorIs(t, mapWriteError("payroll record", serial), generic.ErrConflictingWrite)
	assert.ErrorIs(t, serializationConflict(commit), generic.ErrConflictingWrite)
	assert.True(t, generic.IsRetryable(serializationConflict(commit)))

	other := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, mapWriteError("payroll record", other), generic.ErrConflictingWrite)
	assert.NotErrorIs(t, serializationConflict(other), generic.ErrConflictingWrite)

	plain := errors.New("boom")
	assert.Same(t, plain, serializationConflict(plain))
}

func TestWithTxReadsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := generic.MustParseDecimal

	require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
		Code: "E001", Names: "Ana", HireDate: generic.MustParseDate("2023-01-16"),
		BaseSalary: d("1200.00"), Active: true,
	}))

	// GIVEN: a transaction that has already listed the active employees
	// WHEN: another connection commits a new employee before the second list
	// THEN: the second list still sees the first snapshot
	err := s.WithTx(ctx, func(g generic.Gateway) error {
		first, err := g.ListEmployees(ctx, generic.EmployeeFilter{ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, first, 1)

		require.NoError(t, s.SaveEmployee(ctx, generic.Employee{
			Code: "E002", Names: "Luis", HireDate: generic.MustParseDate("2023-02-01"),
			BaseSalary: d("900.00"), Active: true,
		}))

		second, err := g.ListEmployees(ctx, generic.EmployeeFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, second, 1)
		return nil
	})
	require.NoError(t, err)

	all, err := s.ListEmployees(ctx, generic.EmployeeFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
