package vacation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/params"
	"github.com/warp/payroll-engine/vacation"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(s string) generic.Date { return generic.MustParseDate(s) }

func employee(code generic.EmployeeCode, hire, salary string) generic.Employee {
	return generic.Employee{
		Code: code, Names: "Ana", Surnames: "Paredes",
		HireDate: date(hire), BaseSalary: generic.MustParseDecimal(salary), Active: true,
	}
}

func request(id string, status generic.VacationStatus, start, end string, days int) generic.VacationRequest {
	return generic.VacationRequest{
		ID: id, EmployeeCode: "E001", StartDate: date(start), EndDate: date(end),
		DaysRequested: days, Type: generic.VacationScheduled, Status: status,
	}
}

// newTestService runs with today = 2024-06-03 and one employee hired
// 2023-01-16 earning 1200.00.
func newTestService(t *testing.T) (*vacation.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveEmployee(context.Background(), employee("E001", "2023-01-16", "1200.00")))
	clock := generic.FixedClock{At: time.Date(2024, time.June, 3, 9, 0, 0, 0, time.UTC)}
	return vacation.NewService(mem, params.Static{Set: params.Default()}, clock, nil), mem
}

// =============================================================================
// BALANCE
// =============================================================================

func TestComputeBalance_Accrual(t *testing.T) {
	// GIVEN: Hired 2020-03-01, 15 days per year
	// WHEN: Computing the balance on 2024-06-15
	// THEN: 4 complete years (60) + floor(106 / 365 * 15) = 4

	b := vacation.ComputeBalance(employee("E001", "2020-03-01", "900"), nil, date("2024-06-15"), 15)

	assert.Equal(t, "4.2902", b.YearsWorked.String())
	assert.Equal(t, 4, b.CompleteYears)
	assert.Equal(t, 60, b.FromCompleteYears)
	assert.Equal(t, 4, b.ThisYear)
	assert.Equal(t, 64, b.Accrued)
	assert.Equal(t, 64, b.Available)
	assert.Equal(t, "2024-03-01", b.LastAnniversary.String())
	assert.Equal(t, "2025-03-01", b.NextAccrualDate.String())
}

func TestComputeBalance_AnniversaryBoundary(t *testing.T) {
	emp := employee("E001", "2020-03-01", "900")

	before := vacation.ComputeBalance(emp, nil, date("2024-02-29"), 15)
	assert.Equal(t, 3, before.CompleteYears)
	assert.Equal(t, 15, before.ThisYear, "366-day year: the day before the anniversary holds a full year")
	assert.Equal(t, 60, before.Accrued)

	on := vacation.ComputeBalance(emp, nil, date("2024-03-01"), 15)
	assert.Equal(t, 4, on.CompleteYears)
	assert.Equal(t, 0, on.ThisYear)
	assert.Equal(t, 60, on.Accrued)
}

func TestComputeBalance_FirstAnniversaryAfterCommonYear(t *testing.T) {
	// GIVEN: Hired 2021-01-01, so 2021 has 365 days
	// WHEN: Computing the balance on the first anniversary
	// THEN: One complete year counts although 365/365.25 reports 0.9993 years

	emp := employee("E001", "2021-01-01", "900")

	on := vacation.ComputeBalance(emp, nil, date("2022-01-01"), 15)
	assert.Equal(t, "0.9993", on.YearsWorked.String())
	assert.Equal(t, 1, on.CompleteYears)
	assert.Equal(t, 15, on.FromCompleteYears)
	assert.Equal(t, 0, on.ThisYear)
	assert.Equal(t, 15, on.Accrued)

	eve := vacation.ComputeBalance(emp, nil, date("2021-12-31"), 15)
	assert.Equal(t, 0, eve.CompleteYears)
	assert.Equal(t, 14, eve.ThisYear, "floor(364 / 365 * 15)")
	assert.Equal(t, 14, eve.Accrued)
}

func TestComputeBalance_BeforeHire(t *testing.T) {
	emp := employee("E001", "2020-03-01", "900")
	b := vacation.ComputeBalance(emp, nil, date("2020-01-01"), 15)

	assert.Equal(t, 0, b.Accrued)
	assert.True(t, b.YearsWorked.IsZero())
	assert.Equal(t, "2021-03-01", b.NextAccrualDate.String())
}

func TestComputeBalance_UsedAndPending(t *testing.T) {
	emp := employee("E001", "2020-03-01", "900")
	requests := []generic.VacationRequest{
		request("r1", generic.VacationApproved, "2024-04-08", "2024-04-12", 5),
		request("r2", generic.VacationTaken, "2023-08-01", "2023-08-03", 3),
		request("r3", generic.VacationRejected, "2024-05-06", "2024-05-17", 10),
		request("r4", generic.VacationPending, "2024-07-01", "2024-07-04", 4),
		request("r5", generic.VacationApproved, "2024-08-05", "2024-08-06", 2),
		request("r6", generic.VacationLiquidated, "2022-12-01", "2022-12-01", 1),
	}

	b := vacation.ComputeBalance(emp, requests, date("2024-06-15"), 15)

	assert.Equal(t, 9, b.Used)
	assert.Equal(t, 6, b.Pending)
	assert.Equal(t, 64-9-6, b.Available)
}

func TestComputeBalance_Conservation(t *testing.T) {
	// GIVEN: A mix of requests in every status
	// WHEN: Walking day by day across three years
	// THEN: available = accrued - used - pending, and accrual never drops

	emp := employee("E001", "2021-02-28", "900")
	requests := []generic.VacationRequest{
		request("a", generic.VacationApproved, "2022-04-04", "2022-04-08", 5),
		request("b", generic.VacationTaken, "2022-12-19", "2022-12-30", 10),
		request("c", generic.VacationPending, "2023-07-03", "2023-07-07", 5),
		request("d", generic.VacationRejected, "2023-02-01", "2023-02-03", 3),
		request("e", generic.VacationLiquidated, "2023-11-01", "2023-11-01", 2),
	}

	prevAccrued := -1
	for d := date("2021-01-01"); d.Before(date("2024-03-31")); d = d.AddDays(1) {
		b := vacation.ComputeBalance(emp, requests, d, 15)
		require.Equal(t, b.Accrued-b.Used-b.Pending, b.Available, "at %s", d)
		require.Equal(t, b.FromCompleteYears+b.ThisYear, b.Accrued, "at %s", d)
		require.GreaterOrEqual(t, b.Accrued, prevAccrued, "accrual dropped at %s", d)
		prevAccrued = b.Accrued
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name         string
		start, end   string
		days         int
		valid        bool
		errors       int
		warnings     int
		businessDays int
	}{
		{"two working weeks", "2024-07-01", "2024-07-12", 10, true, 0, 0, 10},
		{"insufficient balance", "2024-07-01", "2024-08-02", 25, false, 1, 0, 25},
		{"start after end", "2024-07-12", "2024-07-01", 5, false, 1, 1, 0},
		{"zero days", "2024-07-01", "2024-07-01", 0, false, 1, 0, 1},
		{"far ahead", "2024-09-02", "2024-09-06", 5, true, 0, 1, 5},
		{"day count mismatch", "2024-07-01", "2024-07-05", 9, true, 0, 1, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := svc.Validate(ctx, "E001", date(tc.start), date(tc.end), tc.days)
			require.NoError(t, err)
			assert.Equal(t, tc.valid, v.Valid)
			assert.Len(t, v.Errors, tc.errors, "errors: %v", v.Errors)
			assert.Len(t, v.Warnings, tc.warnings, "warnings: %v", v.Warnings)
			assert.Equal(t, tc.businessDays, v.BusinessDays)
		})
	}
}

func TestValidate_BalanceAtStartDate(t *testing.T) {
	svc, _ := newTestService(t)

	v, err := svc.Validate(context.Background(), "E001", date("2024-07-01"), date("2024-07-12"), 10)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", v.Balance.AsOf.String())
	assert.Equal(t, 21, v.Balance.Available)
}

func TestValidate_Overlap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-07-01"), EndDate: date("2024-07-12"), DaysRequested: 10,
	})
	require.NoError(t, err)

	v, err := svc.Validate(ctx, "E001", date("2024-07-10"), date("2024-07-19"), 8)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "overlaps PENDING")
	assert.Empty(t, v.Warnings)
}

func TestValidate_UnknownEmployee(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Validate(context.Background(), "E404", date("2024-07-01"), date("2024-07-12"), 10)
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestLifecycle_SubmitApproveTake(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	req, v, err := svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-07-01"), EndDate: date("2024-07-12"), DaysRequested: 10,
	})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, generic.VacationPending, req.Status)
	assert.Equal(t, generic.VacationScheduled, req.Type)
	assert.Equal(t, 1, req.Version)

	approved, err := svc.Approve(ctx, req.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, generic.VacationApproved, approved.Status)
	assert.Equal(t, "manager", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)

	// Overlapping submissions are refused with the structured error
	_, _, err = svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-07-08"), EndDate: date("2024-07-09"), DaysRequested: 2,
	})
	var invalid *generic.InvalidRequestError
	require.True(t, errors.As(err, &invalid))
	assert.ErrorIs(t, err, generic.ErrInvalidVacationRequest)
	assert.NotEmpty(t, invalid.Problems)

	taken, err := svc.MarkTaken(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.VacationTaken, taken.Status)

	_, err = svc.Reject(ctx, req.ID, "manager")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	stored, err := mem.ListVacationRequests(ctx, "E001")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, generic.VacationTaken, stored[0].Status)

	asOf := date("2024-07-15")
	b, err := svc.Balance(ctx, "E001", &asOf)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Used)
}

func TestLifecycle_ApproveRevalidates(t *testing.T) {
	// GIVEN: A 15-day request and a later 10-day request, both PENDING
	// WHEN: Approving the first
	// THEN: The later pending days leave only 11 available, so it fails

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-07-01"), EndDate: date("2024-07-19"), DaysRequested: 15,
	})
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-08-05"), EndDate: date("2024-08-16"), DaysRequested: 10,
		Type: generic.VacationEmergency,
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, first.ID, "manager")
	var invalid *generic.InvalidRequestError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, first.ID, invalid.RequestID)

	rejected, err := svc.Reject(ctx, first.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, generic.VacationRejected, rejected.Status)
}

func TestLifecycle_Liquidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req, _, err := svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-06-10"), EndDate: date("2024-06-14"), DaysRequested: 5,
	})
	require.NoError(t, err)
	_, err = svc.Liquidate(ctx, req.ID, "hr")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "only approved days can be liquidated")

	_, err = svc.Approve(ctx, req.ID, "manager")
	require.NoError(t, err)
	liq, err := svc.Liquidate(ctx, req.ID, "hr")
	require.NoError(t, err)
	assert.Equal(t, generic.VacationLiquidated, liq.Status)
}

func TestSubmit_Rejections(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	gone := employee("E009", "2020-01-01", "900")
	gone.Active = false
	require.NoError(t, mem.SaveEmployee(ctx, gone))

	_, _, err := svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E009", StartDate: date("2024-07-01"), EndDate: date("2024-07-02"), DaysRequested: 2,
	})
	assert.ErrorIs(t, err, generic.ErrEmployeeInactive)

	_, _, err = svc.Submit(ctx, vacation.SubmitInput{
		EmployeeCode: "E001", StartDate: date("2024-07-01"), EndDate: date("2024-07-02"), DaysRequested: 2,
		Type: "SABBATICAL",
	})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = svc.Approve(ctx, "missing", "manager")
	assert.ErrorIs(t, err, generic.ErrRecordNotFound)
}

// =============================================================================
// PRICING
// =============================================================================

func TestPrice(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveEmployee(ctx, employee("E002", "2022-01-01", "800.00")))
	require.NoError(t, mem.SaveEmployee(ctx, employee("E003", "2022-01-01", "0")))

	cases := []struct {
		code generic.EmployeeCode
		days int
		want string
	}{
		{"E001", 10, "500.00"}, // 10 * 1200 / 24
		{"E002", 7, "233.33"},  // 7 * 800 / 24
		{"E003", 15, "287.50"}, // minimum wage 460 fallback
	}
	for _, tc := range cases {
		p, err := svc.Price(ctx, tc.code, tc.days, date("2024-06-30"))
		require.NoError(t, err)
		assert.Equal(t, tc.want, p.Amount.StringFixed(2), string(tc.code))
	}

	_, err := svc.Price(ctx, "E001", 0, date("2024-06-30"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	_, err = svc.Price(ctx, "E404", 1, date("2024-06-30"))
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
}
