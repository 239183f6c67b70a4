package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
	"github.com/warp/payroll-engine/params"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.June, 3, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*payroll.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := payroll.NewService(mem, params.Static{Set: scenarioParams()}, generic.FixedClock{At: fixedNow}, nil)
	return svc, mem
}

func seedEmployee(t *testing.T, mem *store.Memory, code generic.EmployeeCode, salary string, active bool) {
	t.Helper()
	emp := salaried(salary)
	emp.Code = code
	emp.Active = active
	require.NoError(t, mem.SaveEmployee(context.Background(), emp))
}

// =============================================================================
// CALCULATE / SAVE
// =============================================================================

func TestService_CalculateDoesNotPersist(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	rec, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(30)})
	require.NoError(t, err)
	assertMoney(t, "724.40", rec.NetPay, "net_pay")
	assert.Equal(t, fixedNow, rec.CalculatedAt)

	_, err = mem.GetPayroll(ctx, "E001", may2024)
	assert.ErrorIs(t, err, generic.ErrRecordNotFound)
}

func TestService_UnknownEmployee(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Calculate(context.Background(), payroll.Request{EmployeeCode: "nobody", Period: may2024})
	assert.ErrorIs(t, err, generic.ErrEmployeeNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestService_SaveMarksAdjustmentsProcessed(t *testing.T) {
	// GIVEN: A taxable bonus line in May
	// WHEN: May is calculated and saved
	// THEN: The line is stamped 2024-05 and still counts on recalculation

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)
	require.NoError(t, mem.SaveAdjustment(ctx, generic.Adjustment{
		ID: "bonus-1", EmployeeCode: "E001", Kind: generic.AdjustmentIncome, Taxable: true,
		Concept: "sales bonus", Amount: dec("100"), EffectiveDate: generic.MustParseDate("2024-05-20"),
	}))

	rec, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(30)})
	require.NoError(t, err)
	saved, err := svc.Save(ctx, []generic.PayrollRecord{rec}, "")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Version)
	assert.Equal(t, generic.PayrollCalculated, saved[0].Status)

	adj, err := mem.ListAdjustments(ctx, "E001", may2024.Range())
	require.NoError(t, err)
	require.Len(t, adj, 1)
	assert.Equal(t, "2024-05", adj[0].ProcessedPeriod)

	again, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(30)})
	require.NoError(t, err)
	assertMoney(t, "100.00", again.AdditionalIncome, "additional_income")
	assert.Equal(t, 1, again.Version, "recalculation carries the stored version")
}

func TestService_RecalculationSupersedesCalculated(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	first, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(30)})
	require.NoError(t, err)
	_, err = svc.Save(ctx, []generic.PayrollRecord{first}, "")
	require.NoError(t, err)

	second, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(15)})
	require.NoError(t, err)
	_, err = svc.Save(ctx, []generic.PayrollRecord{second}, "")
	require.NoError(t, err)

	stored, err := mem.GetPayroll(ctx, "E001", may2024)
	require.NoError(t, err)
	assertMoney(t, "400.00", stored.BasicSalary, "basic_salary")
	assert.Equal(t, 2, stored.Version)
}

func TestService_ApprovedPeriodIsLocked(t *testing.T) {
	// GIVEN: May saved as APPROVED
	// WHEN: Recalculating or saving again
	// THEN: PeriodLocked until the record is voided

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	rec, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.NoError(t, err)
	saved, err := svc.Save(ctx, []generic.PayrollRecord{rec}, "hr.manager")
	require.NoError(t, err)
	assert.Equal(t, generic.PayrollApproved, saved[0].Status)
	assert.Equal(t, "hr.manager", saved[0].ApprovedBy)
	require.NotNil(t, saved[0].ApprovedAt)

	_, err = svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrPeriodLocked)
	var locked *generic.PeriodLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "2024-05", locked.Key)

	_, err = svc.Save(ctx, saved, "")
	assert.ErrorIs(t, err, generic.ErrPeriodLocked)

	_, err = svc.Transition(ctx, "E001", may2024, generic.PayrollVoid, "hr.manager")
	require.NoError(t, err)

	_, err = svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	assert.NoError(t, err, "VOID records may be recomputed")
}

func TestService_ConcurrentSaveConflicts(t *testing.T) {
	// GIVEN: Two calculations of the same key taken before either is saved
	// WHEN: Both are saved
	// THEN: The second writer sees ConflictingWrite

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	a, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.NoError(t, err)
	b, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.NoError(t, err)

	_, err = svc.Save(ctx, []generic.PayrollRecord{a}, "")
	require.NoError(t, err)
	_, err = svc.Save(ctx, []generic.PayrollRecord{b}, "")
	assert.ErrorIs(t, err, generic.ErrConflictingWrite)
	assert.True(t, generic.IsRetryable(err))
}

func TestService_SaveIsAtomic(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)
	seedEmployee(t, mem, "E002", "900.00", true)

	r1, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.NoError(t, err)
	r2, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E002", Period: may2024})
	require.NoError(t, err)
	r2.NetPay = r2.NetPay.Add(dec("5")) // breaks the identity

	_, err = svc.Save(ctx, []generic.PayrollRecord{r1, r2}, "")
	assert.ErrorIs(t, err, generic.ErrArithmeticInconsistency)

	records, err := mem.ListPayroll(ctx, may2024)
	require.NoError(t, err)
	assert.Empty(t, records, "nothing from a failed batch is kept")
}

// =============================================================================
// BATCH
// =============================================================================

func TestService_CalculatePeriodSkipsFailures(t *testing.T) {
	// GIVEN: Three active employees, one with a locked record, plus one inactive
	// WHEN: Calculating the period
	// THEN: Two records, one collected error, inactive employee not enumerated

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)
	seedEmployee(t, mem, "E002", "1200.00", true)
	seedEmployee(t, mem, "E003", "950.00", true)
	seedEmployee(t, mem, "E004", "700.00", false)

	locked, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E002", Period: may2024})
	require.NoError(t, err)
	_, err = svc.Save(ctx, []generic.PayrollRecord{locked}, "boss")
	require.NoError(t, err)

	result, err := svc.CalculatePeriod(ctx, may2024, nil)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, generic.EmployeeCode("E001"), result.Records[0].EmployeeCode)
	assert.Equal(t, generic.EmployeeCode("E003"), result.Records[1].EmployeeCode)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, generic.EmployeeCode("E002"), result.Errors[0].EmployeeCode)
	assert.ErrorIs(t, result.Errors[0], generic.ErrPeriodLocked)
}

func TestService_CalculatePeriodFilter(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)
	seedEmployee(t, mem, "E002", "1200.00", true)

	result, err := svc.CalculatePeriod(ctx, may2024, []generic.EmployeeCode{"E002", "E999"})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, generic.EmployeeCode("E002"), result.Records[0].EmployeeCode)
	assert.Empty(t, result.Errors)
}

func TestService_CalculatePeriodInvalidPeriod(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CalculatePeriod(context.Background(), generic.PayPeriod{Year: 2101, Month: time.January}, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

// =============================================================================
// SUMMARY AND TRANSITIONS
// =============================================================================

func TestService_Summary(t *testing.T) {
	// GIVEN: E001 (800) and E002 (1200) saved for 30 days, E003 saved then voided
	// THEN: Summary counts two employees

	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)
	seedEmployee(t, mem, "E002", "1200.00", true)
	seedEmployee(t, mem, "E003", "5000.00", true)

	var records []generic.PayrollRecord
	for _, code := range []generic.EmployeeCode{"E001", "E002", "E003"} {
		rec, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: code, Period: may2024, DaysWorked: intPtr(30)})
		require.NoError(t, err)
		records = append(records, rec)
	}
	_, err := svc.Save(ctx, records, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, "E003", may2024, generic.PayrollVoid, "hr")
	require.NoError(t, err)

	sum, err := svc.Summary(ctx, may2024)
	require.NoError(t, err)

	// E001: income 800, deductions 75.60, employer 97.20, provisions 66.64+38.33+33.33
	// E002: income 1200, deductions 113.40+10.41, employer 145.80, provisions 99.96+38.33+50.00
	assert.Equal(t, 2, sum.Employees)
	assertMoney(t, "2000.00", sum.TotalIncome, "total_income")
	assertMoney(t, "199.41", sum.TotalDeductions, "total_deductions")
	assertMoney(t, "1800.59", sum.NetTotal, "net_total")
	assertMoney(t, "243.00", sum.EmployerIESS, "employer_iess")
	assertMoney(t, "326.59", sum.ProvisionsTotal, "provisions_total")
	assertMoney(t, "2569.59", sum.EmployerCost, "employer_cost")
}

func TestService_Transitions(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	rec, err := svc.Calculate(ctx, payroll.Request{EmployeeCode: "E001", Period: may2024})
	require.NoError(t, err)
	_, err = svc.Save(ctx, []generic.PayrollRecord{rec}, "")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, "E001", may2024, generic.PayrollPaid, "treasury")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	approved, err := svc.Transition(ctx, "E001", may2024, generic.PayrollApproved, "hr.manager")
	require.NoError(t, err)
	assert.Equal(t, "hr.manager", approved.ApprovedBy)

	paid, err := svc.Transition(ctx, "E001", may2024, generic.PayrollPaid, "treasury")
	require.NoError(t, err)
	assert.Equal(t, generic.PayrollPaid, paid.Status)

	_, err = svc.Transition(ctx, "E001", may2024, generic.PayrollVoid, "hr.manager")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_SaveLoadRoundTrip(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	seedEmployee(t, mem, "E001", "800.00", true)

	rec, err := svc.Calculate(ctx, payroll.Request{
		EmployeeCode: "E001", Period: may2024, DaysWorked: intPtr(30),
		Overtime50Hours: dec("10"), Overtime100Hours: dec("4"),
	})
	require.NoError(t, err)
	saved, err := svc.Save(ctx, []generic.PayrollRecord{rec}, "hr")
	require.NoError(t, err)

	loaded, err := mem.GetPayroll(ctx, "E001", may2024)
	require.NoError(t, err)
	assert.Equal(t, saved[0], loaded)
}
