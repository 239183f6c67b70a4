/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario loads through the real services and leaves
	the expected state behind. The handler clock is fixed at 2024-06-15,
	so payroll-month works on 2024-05.
*/
package api

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_List(t *testing.T) {
	s := newTestServer(t)
	list := decode[[]ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios", nil))
	require.Len(t, list, 3)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_CurrentWhileLoading(t *testing.T) {
	// GIVEN: Readers polling the current scenario
	// WHEN: A scenario loads at the same time
	// THEN: Every read succeeds and the load is reported afterwards

	s := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	s.loadScenario(t, "loan-portfolio")
	wg.Wait()

	current := decode[ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "loan-portfolio", current.ID)
}

func TestScenario_PayrollMonth(t *testing.T) {
	// GIVEN: The payroll-month scenario
	// WHEN: It is loaded
	// THEN: May holds three CALCULATED records and PM-001's adjustments are consumed

	s := newTestServer(t)
	s.loadScenario(t, "payroll-month")

	records := decode[[]PayrollRecordDTO](t, s.do(t, http.MethodGet, "/api/payroll/2024-05/records", nil))
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, "CALCULATED", r.Status, r.EmployeeCode)
	}
	assert.Equal(t, "PM-001", records[0].EmployeeCode)
	assert.Equal(t, "150.00", records[0].AdditionalIncome)
	assert.Equal(t, "40.00", records[0].AdditionalDeductions)
	assert.ElementsMatch(t, []string{"PM-ADJ-1", "PM-ADJ-2"}, records[0].AdjustmentIDs)
	assert.Equal(t, "60.00", records[1].NonTaxableIncome)

	adjustments := decode[[]AdjustmentDTO](t, s.do(t, http.MethodGet, "/api/employees/PM-001/adjustments?period=2024-05", nil))
	require.Len(t, adjustments, 2)
	for _, a := range adjustments {
		assert.Equal(t, "2024-05", a.ProcessedPeriod)
	}

	current := decode[ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "payroll-month", current.ID)

	// Reloading recalculates in place
	s.loadScenario(t, "payroll-month")
	records = decode[[]PayrollRecordDTO](t, s.do(t, http.MethodGet, "/api/payroll/2024-05/records", nil))
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[0].Version)
}

func TestScenario_VacationTeam(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "vacation-team")

	requests := decode[[]VacationRequestDTO](t, s.do(t, http.MethodGet, "/api/employees/VT-001/vacation/requests", nil))
	require.Len(t, requests, 2)
	assert.Equal(t, "APPROVED", requests[0].Status)
	assert.Equal(t, "PENDING", requests[1].Status)

	bal := decode[VacationBalanceDTO](t, s.do(t, http.MethodGet, "/api/employees/VT-001/vacation/balance?as_of=2024-07-31", nil))
	assert.Equal(t, 5, bal.Used)
	assert.Equal(t, 5, bal.Pending)
}

func TestScenario_LoanPortfolio(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "loan-portfolio")

	loans := decode[[]LoanDTO](t, s.do(t, http.MethodGet, "/api/loans?employee_code=LP-001", nil))
	require.Len(t, loans, 2)

	var fixed, variable LoanDTO
	for _, l := range loans {
		if l.RateMode == "FIXED" {
			fixed = l
		} else {
			variable = l
		}
	}
	require.Len(t, fixed.Payments, 1)
	assert.Equal(t, fixed.MonthlyInstallment, fixed.Payments[0].Amount)
	assert.Equal(t, "VARIABLE", variable.RateMode)
	assert.Empty(t, variable.Payments)

	// Repricing touches only the variable loan
	rec := s.do(t, http.MethodPost, "/api/loans/variable-rate", map[string]any{"annual_rate": "14.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[LoanBatchDTO](t, rec)
	require.Len(t, batch.Loans, 1)
	assert.Equal(t, variable.ID, batch.Loans[0].ID)
	assert.Equal(t, "14.0000", batch.Loans[0].AnnualRate)
}
