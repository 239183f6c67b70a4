/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Payroll calculate/save/summary and locking
- Error to status mapping
- Vacation submit/approve and refusal bodies
- Loan schedule, creation and payments
- Parameter updates and the metrics endpoint

Every test drives the full router over an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/observability"
	"github.com/warp/payroll-engine/params"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

type testServer struct {
	h      *Handler
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, params.NewCache(store, generic.FixedClock{At: testNow}), generic.FixedClock{At: testNow}, observability.NewMetrics(), logger)
	return &testServer{h: h, router: NewRouter(h, RouterOptions{CORSOrigins: []string{"http://localhost:5173"}})}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createEmployee(t *testing.T, code, salary, hireDate string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/employees", map[string]any{
		"code": code, "names": "Maria", "surnames": "Paredes",
		"hire_date": hireDate, "base_salary": salary,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestEmployees_CreateGetList(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E002", "1200", "2020-03-01")
	s.createEmployee(t, "E001", "800.5", "2023-01-16")

	rec := s.do(t, http.MethodGet, "/api/employees/E001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	emp := decode[EmployeeDTO](t, rec)
	assert.Equal(t, "800.50", emp.BaseSalary)
	assert.Equal(t, "Maria Paredes", emp.FullName)
	assert.True(t, emp.Active)

	list := decode[[]EmployeeDTO](t, s.do(t, http.MethodGet, "/api/employees", nil))
	require.Len(t, list, 2)
	assert.Equal(t, "E001", list[0].Code)
}

func TestEmployees_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing code", body: map[string]any{"names": "A", "hire_date": "2024-01-01", "base_salary": "1"}},
		{name: "missing hire date", body: map[string]any{"code": "X", "names": "A", "base_salary": "1"}},
		{name: "negative salary", body: map[string]any{"code": "X", "names": "A", "hire_date": "2024-01-01", "base_salary": "-1"}},
		{name: "terminated before hire", body: map[string]any{"code": "X", "names": "A", "hire_date": "2024-01-01",
			"termination_date": "2023-12-31", "base_salary": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/employees", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAdjustments_CreateAndList(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "800", "2023-01-16")

	rec := s.do(t, http.MethodPost, "/api/employees/E001/adjustments", map[string]any{
		"kind": "income", "concept": "Sales bonus", "amount": 100, "effective_date": "2024-05-20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AdjustmentDTO](t, rec)
	assert.Equal(t, "INCOME", created.Kind)
	assert.True(t, created.Taxable)
	assert.NotEmpty(t, created.ID)

	rec = s.do(t, http.MethodPost, "/api/employees/E001/adjustments", map[string]any{
		"kind": "DEDUCTION", "concept": "Uniform", "amount": "40", "effective_date": "2024-05-21",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, decode[AdjustmentDTO](t, rec).Taxable)

	list := decode[[]AdjustmentDTO](t, s.do(t, http.MethodGet, "/api/employees/E001/adjustments?period=2024-05", nil))
	require.Len(t, list, 2)
	assert.Equal(t, "100.00", list[0].Amount)

	// Unknown employee
	rec = s.do(t, http.MethodPost, "/api/employees/NOPE/adjustments", map[string]any{
		"kind": "INCOME", "concept": "x", "amount": "1", "effective_date": "2024-05-21",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestPayroll_CalculateSaveAndLock(t *testing.T) {
	// GIVEN: An 800.00 employee
	// WHEN: May is calculated, then saved as approved
	// THEN: The single calculation nets 724.40 and the saved record is locked

	s := newTestServer(t)
	s.createEmployee(t, "E001", "800.00", "2023-01-16")

	rec := s.do(t, http.MethodPost, "/api/payroll/calculate", map[string]any{
		"employee_code": "E001", "period": "2024-05", "days_worked": 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc := decode[PayrollRecordDTO](t, rec)
	assert.Equal(t, "800.00", calc.BasicSalary)
	assert.Equal(t, "75.60", calc.IESSPersonal)
	assert.Equal(t, "724.40", calc.NetPay)

	// Calculation alone stores nothing
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/payroll/2024-05/E001", nil).Code)

	rec = s.do(t, http.MethodPost, "/api/payroll/2024-05/save", map[string]any{"approved_by": "boss"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[PayrollBatchDTO](t, rec)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "APPROVED", batch.Records[0].Status)
	assert.Equal(t, "boss", batch.Records[0].ApprovedBy)
	assert.Equal(t, 31, batch.Records[0].DaysWorked)

	stored := decode[PayrollRecordDTO](t, s.do(t, http.MethodGet, "/api/payroll/2024-05/E001", nil))
	assert.Equal(t, 1, stored.Version)

	sum := decode[PayrollSummaryDTO](t, s.do(t, http.MethodGet, "/api/payroll/2024-05", nil))
	assert.Equal(t, 1, sum.Employees)
	assert.Equal(t, stored.NetPay, sum.NetTotal)

	// The locked employee is skipped, not saved again
	rec = s.do(t, http.MethodPost, "/api/payroll/2024-05/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[PayrollBatchDTO](t, rec)
	assert.Empty(t, again.Records)
	require.Len(t, again.Errors, 1)
	assert.Contains(t, again.Errors[0].Error, "locked")

	// A single calculation of a locked period is a conflict
	rec = s.do(t, http.MethodPost, "/api/payroll/calculate", map[string]any{"employee_code": "E001", "period": "2024-05"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payroll/2024-05/E001/transition", map[string]any{"status": "paid", "actor": "treasury"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decode[PayrollRecordDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/payroll/2024-05/E001/transition", map[string]any{"status": "CALCULATED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPayroll_BatchReportsSkippedEmployees(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "800.00", "2023-01-16")
	s.createEmployee(t, "E002", "1000.00", "2023-01-16")

	rec := s.do(t, http.MethodPost, "/api/payroll/2024-05/calculate", map[string]any{
		"employee_codes": []string{"E002"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[PayrollBatchDTO](t, rec)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E002", batch.Records[0].EmployeeCode)
	assert.Empty(t, batch.Errors)
}

func TestStatusMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown employee", http.MethodGet, "/api/employees/NOPE", nil, http.StatusNotFound},
		{"invalid period in path", http.MethodGet, "/api/payroll/2024-13", nil, http.StatusBadRequest},
		{"invalid period in body", http.MethodPost, "/api/payroll/calculate",
			map[string]any{"employee_code": "E001", "period": "May"}, http.StatusBadRequest},
		{"unknown bonus kind", http.MethodGet, "/api/bonuses/fifteenth/2024", nil, http.StatusBadRequest},
		{"unknown loan", http.MethodGet, "/api/loans/nope", nil, http.StatusNotFound},
		{"bad as_of", http.MethodGet, "/api/employees/E001/vacation/balance?as_of=yesterday", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/employees", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// BONUSES
// =============================================================================

func TestBonuses_CalculateAndSave(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "800.00", "2020-01-10")

	rec := s.do(t, http.MethodPost, "/api/bonuses/fourteenth/2024/calculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[BonusBatchDTO](t, rec)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "FOURTEENTH", batch.Records[0].Kind)

	rec = s.do(t, http.MethodPost, "/api/bonuses/fourteenth/2024/save", map[string]any{"approved_by": "boss"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[[]BonusRecordDTO](t, s.do(t, http.MethodGet, "/api/bonuses/FOURTEENTH/2024", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "APPROVED", list[0].Status)

	rec = s.do(t, http.MethodPost, "/api/bonuses/fourteenth/2024/E001/transition", map[string]any{"status": "PAID"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decode[BonusRecordDTO](t, rec).Status)
}

// =============================================================================
// VACATION
// =============================================================================

func TestVacation_SubmitApproveAndRefuse(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "960.00", "2018-01-10")

	bal := decode[VacationBalanceDTO](t, s.do(t, http.MethodGet, "/api/employees/E001/vacation/balance", nil))
	assert.Equal(t, "2024-06-15", bal.AsOf.String())
	assert.Equal(t, 6, bal.CompleteYears)
	assert.Positive(t, bal.Available)

	// 2024-07-01 is a Monday.
	body := map[string]any{"start_date": "2024-07-01", "end_date": "2024-07-05", "days_requested": 5}
	v := decode[VacationValidationDTO](t, s.do(t, http.MethodPost, "/api/employees/E001/vacation/validate", body))
	assert.True(t, v.Valid)
	assert.Equal(t, 5, v.BusinessDays)

	rec := s.do(t, http.MethodPost, "/api/employees/E001/vacation/requests", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[SubmitVacationDTO](t, rec)
	assert.Equal(t, "PENDING", submitted.Request.Status)
	assert.Equal(t, "SCHEDULED", submitted.Request.Type)

	rec = s.do(t, http.MethodPost, "/api/vacation/requests/"+submitted.Request.ID+"/approve", map[string]any{"actor": "boss"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[VacationRequestDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.Status)
	assert.Equal(t, "boss", approved.DecidedBy)

	// Overlapping and oversized request is refused with the validation body.
	rec = s.do(t, http.MethodPost, "/api/employees/E001/vacation/requests",
		map[string]any{"start_date": "2024-07-03", "end_date": "2024-07-10", "days_requested": 500})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	refused := decode[VacationValidationDTO](t, rec)
	assert.False(t, refused.Valid)
	assert.Len(t, refused.Errors, 2)

	list := decode[[]VacationRequestDTO](t, s.do(t, http.MethodGet, "/api/employees/E001/vacation/requests", nil))
	assert.Len(t, list, 1)
}

func TestVacation_Price(t *testing.T) {
	// 960 / 24 per day
	s := newTestServer(t)
	s.createEmployee(t, "E001", "960.00", "2018-01-10")

	rec := s.do(t, http.MethodGet, "/api/employees/E001/vacation/price?days=3&payment_date=2024-07-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[VacationPricingDTO](t, rec)
	assert.Equal(t, "120.00", p.Amount)
	assert.Equal(t, "2024-07-31", p.PaymentDate.String())

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/employees/E001/vacation/price?days=x", nil).Code)
}

// =============================================================================
// LOANS
// =============================================================================

func TestLoans_ScheduleCreateAndPay(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "1500.00", "2020-01-10")

	loanBody := map[string]any{"principal": "1200", "term_months": 12, "annual_rate": "0", "start_date": "2024-01-15"}
	rec := s.do(t, http.MethodPost, "/api/loans/schedule", loanBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	table := decode[ScheduleDTO](t, rec)
	assert.Equal(t, "100.00", table.Installment)
	require.Len(t, table.Lines, 12)
	assert.Equal(t, "0.00", table.Lines[11].Balance)

	loanBody["employee_code"] = "E001"
	loanBody["kind"] = "emergency"
	rec = s.do(t, http.MethodPost, "/api/loans", loanBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[LoanDTO](t, rec)
	assert.Equal(t, "ACTIVE", created.Status)
	assert.Equal(t, "FIXED", created.RateMode)

	first := table.Lines[0]
	rec = s.do(t, http.MethodPost, "/api/loans/"+created.ID+"/payments",
		map[string]any{"date": first.DueDate.String(), "amount": "100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paid := decode[PaymentResultDTO](t, rec)
	assert.Equal(t, "1100.00", paid.Payment.BalanceAfter)
	assert.Equal(t, "0.00", paid.Payment.Interest)

	got := decode[LoanDTO](t, s.do(t, http.MethodGet, "/api/loans/"+created.ID, nil))
	assert.Len(t, got.Payments, 1)
	assert.Equal(t, "1100.00", got.RemainingBalance)

	rec = s.do(t, http.MethodPost, "/api/loans/"+created.ID+"/payments",
		map[string]any{"date": first.DueDate.String(), "amount": "5000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	list := decode[[]LoanDTO](t, s.do(t, http.MethodGet, "/api/loans?employee_code=E001&status=active", nil))
	assert.Len(t, list, 1)

	rec = s.do(t, http.MethodPost, "/api/loans/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[LoanDTO](t, rec).Status)
}

// =============================================================================
// PARAMETERS AND OPS
// =============================================================================

func TestParameters_PutAndList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/parameters/MINIMUM_WAGE", map[string]any{"value": "470.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[[]ParameterDTO](t, s.do(t, http.MethodGet, "/api/parameters", nil))
	values := map[string]string{}
	for _, p := range list {
		values[p.Key] = p.Value
	}
	assert.Equal(t, "470.00", values["MINIMUM_WAGE"])
	assert.Equal(t, "15", values["VACATION_DAYS_PER_YEAR"])

	rec = s.do(t, http.MethodPut, "/api/parameters/MINIMUM_WAGE", map[string]any{"value": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOps_MetricsAndHealth(t *testing.T) {
	s := newTestServer(t)
	s.createEmployee(t, "E001", "800.00", "2023-01-16")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `payroll_engine_operations_total{operation="save_employee",outcome="ok"} 1`)
	assert.Contains(t, body, "payroll_engine_http_request_duration_seconds_count")
}
