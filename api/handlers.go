/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll, bonus, vacation and loan services via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain services. Handlers never compute money themselves.

ENDPOINTS:
  Employees:
    GET    /api/employees                         List employees (?active=true)
    POST   /api/employees                         Create or replace employee
    GET    /api/employees/{code}                  Get employee
    GET    /api/employees/{code}/adjustments      Adjustments of a period (?period=YYYY-MM)
    POST   /api/employees/{code}/adjustments      Record income/deduction line

  Payroll:
    POST   /api/payroll/calculate                 Calculate one record (not saved)
    POST   /api/payroll/{period}/calculate        Calculate the period (not saved)
    POST   /api/payroll/{period}/save             Calculate and save the period
    GET    /api/payroll/{period}                  Period summary
    GET    /api/payroll/{period}/records          Stored records of the period
    GET    /api/payroll/{period}/{code}           Stored record
    POST   /api/payroll/{period}/{code}/transition Status change

  Bonuses ({kind} = thirteenth | fourteenth):
    GET    /api/bonuses/{kind}/{year}             Stored records
    POST   /api/bonuses/{kind}/{year}/calculate   Calculate batch (not saved)
    POST   /api/bonuses/{kind}/{year}/save        Calculate and save batch
    POST   /api/bonuses/{kind}/{year}/{code}/transition

  Vacation:
    GET    /api/employees/{code}/vacation/balance   (?as_of=YYYY-MM-DD)
    POST   /api/employees/{code}/vacation/validate
    GET    /api/employees/{code}/vacation/requests
    POST   /api/employees/{code}/vacation/requests  Submit
    GET    /api/employees/{code}/vacation/price     (?days=&payment_date=)
    POST   /api/vacation/requests/{id}/approve|reject|take|liquidate

  Loans:
    POST   /api/loans/schedule                    Amortization preview
    GET    /api/loans                             (?employee_code=&rate_mode=&status=)
    POST   /api/loans                             Create
    GET    /api/loans/{id}
    POST   /api/loans/{id}/payments
    POST   /api/loans/{id}/refresh                (?as_of=)
    POST   /api/loans/{id}/cancel
    POST   /api/loans/{id}/rate
    POST   /api/loans/variable-rate               Reprice every active VARIABLE loan

  Parameters:
    GET    /api/parameters
    PUT    /api/parameters/{key}

ERROR HANDLING:
  Domain errors map to HTTP status in writeDomainError:
  - 400: malformed input, invalid period
  - 404: employee or record not found
  - 409: locked period, concurrent write
  - 422: well-formed request the rules refuse (inactive employee,
         invalid vacation request, invalid transition, overpayment)
  - 500: everything else

SECURITY NOTE:
  No authentication or authorization. Actors (approved_by, actor) are
  taken from the request body as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/payroll-engine/bonus"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/loan"
	"github.com/warp/payroll-engine/observability"
	"github.com/warp/payroll-engine/params"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/vacation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    generic.TxGateway
	Params   *params.Cache
	Payroll  *payroll.Service
	Bonus    *bonus.Service
	Vacation *vacation.Service
	Loans    *loan.Service
	Clock    generic.Clock
	Metrics  *observability.Metrics // optional
	Logger   *slog.Logger

	// Last loaded scenario, guarded by scenarioMu
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires every service over one gateway and parameter cache.
func NewHandler(store generic.TxGateway, cache *params.Cache, clock generic.Clock, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:    store,
		Params:   cache,
		Payroll:  payroll.NewService(store, cache, clock, logger),
		Bonus:    bonus.NewService(store, cache, clock, logger),
		Vacation: vacation.NewService(store, cache, clock, logger),
		Loans:    loan.NewService(store, clock, logger),
		Clock:    clock,
		Metrics:  metrics,
		Logger:   logger,
	}
}

// observe counts the operation when metrics are wired.
func (h *Handler) observe(op string, err error) {
	if h.Metrics != nil {
		h.Metrics.Observe(op, err)
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns employees ordered by code.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	filter := generic.EmployeeFilter{ActiveOnly: r.URL.Query().Get("active") == "true"}
	employees, err := h.Store.ListEmployees(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, 0, len(employees))
	for _, e := range employees {
		dtos = append(dtos, toEmployeeDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))

	emp, err := h.Store.GetEmployee(r.Context(), code)
	if err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emp := generic.Employee{
		Code:            generic.EmployeeCode(strings.TrimSpace(req.Code)),
		Names:           strings.TrimSpace(req.Names),
		Surnames:        strings.TrimSpace(req.Surnames),
		NationalID:      req.NationalID,
		HireDate:        req.HireDate,
		TerminationDate: req.TerminationDate,
		BaseSalary:      req.BaseSalary,
		DepartmentCode:  req.DepartmentCode,
		PositionCode:    req.PositionCode,
		Active:          req.Active == nil || *req.Active,
	}
	err := validateEmployee(emp)
	if err == nil {
		err = h.Store.SaveEmployee(r.Context(), emp)
	}
	h.observe("save_employee", err)
	if err != nil {
		writeDomainError(w, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func validateEmployee(e generic.Employee) error {
	switch {
	case e.Code == "":
		return generic.InputError("code", "required")
	case e.Names == "":
		return generic.InputError("names", "required")
	case e.HireDate.IsZero():
		return generic.InputError("hire_date", "required")
	case e.BaseSalary.IsNegative():
		return generic.InputError("base_salary", "must not be negative")
	case e.TerminationDate != nil && e.TerminationDate.Before(e.HireDate):
		return generic.InputError("termination_date", "before hire date")
	}
	return nil
}

// ListAdjustments returns the adjustments effective in a period
// (default: the current one).
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	period := generic.PeriodOf(generic.Today(h.Clock))
	if s := r.URL.Query().Get("period"); s != "" {
		p, err := generic.ParsePayPeriod(s)
		if err != nil {
			writeDomainError(w, "Invalid period", err)
			return
		}
		period = p
	}

	adjustments, err := h.Store.ListAdjustments(r.Context(), code, period.Range())
	if err != nil {
		writeDomainError(w, "Failed to list adjustments", err)
		return
	}
	dtos := make([]AdjustmentDTO, 0, len(adjustments))
	for _, a := range adjustments {
		dtos = append(dtos, toAdjustmentDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment records an income or deduction line that the payroll
// of the period containing effective_date will pick up.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	adj := generic.Adjustment{
		ID:            uuid.NewString(),
		EmployeeCode:  code,
		Kind:          generic.AdjustmentKind(strings.ToUpper(string(req.Kind))),
		Concept:       strings.TrimSpace(req.Concept),
		Amount:        req.Amount,
		EffectiveDate: req.EffectiveDate,
	}
	adj.Taxable = adj.Kind == generic.AdjustmentIncome
	if req.Taxable != nil {
		adj.Taxable = *req.Taxable
	}

	err := validateAdjustment(adj)
	if err == nil {
		_, err = h.Store.GetEmployee(r.Context(), code)
	}
	if err == nil {
		err = h.Store.SaveAdjustment(r.Context(), adj)
	}
	h.observe("save_adjustment", err)
	if err != nil {
		writeDomainError(w, "Failed to save adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(adj))
}

func validateAdjustment(a generic.Adjustment) error {
	switch {
	case a.Kind != generic.AdjustmentIncome && a.Kind != generic.AdjustmentDeduction:
		return generic.InputError("kind", "must be INCOME or DEDUCTION")
	case a.Concept == "":
		return generic.InputError("concept", "required")
	case !a.Amount.IsPositive():
		return generic.InputError("amount", "must be positive")
	case a.EffectiveDate.IsZero():
		return generic.InputError("effective_date", "required")
	}
	return nil
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// CalculatePayroll computes one record without saving it.
func (h *Handler) CalculatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CalculatePayrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, err := generic.ParsePayPeriod(req.Period)
	if err != nil {
		writeDomainError(w, "Invalid period", err)
		return
	}

	rec, err := h.Payroll.Calculate(r.Context(), payroll.Request{
		EmployeeCode:     generic.EmployeeCode(req.EmployeeCode),
		Period:           period,
		DaysWorked:       req.DaysWorked,
		Overtime50Hours:  req.Overtime50Hours,
		Overtime100Hours: req.Overtime100Hours,
	})
	h.observe("calculate_payroll", err)
	if err != nil {
		writeDomainError(w, "Failed to calculate payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(rec))
}

// CalculatePeriod computes every active employee without saving.
func (h *Handler) CalculatePeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req RunRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Payroll.CalculatePeriod(r.Context(), period, employeeCodes(req.EmployeeCodes))
	h.observe("calculate_payroll_period", err)
	if err != nil {
		writeDomainError(w, "Failed to calculate period", err)
		return
	}
	writeJSON(w, http.StatusOK, PayrollBatchDTO{
		Records: toPayrollDTOs(result.Records),
		Errors:  toBatchErrorDTOs(result.Errors),
	})
}

// SavePeriod recalculates the period and saves every computed record in
// one transaction. Skipped employees are reported, not saved.
func (h *Handler) SavePeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req RunRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Payroll.CalculatePeriod(r.Context(), period, employeeCodes(req.EmployeeCodes))
	var saved []generic.PayrollRecord
	if err == nil {
		saved, err = h.Payroll.Save(r.Context(), result.Records, req.ApprovedBy)
	}
	h.observe("save_payroll", err)
	if err != nil {
		writeDomainError(w, "Failed to save payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, PayrollBatchDTO{
		Records: toPayrollDTOs(saved),
		Errors:  toBatchErrorDTOs(result.Errors),
	})
}

// GetPayrollSummary aggregates the stored non-VOID records of a period.
func (h *Handler) GetPayrollSummary(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	sum, err := h.Payroll.Summary(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to summarize payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// ListPayroll returns the stored records of a period.
func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	records, err := h.Store.ListPayroll(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to list payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTOs(records))
}

// GetPayroll returns one stored record.
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.GetPayroll(r.Context(), generic.EmployeeCode(chi.URLParam(r, "code")), period)
	if err != nil {
		writeDomainError(w, "Failed to get payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(rec))
}

// TransitionPayroll moves a stored record to a new status.
func (h *Handler) TransitionPayroll(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	to := generic.PayrollStatus(strings.ToUpper(req.Status))
	rec, err := h.Payroll.Transition(r.Context(), generic.EmployeeCode(chi.URLParam(r, "code")), period, to, req.Actor)
	h.observe("transition_payroll", err)
	if err != nil {
		writeDomainError(w, "Failed to change payroll status", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(rec))
}

// =============================================================================
// BONUS HANDLERS
// =============================================================================

// ListBonuses returns stored bonus records for a kind and year.
func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	kind, year, ok := bonusParams(w, r)
	if !ok {
		return
	}
	records, err := h.Store.ListBonuses(r.Context(), kind, year)
	if err != nil {
		writeDomainError(w, "Failed to list bonuses", err)
		return
	}
	writeJSON(w, http.StatusOK, toBonusDTOs(records))
}

// CalculateBonuses computes a bonus batch without saving.
func (h *Handler) CalculateBonuses(w http.ResponseWriter, r *http.Request) {
	kind, year, ok := bonusParams(w, r)
	if !ok {
		return
	}
	var req RunRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Bonus.CalculateBatch(r.Context(), kind, year, employeeCodes(req.EmployeeCodes))
	h.observe("calculate_bonus", err)
	if err != nil {
		writeDomainError(w, "Failed to calculate bonuses", err)
		return
	}
	writeJSON(w, http.StatusOK, BonusBatchDTO{
		Records: toBonusDTOs(result.Records),
		Errors:  toBatchErrorDTOs(result.Errors),
	})
}

// SaveBonuses recalculates the batch and saves it in one transaction.
func (h *Handler) SaveBonuses(w http.ResponseWriter, r *http.Request) {
	kind, year, ok := bonusParams(w, r)
	if !ok {
		return
	}
	var req RunRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Bonus.CalculateBatch(r.Context(), kind, year, employeeCodes(req.EmployeeCodes))
	var saved []generic.BonusRecord
	if err == nil {
		saved, err = h.Bonus.Save(r.Context(), result.Records, req.ApprovedBy)
	}
	h.observe("save_bonus", err)
	if err != nil {
		writeDomainError(w, "Failed to save bonuses", err)
		return
	}
	writeJSON(w, http.StatusOK, BonusBatchDTO{
		Records: toBonusDTOs(saved),
		Errors:  toBatchErrorDTOs(result.Errors),
	})
}

// TransitionBonus moves a stored bonus forward.
func (h *Handler) TransitionBonus(w http.ResponseWriter, r *http.Request) {
	kind, year, ok := bonusParams(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	to := generic.BonusStatus(strings.ToUpper(req.Status))
	rec, err := h.Bonus.Transition(r.Context(), kind, generic.EmployeeCode(chi.URLParam(r, "code")), year, to, req.Actor)
	h.observe("transition_bonus", err)
	if err != nil {
		writeDomainError(w, "Failed to change bonus status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBonusDTO(rec))
}

// =============================================================================
// VACATION HANDLERS
// =============================================================================

// GetVacationBalance returns the balance at ?as_of (default today).
func (h *Handler) GetVacationBalance(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	asOf, ok := optionalDateQuery(w, r, "as_of")
	if !ok {
		return
	}

	b, err := h.Vacation.Balance(r.Context(), code, asOf)
	if err != nil {
		writeDomainError(w, "Failed to compute vacation balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toVacationBalanceDTO(b))
}

// ValidateVacation checks a candidate request without storing it. The
// verdict is always 200; Valid=false carries the reasons.
func (h *Handler) ValidateVacation(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	var req VacationRequestBody
	if !decodeBody(w, r, &req) {
		return
	}

	v, err := h.Vacation.Validate(r.Context(), code, req.StartDate, req.EndDate, req.DaysRequested)
	h.observe("validate_vacation", err)
	if err != nil {
		writeDomainError(w, "Failed to validate vacation request", err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationDTO(v))
}

// ListVacationRequests returns the employee's requests.
func (h *Handler) ListVacationRequests(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	if _, err := h.Store.GetEmployee(r.Context(), code); err != nil {
		writeDomainError(w, "Failed to get employee", err)
		return
	}
	requests, err := h.Store.ListVacationRequests(r.Context(), code)
	if err != nil {
		writeDomainError(w, "Failed to list vacation requests", err)
		return
	}
	dtos := make([]VacationRequestDTO, 0, len(requests))
	for _, req := range requests {
		dtos = append(dtos, toVacationRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitVacation validates and stores a PENDING request. An invalid
// request is refused with 422 and the validation in the body.
func (h *Handler) SubmitVacation(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	var req VacationRequestBody
	if !decodeBody(w, r, &req) {
		return
	}

	stored, v, err := h.Vacation.Submit(r.Context(), vacation.SubmitInput{
		EmployeeCode:  code,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		DaysRequested: req.DaysRequested,
		Type:          generic.VacationType(strings.ToUpper(req.Type)),
		Reason:        req.Reason,
	})
	h.observe("submit_vacation", err)
	if errors.Is(err, generic.ErrInvalidVacationRequest) {
		writeJSON(w, http.StatusUnprocessableEntity, toValidationDTO(v))
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to submit vacation request", err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitVacationDTO{
		Request:    toVacationRequestDTO(stored),
		Validation: toValidationDTO(v),
	})
}

// ApproveVacation re-validates and approves a PENDING request.
func (h *Handler) ApproveVacation(w http.ResponseWriter, r *http.Request) {
	h.decideVacation(w, r, "approve_vacation", func(id, actor string) (generic.VacationRequest, error) {
		return h.Vacation.Approve(r.Context(), id, actor)
	})
}

func (h *Handler) RejectVacation(w http.ResponseWriter, r *http.Request) {
	h.decideVacation(w, r, "reject_vacation", func(id, actor string) (generic.VacationRequest, error) {
		return h.Vacation.Reject(r.Context(), id, actor)
	})
}

func (h *Handler) TakeVacation(w http.ResponseWriter, r *http.Request) {
	h.decideVacation(w, r, "take_vacation", func(id, _ string) (generic.VacationRequest, error) {
		return h.Vacation.MarkTaken(r.Context(), id)
	})
}

func (h *Handler) LiquidateVacation(w http.ResponseWriter, r *http.Request) {
	h.decideVacation(w, r, "liquidate_vacation", func(id, actor string) (generic.VacationRequest, error) {
		return h.Vacation.Liquidate(r.Context(), id, actor)
	})
}

func (h *Handler) decideVacation(w http.ResponseWriter, r *http.Request, op string,
	fn func(id, actor string) (generic.VacationRequest, error)) {
	var req DecisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	updated, err := fn(chi.URLParam(r, "id"), req.Actor)
	h.observe(op, err)
	if err != nil {
		writeDomainError(w, "Failed to update vacation request", err)
		return
	}
	writeJSON(w, http.StatusOK, toVacationRequestDTO(updated))
}

// PriceVacation values ?days at ?payment_date (default today).
func (h *Handler) PriceVacation(w http.ResponseWriter, r *http.Request) {
	code := generic.EmployeeCode(chi.URLParam(r, "code"))
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		writeDomainError(w, "Invalid days", generic.InputError("days", "must be an integer"))
		return
	}
	paymentDate, ok := optionalDateQuery(w, r, "payment_date")
	if !ok {
		return
	}
	on := generic.Today(h.Clock)
	if paymentDate != nil {
		on = *paymentDate
	}

	p, err := h.Vacation.Price(r.Context(), code, days, on)
	if err != nil {
		writeDomainError(w, "Failed to price vacation", err)
		return
	}
	writeJSON(w, http.StatusOK, toPricingDTO(p))
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// PreviewSchedule builds an amortization table without storing anything.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	table, err := loan.Schedule(loan.ScheduleInput{
		Principal:  req.Principal,
		TermMonths: req.TermMonths,
		AnnualRate: req.AnnualRate,
		StartDate:  req.StartDate,
	})
	h.observe("loan_schedule", err)
	if err != nil {
		writeDomainError(w, "Failed to build schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(table))
}

// CreateLoan stores an ACTIVE loan with its table.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.Loans.Create(r.Context(), loan.Input{
		EmployeeCode: generic.EmployeeCode(req.EmployeeCode),
		Kind:         generic.LoanKind(strings.ToUpper(req.Kind)),
		Principal:    req.Principal,
		TermMonths:   req.TermMonths,
		AnnualRate:   req.AnnualRate,
		RateMode:     generic.RateMode(strings.ToUpper(req.RateMode)),
		StartDate:    req.StartDate,
	})
	h.observe("create_loan", err)
	if err != nil {
		writeDomainError(w, "Failed to create loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(l))
}

// ListLoans filters by employee_code, rate_mode and status (repeatable).
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.LoanFilter{
		EmployeeCode: generic.EmployeeCode(q.Get("employee_code")),
		RateMode:     generic.RateMode(strings.ToUpper(q.Get("rate_mode"))),
	}
	for _, s := range q["status"] {
		filter.Statuses = append(filter.Statuses, generic.LoanStatus(strings.ToUpper(s)))
	}

	loans, err := h.Loans.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTOs(loans))
}

// GetLoan returns a loan with its table and payments.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Loans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// RegisterLoanPayment applies a payment: accrued interest first.
func (h *Handler) RegisterLoanPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payment, l, err := h.Loans.RegisterPayment(r.Context(), chi.URLParam(r, "id"), req.Date, req.Amount)
	h.observe("register_loan_payment", err)
	if err != nil {
		writeDomainError(w, "Failed to register payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResultDTO{Payment: toPaymentDTO(payment), Loan: toLoanDTO(l)})
}

// RefreshLoanStatus re-evaluates ACTIVE/OVERDUE at ?as_of (default today).
func (h *Handler) RefreshLoanStatus(w http.ResponseWriter, r *http.Request) {
	asOf, ok := optionalDateQuery(w, r, "as_of")
	if !ok {
		return
	}
	on := generic.Today(h.Clock)
	if asOf != nil {
		on = *asOf
	}
	l, err := h.Loans.RefreshStatus(r.Context(), chi.URLParam(r, "id"), on)
	h.observe("refresh_loan", err)
	if err != nil {
		writeDomainError(w, "Failed to refresh loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

func (h *Handler) CancelLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.Loans.Cancel(r.Context(), chi.URLParam(r, "id"))
	h.observe("cancel_loan", err)
	if err != nil {
		writeDomainError(w, "Failed to cancel loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// ChangeLoanRate rebuilds the remaining table of one loan.
func (h *Handler) ChangeLoanRate(w http.ResponseWriter, r *http.Request) {
	var req RateChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.Loans.ChangeRate(r.Context(), chi.URLParam(r, "id"), req.AnnualRate, req.TermMonths)
	h.observe("change_loan_rate", err)
	if err != nil {
		writeDomainError(w, "Failed to change rate", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(l))
}

// ChangeVariableRates reprices every active VARIABLE loan.
func (h *Handler) ChangeVariableRates(w http.ResponseWriter, r *http.Request) {
	var req RateChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.Loans.ChangeVariableRates(r.Context(), req.AnnualRate)
	h.observe("change_variable_rates", err)
	if err != nil {
		writeDomainError(w, "Failed to change variable rates", err)
		return
	}
	writeJSON(w, http.StatusOK, LoanBatchDTO{
		Loans:  toLoanDTOs(result.Loans),
		Errors: toBatchErrorDTOs(result.Errors),
	})
}

// =============================================================================
// PARAMETER HANDLERS
// =============================================================================

// ListParameters returns every resolved parameter of the current snapshot.
func (h *Handler) ListParameters(w http.ResponseWriter, r *http.Request) {
	set, err := h.Params.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to load parameters", err)
		return
	}
	dtos := make([]ParameterDTO, 0)
	for _, k := range set.Keys() {
		v, _ := set.Value(k)
		dtos = append(dtos, ParameterDTO{Key: k, Value: v})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutParameter validates and stores one parameter. Calculations already
// running keep the snapshot they started with.
func (h *Handler) PutParameter(w http.ResponseWriter, r *http.Request) {
	var req PutParameterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row := generic.ParameterRow{
		Key:   chi.URLParam(r, "key"),
		Value: req.Value,
		Type:  generic.ParameterType(req.Type),
	}
	err := h.Params.Put(r.Context(), row)
	h.observe("put_parameter", err)
	if err != nil {
		writeDomainError(w, "Failed to save parameter", err)
		return
	}
	writeJSON(w, http.StatusOK, ParameterDTO{Key: row.Key, Value: row.Value})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's kind.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusOf(err), message, err)
}

func statusOf(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, generic.ErrInvalidInput), errors.Is(err, generic.ErrInvalidPeriod),
		errors.Is(err, generic.ErrInvalidParameter):
		return http.StatusBadRequest
	case generic.IsClientError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a required JSON body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, v)
}

func periodParam(w http.ResponseWriter, r *http.Request) (generic.PayPeriod, bool) {
	p, err := generic.ParsePayPeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeDomainError(w, "Invalid period (use YYYY-MM)", err)
		return generic.PayPeriod{}, false
	}
	return p, true
}

func bonusParams(w http.ResponseWriter, r *http.Request) (generic.BonusKind, int, bool) {
	kind := generic.BonusKind(strings.ToUpper(chi.URLParam(r, "kind")))
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeDomainError(w, "Invalid year", generic.InputError("year", "must be an integer"))
		return "", 0, false
	}
	if _, err := bonus.Window(kind, year); err != nil {
		writeDomainError(w, "Invalid bonus", err)
		return "", 0, false
	}
	return kind, year, true
}

func optionalDateQuery(w http.ResponseWriter, r *http.Request, name string) (*generic.Date, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, true
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		writeDomainError(w, fmt.Sprintf("Invalid %s (use YYYY-MM-DD)", name), generic.InputError(name, "%v", err))
		return nil, false
	}
	return &d, true
}

func employeeCodes(codes []string) []generic.EmployeeCode {
	out := make([]generic.EmployeeCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, generic.EmployeeCode(c))
	}
	return out
}
