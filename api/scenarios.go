/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates employees and then drives the
	real services (payroll save, vacation submit, loan create/pay), so the
	stored data is exactly what the API would have produced.

AVAILABLE SCENARIOS:

	payroll-month:   Three employees, adjustments, last month's payroll saved
	vacation-team:   Long-tenured employee with an approved and a pending request
	loan-portfolio:  Fixed and variable loans with a first installment paid

HOW SCENARIOS WORK:
 1. Upsert the scenario employees (codes are prefixed per scenario)
 2. Call the services the way the HTTP handlers do
 3. Dates are relative to the handler clock so every scenario stays valid

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payroll-month"}

NOTE:

	Scenarios add data and never reset the store. Loading a scenario twice
	recalculates payroll in place but creates new loans and requests.

SEE ALSO:
  - handlers.go: Service wiring
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/loan"
	"github.com/warp/payroll-engine/vacation"
)

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "payroll-month",
		Name:        "Payroll Month",
		Description: "Three employees with overtime-free payroll, adjustments and a mid-month hire",
		Category:    "payroll",
	},
	{
		ID:          "vacation-team",
		Name:        "Vacation Team",
		Description: "Six years of tenure, one approved and one pending vacation request",
		Category:    "vacation",
	},
	{
		ID:          "loan-portfolio",
		Name:        "Loan Portfolio",
		Description: "Fixed emergency loan and variable unsecured loan with a first payment",
		Category:    "loans",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "payroll-month":
		err = h.loadPayrollMonthScenario(ctx)
	case "vacation-team":
		err = h.loadVacationTeamScenario(ctx)
	case "loan-portfolio":
		err = h.loadLoanPortfolioScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	h.observe("load_scenario", err)
	if err != nil {
		writeDomainError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.scenarioMu.Lock()
	h.currentScenario = req.ScenarioID
	h.scenarioMu.Unlock()
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPayrollMonthScenario(ctx context.Context) error {
	today := generic.Today(h.Clock)
	period := generic.PeriodOf(today.AddMonths(-1))
	d := generic.MustParseDecimal

	employees := []generic.Employee{
		{Code: "PM-001", Names: "Ana", Surnames: "Torres", HireDate: today.AddYears(-3),
			BaseSalary: d("1200.00"), DepartmentCode: "OPS", Active: true},
		{Code: "PM-002", Names: "Luis", Surnames: "Vera", HireDate: today.AddYears(-10),
			BaseSalary: d("2500.00"), DepartmentCode: "FIN", Active: true},
		// Hired on the 10th of last month: prorated salary.
		{Code: "PM-003", Names: "Rosa", Surnames: "Mena", HireDate: period.Start().AddDays(9),
			BaseSalary: d("460.00"), DepartmentCode: "OPS", Active: true},
	}
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	adjustments := []generic.Adjustment{
		{ID: "PM-ADJ-1", EmployeeCode: "PM-001", Kind: generic.AdjustmentIncome, Concept: "Sales commission",
			Amount: d("150.00"), EffectiveDate: period.Start().AddDays(14), Taxable: true},
		{ID: "PM-ADJ-2", EmployeeCode: "PM-001", Kind: generic.AdjustmentDeduction, Concept: "Uniform",
			Amount: d("40.00"), EffectiveDate: period.Start().AddDays(14)},
		{ID: "PM-ADJ-3", EmployeeCode: "PM-002", Kind: generic.AdjustmentIncome, Concept: "Mobility allowance",
			Amount: d("60.00"), EffectiveDate: period.Start(), Taxable: false},
	}
	for _, a := range adjustments {
		if err := h.Store.SaveAdjustment(ctx, a); err != nil {
			return err
		}
	}

	codes := []generic.EmployeeCode{"PM-001", "PM-002", "PM-003"}
	result, err := h.Payroll.CalculatePeriod(ctx, period, codes)
	if err != nil {
		return err
	}
	_, err = h.Payroll.Save(ctx, result.Records, "")
	return err
}

func (h *Handler) loadVacationTeamScenario(ctx context.Context) error {
	today := generic.Today(h.Clock)
	emp := generic.Employee{
		Code: "VT-001", Names: "Carla", Surnames: "Ruiz", HireDate: today.AddYears(-6),
		BaseSalary: generic.MustParseDecimal("980.00"), DepartmentCode: "SALES", Active: true,
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}

	// A seven-day span always holds five business days.
	approved := today.AddDays(14)
	req, _, err := h.Vacation.Submit(ctx, vacation.SubmitInput{
		EmployeeCode:  emp.Code,
		StartDate:     approved,
		EndDate:       approved.AddDays(6),
		DaysRequested: 5,
		Type:          generic.VacationScheduled,
		Reason:        "Family trip",
	})
	if err != nil {
		return err
	}
	if _, err := h.Vacation.Approve(ctx, req.ID, "scenario"); err != nil {
		return err
	}

	pending := today.AddDays(60)
	_, _, err = h.Vacation.Submit(ctx, vacation.SubmitInput{
		EmployeeCode:  emp.Code,
		StartDate:     pending,
		EndDate:       pending.AddDays(6),
		DaysRequested: 5,
		Type:          generic.VacationScheduled,
	})
	return err
}

func (h *Handler) loadLoanPortfolioScenario(ctx context.Context) error {
	today := generic.Today(h.Clock)
	d := generic.MustParseDecimal
	emp := generic.Employee{
		Code: "LP-001", Names: "Jorge", Surnames: "Salas", HireDate: today.AddYears(-4),
		BaseSalary: d("1500.00"), DepartmentCode: "IT", Active: true,
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}

	fixed, err := h.Loans.Create(ctx, loan.Input{
		EmployeeCode: emp.Code,
		Kind:         generic.LoanEmergency,
		Principal:    d("1000.00"),
		TermMonths:   12,
		AnnualRate:   d("12.00"),
		RateMode:     generic.RateFixed,
		StartDate:    today.AddMonths(-2),
	})
	if err != nil {
		return err
	}
	first := fixed.Lines[0]
	if _, _, err := h.Loans.RegisterPayment(ctx, fixed.ID, first.DueDate, first.Installment); err != nil {
		return err
	}

	_, err = h.Loans.Create(ctx, loan.Input{
		EmployeeCode: emp.Code,
		Kind:         generic.LoanUnsecured,
		Principal:    d("5000.00"),
		TermMonths:   36,
		AnnualRate:   d("15.30"),
		RateMode:     generic.RateVariable,
		StartDate:    today,
	})
	return err
}
