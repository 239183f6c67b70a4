/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts leave the API as strings with exactly two decimals ("1200.00")
  and rates with four. Requests accept either JSON strings or numbers;
  shopspring/decimal parses both without going through float64.

DATES:
  generic.Date marshals as "YYYY-MM-DD". Periods are "YYYY-MM" strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/loan"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/vacation"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func rate(d decimal.Decimal) string { return d.StringFixed(4) }

// =============================================================================
// EMPLOYEES AND ADJUSTMENTS
// =============================================================================

type EmployeeDTO struct {
	Code            string        `json:"code"`
	Names           string        `json:"names"`
	Surnames        string        `json:"surnames"`
	FullName        string        `json:"full_name"`
	NationalID      string        `json:"national_id,omitempty"`
	HireDate        generic.Date  `json:"hire_date"`
	TerminationDate *generic.Date `json:"termination_date,omitempty"`
	BaseSalary      string        `json:"base_salary"`
	DepartmentCode  string        `json:"department_code,omitempty"`
	PositionCode    string        `json:"position_code,omitempty"`
	Active          bool          `json:"active"`
}

type CreateEmployeeRequest struct {
	Code            string          `json:"code"`
	Names           string          `json:"names"`
	Surnames        string          `json:"surnames"`
	NationalID      string          `json:"national_id"`
	HireDate        generic.Date    `json:"hire_date"`
	TerminationDate *generic.Date   `json:"termination_date"`
	BaseSalary      decimal.Decimal `json:"base_salary"`
	DepartmentCode  string          `json:"department_code"`
	PositionCode    string          `json:"position_code"`
	Active          *bool           `json:"active"` // default true
}

type AdjustmentRequest struct {
	Kind          generic.AdjustmentKind `json:"kind"` // INCOME | DEDUCTION
	Concept       string                 `json:"concept"`
	Amount        decimal.Decimal        `json:"amount"`
	EffectiveDate generic.Date           `json:"effective_date"`
	Taxable       *bool                  `json:"taxable"` // default true for INCOME
}

type AdjustmentDTO struct {
	ID              string       `json:"id"`
	EmployeeCode    string       `json:"employee_code"`
	Kind            string       `json:"kind"`
	Concept         string       `json:"concept"`
	Amount          string       `json:"amount"`
	EffectiveDate   generic.Date `json:"effective_date"`
	Taxable         bool         `json:"taxable"`
	ProcessedPeriod string       `json:"processed_period,omitempty"`
}

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	return EmployeeDTO{
		Code:            string(e.Code),
		Names:           e.Names,
		Surnames:        e.Surnames,
		FullName:        e.FullName(),
		NationalID:      e.NationalID,
		HireDate:        e.HireDate,
		TerminationDate: e.TerminationDate,
		BaseSalary:      money(e.BaseSalary),
		DepartmentCode:  e.DepartmentCode,
		PositionCode:    e.PositionCode,
		Active:          e.Active,
	}
}

func toAdjustmentDTO(a generic.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:              a.ID,
		EmployeeCode:    string(a.EmployeeCode),
		Kind:            string(a.Kind),
		Concept:         a.Concept,
		Amount:          money(a.Amount),
		EffectiveDate:   a.EffectiveDate,
		Taxable:         a.Taxable,
		ProcessedPeriod: a.ProcessedPeriod,
	}
}

// =============================================================================
// PAYROLL
// =============================================================================

type CalculatePayrollRequest struct {
	EmployeeCode     string          `json:"employee_code"`
	Period           string          `json:"period"`
	DaysWorked       *int            `json:"days_worked"`
	Overtime50Hours  decimal.Decimal `json:"overtime_50_hours"`
	Overtime100Hours decimal.Decimal `json:"overtime_100_hours"`
}

// RunRequest drives the period and bonus batch endpoints.
type RunRequest struct {
	EmployeeCodes []string `json:"employee_codes"` // empty = all active
	ApprovedBy    string   `json:"approved_by"`    // save endpoints only
}

type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

type PayrollRecordDTO struct {
	EmployeeCode         string     `json:"employee_code"`
	Period               string     `json:"period"`
	DaysWorked           int        `json:"days_worked"`
	Overtime50Hours      string     `json:"overtime_50_hours"`
	Overtime100Hours     string     `json:"overtime_100_hours"`
	BasicSalary          string     `json:"basic_salary"`
	OvertimePay          string     `json:"overtime_pay"`
	AdditionalIncome     string     `json:"additional_income"`
	NonTaxableIncome     string     `json:"non_taxable_income"`
	TotalIncome          string     `json:"total_income"`
	IESSPersonal         string     `json:"iess_personal"`
	IncomeTaxMonthly     string     `json:"income_tax_monthly"`
	AdditionalDeductions string     `json:"additional_deductions"`
	TotalDeductions      string     `json:"total_deductions"`
	NetPay               string     `json:"net_pay"`
	ThirteenthAccrual    string     `json:"thirteenth_accrual"`
	FourteenthAccrual    string     `json:"fourteenth_accrual"`
	VacationAccrual      string     `json:"vacation_accrual"`
	ReserveFundAccrual   string     `json:"reserve_fund_accrual"`
	IESSEmployer         string     `json:"iess_employer"`
	Status               string     `json:"status"`
	CalculatedAt         time.Time  `json:"calculated_at"`
	ApprovedBy           string     `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time `json:"approved_at,omitempty"`
	AdjustmentIDs        []string   `json:"adjustment_ids,omitempty"`
	Version              int        `json:"version"`
}

type PayrollSummaryDTO struct {
	Period          string `json:"period"`
	Employees       int    `json:"employees"`
	TotalIncome     string `json:"total_income"`
	TotalDeductions string `json:"total_deductions"`
	NetTotal        string `json:"net_total"`
	EmployerIESS    string `json:"employer_iess"`
	ProvisionsTotal string `json:"provisions_total"`
	EmployerCost    string `json:"employer_cost"`
}

// BatchErrorDTO is one skipped item of a batch.
type BatchErrorDTO struct {
	EmployeeCode string `json:"employee_code,omitempty"`
	Key          string `json:"key,omitempty"`
	Error        string `json:"error"`
}

type PayrollBatchDTO struct {
	Records []PayrollRecordDTO `json:"records"`
	Errors  []BatchErrorDTO    `json:"errors"`
}

func toPayrollDTO(r generic.PayrollRecord) PayrollRecordDTO {
	return PayrollRecordDTO{
		EmployeeCode:         string(r.EmployeeCode),
		Period:               r.Period.String(),
		DaysWorked:           r.DaysWorked,
		Overtime50Hours:      money(r.Overtime50Hours),
		Overtime100Hours:     money(r.Overtime100Hours),
		BasicSalary:          money(r.BasicSalary),
		OvertimePay:          money(r.OvertimePay),
		AdditionalIncome:     money(r.AdditionalIncome),
		NonTaxableIncome:     money(r.NonTaxableIncome),
		TotalIncome:          money(r.TotalIncome),
		IESSPersonal:         money(r.IESSPersonal),
		IncomeTaxMonthly:     money(r.IncomeTaxMonthly),
		AdditionalDeductions: money(r.AdditionalDeductions),
		TotalDeductions:      money(r.TotalDeductions),
		NetPay:               money(r.NetPay),
		ThirteenthAccrual:    money(r.ThirteenthAccrual),
		FourteenthAccrual:    money(r.FourteenthAccrual),
		VacationAccrual:      money(r.VacationAccrual),
		ReserveFundAccrual:   money(r.ReserveFundAccrual),
		IESSEmployer:         money(r.IESSEmployer),
		Status:               string(r.Status),
		CalculatedAt:         r.CalculatedAt,
		ApprovedBy:           r.ApprovedBy,
		ApprovedAt:           r.ApprovedAt,
		AdjustmentIDs:        r.AdjustmentIDs,
		Version:              r.Version,
	}
}

func toPayrollDTOs(rs []generic.PayrollRecord) []PayrollRecordDTO {
	out := make([]PayrollRecordDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toPayrollDTO(r))
	}
	return out
}

func toSummaryDTO(s payroll.Summary) PayrollSummaryDTO {
	return PayrollSummaryDTO{
		Period:          s.Period.String(),
		Employees:       s.Employees,
		TotalIncome:     money(s.TotalIncome),
		TotalDeductions: money(s.TotalDeductions),
		NetTotal:        money(s.NetTotal),
		EmployerIESS:    money(s.EmployerIESS),
		ProvisionsTotal: money(s.ProvisionsTotal),
		EmployerCost:    money(s.EmployerCost),
	}
}

func toBatchErrorDTOs(errs []generic.BatchError) []BatchErrorDTO {
	out := make([]BatchErrorDTO, 0, len(errs))
	for _, e := range errs {
		out = append(out, BatchErrorDTO{EmployeeCode: string(e.EmployeeCode), Key: e.Key, Error: e.Err.Error()})
	}
	return out
}

// =============================================================================
// BONUSES
// =============================================================================

type BonusRecordDTO struct {
	Kind           string        `json:"kind"`
	EmployeeCode   string        `json:"employee_code"`
	Year           int           `json:"year"`
	WindowStart    generic.Date  `json:"window_start"`
	WindowEnd      generic.Date  `json:"window_end"`
	WindowDays     int           `json:"window_days"`
	EffectiveStart *generic.Date `json:"effective_start,omitempty"`
	EffectiveEnd   *generic.Date `json:"effective_end,omitempty"`
	DaysWorked     int           `json:"days_worked"`
	FullCoverage   bool          `json:"full_coverage"`
	Base           string        `json:"base"`
	Amount         string        `json:"amount"`
	Status         string        `json:"status"`
	CalculatedAt   time.Time     `json:"calculated_at"`
	ApprovedBy     string        `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time    `json:"approved_at,omitempty"`
	Version        int           `json:"version"`
}

type BonusBatchDTO struct {
	Records []BonusRecordDTO `json:"records"`
	Errors  []BatchErrorDTO  `json:"errors"`
}

func toBonusDTO(r generic.BonusRecord) BonusRecordDTO {
	return BonusRecordDTO{
		Kind:           string(r.Kind),
		EmployeeCode:   string(r.EmployeeCode),
		Year:           r.Year,
		WindowStart:    r.Window.Start,
		WindowEnd:      r.Window.End,
		WindowDays:     r.WindowDays,
		EffectiveStart: r.EffectiveStart,
		EffectiveEnd:   r.EffectiveEnd,
		DaysWorked:     r.DaysWorked,
		FullCoverage:   r.FullCoverage,
		Base:           money(r.Base),
		Amount:         money(r.Amount),
		Status:         string(r.Status),
		CalculatedAt:   r.CalculatedAt,
		ApprovedBy:     r.ApprovedBy,
		ApprovedAt:     r.ApprovedAt,
		Version:        r.Version,
	}
}

func toBonusDTOs(rs []generic.BonusRecord) []BonusRecordDTO {
	out := make([]BonusRecordDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toBonusDTO(r))
	}
	return out
}

// =============================================================================
// VACATION
// =============================================================================

type VacationBalanceDTO struct {
	EmployeeCode      string       `json:"employee_code"`
	AsOf              generic.Date `json:"as_of"`
	HireDate          generic.Date `json:"hire_date"`
	YearsWorked       string       `json:"years_worked"`
	CompleteYears     int          `json:"complete_years"`
	FromCompleteYears int          `json:"from_complete_years"`
	ThisYear          int          `json:"this_year"`
	Accrued           int          `json:"accrued"`
	Used              int          `json:"used"`
	Pending           int          `json:"pending"`
	Available         int          `json:"available"`
	NextAccrualDate   generic.Date `json:"next_accrual_date"`
}

type VacationRequestBody struct {
	StartDate     generic.Date `json:"start_date"`
	EndDate       generic.Date `json:"end_date"`
	DaysRequested int          `json:"days_requested"`
	Type          string       `json:"type"`
	Reason        string       `json:"reason"`
}

type VacationValidationDTO struct {
	Valid        bool               `json:"valid"`
	Errors       []string           `json:"errors"`
	Warnings     []string           `json:"warnings"`
	BusinessDays int                `json:"business_days"`
	Balance      VacationBalanceDTO `json:"balance"`
}

type VacationRequestDTO struct {
	ID            string       `json:"id"`
	EmployeeCode  string       `json:"employee_code"`
	StartDate     generic.Date `json:"start_date"`
	EndDate       generic.Date `json:"end_date"`
	DaysRequested int          `json:"days_requested"`
	Type          string       `json:"type"`
	Status        string       `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	DecidedBy     string       `json:"decided_by,omitempty"`
	DecidedAt     *time.Time   `json:"decided_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Version       int          `json:"version"`
}

type SubmitVacationDTO struct {
	Request    VacationRequestDTO    `json:"request"`
	Validation VacationValidationDTO `json:"validation"`
}

type DecisionRequest struct {
	Actor string `json:"actor"`
}

type VacationPricingDTO struct {
	EmployeeCode string       `json:"employee_code"`
	Days         int          `json:"days"`
	BaseSalary   string       `json:"base_salary"`
	DailyRate    string       `json:"daily_rate"`
	PaymentDate  generic.Date `json:"payment_date"`
	Amount       string       `json:"amount"`
}

func toVacationBalanceDTO(b vacation.Balance) VacationBalanceDTO {
	return VacationBalanceDTO{
		EmployeeCode:      string(b.EmployeeCode),
		AsOf:              b.AsOf,
		HireDate:          b.HireDate,
		YearsWorked:       rate(b.YearsWorked),
		CompleteYears:     b.CompleteYears,
		FromCompleteYears: b.FromCompleteYears,
		ThisYear:          b.ThisYear,
		Accrued:           b.Accrued,
		Used:              b.Used,
		Pending:           b.Pending,
		Available:         b.Available,
		NextAccrualDate:   b.NextAccrualDate,
	}
}

func toValidationDTO(v vacation.Validation) VacationValidationDTO {
	return VacationValidationDTO{
		Valid:        v.Valid,
		Errors:       nonNil(v.Errors),
		Warnings:     nonNil(v.Warnings),
		BusinessDays: v.BusinessDays,
		Balance:      toVacationBalanceDTO(v.Balance),
	}
}

func toVacationRequestDTO(r generic.VacationRequest) VacationRequestDTO {
	return VacationRequestDTO{
		ID:            r.ID,
		EmployeeCode:  string(r.EmployeeCode),
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		DaysRequested: r.DaysRequested,
		Type:          string(r.Type),
		Status:        string(r.Status),
		Reason:        r.Reason,
		DecidedBy:     r.DecidedBy,
		DecidedAt:     r.DecidedAt,
		CreatedAt:     r.CreatedAt,
		Version:       r.Version,
	}
}

func toPricingDTO(p vacation.Pricing) VacationPricingDTO {
	return VacationPricingDTO{
		EmployeeCode: string(p.EmployeeCode),
		Days:         p.Days,
		BaseSalary:   money(p.BaseSalary),
		DailyRate:    p.DailyRate.String(),
		PaymentDate:  p.PaymentDate,
		Amount:       money(p.Amount),
	}
}

// =============================================================================
// LOANS
// =============================================================================

type ScheduleRequest struct {
	Principal  decimal.Decimal `json:"principal"`
	TermMonths int             `json:"term_months"`
	AnnualRate decimal.Decimal `json:"annual_rate"`
	StartDate  generic.Date    `json:"start_date"`
}

type CreateLoanRequest struct {
	EmployeeCode string          `json:"employee_code"`
	Kind         string          `json:"kind"`
	Principal    decimal.Decimal `json:"principal"`
	TermMonths   int             `json:"term_months"`
	AnnualRate   decimal.Decimal `json:"annual_rate"`
	RateMode     string          `json:"rate_mode"`
	StartDate    generic.Date    `json:"start_date"`
}

type PaymentRequest struct {
	Date   generic.Date    `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type RateChangeRequest struct {
	AnnualRate decimal.Decimal `json:"annual_rate"`
	TermMonths *int            `json:"term_months"`
}

type AmortizationLineDTO struct {
	Number      int          `json:"number"`
	DueDate     generic.Date `json:"due_date"`
	Principal   string       `json:"principal"`
	Interest    string       `json:"interest"`
	Installment string       `json:"installment"`
	Balance     string       `json:"balance"`
}

type ScheduleDTO struct {
	MonthlyRate   string                `json:"monthly_rate"`
	Installment   string                `json:"installment"`
	TotalToPay    string                `json:"total_to_pay"`
	TotalInterest string                `json:"total_interest"`
	Lines         []AmortizationLineDTO `json:"lines"`
}

type LoanPaymentDTO struct {
	ID           string       `json:"id"`
	Date         generic.Date `json:"date"`
	Amount       string       `json:"amount"`
	Interest     string       `json:"interest"`
	Principal    string       `json:"principal"`
	Fees         string       `json:"fees"`
	BalanceAfter string       `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

type LoanDTO struct {
	ID                 string                `json:"id"`
	EmployeeCode       string                `json:"employee_code"`
	Kind               string                `json:"kind"`
	Principal          string                `json:"principal"`
	TermMonths         int                   `json:"term_months"`
	AnnualRate         string                `json:"annual_rate"`
	RateMode           string                `json:"rate_mode"`
	StartDate          generic.Date          `json:"start_date"`
	MonthlyInstallment string                `json:"monthly_installment"`
	TotalToPay         string                `json:"total_to_pay"`
	TotalInterest      string                `json:"total_interest"`
	RemainingBalance   string                `json:"remaining_balance"`
	Status             string                `json:"status"`
	Lines              []AmortizationLineDTO `json:"lines,omitempty"`
	Payments           []LoanPaymentDTO      `json:"payments,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	Version            int                   `json:"version"`
}

type PaymentResultDTO struct {
	Payment LoanPaymentDTO `json:"payment"`
	Loan    LoanDTO        `json:"loan"`
}

type LoanBatchDTO struct {
	Loans  []LoanDTO       `json:"loans"`
	Errors []BatchErrorDTO `json:"errors"`
}

func toLineDTOs(lines []generic.AmortizationLine) []AmortizationLineDTO {
	out := make([]AmortizationLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, AmortizationLineDTO{
			Number:      l.Number,
			DueDate:     l.DueDate,
			Principal:   money(l.Principal),
			Interest:    money(l.Interest),
			Installment: money(l.Installment),
			Balance:     money(l.Balance),
		})
	}
	return out
}

func toScheduleDTO(t loan.Table) ScheduleDTO {
	return ScheduleDTO{
		MonthlyRate:   t.MonthlyRate.StringFixed(8),
		Installment:   money(t.Installment),
		TotalToPay:    money(t.TotalToPay),
		TotalInterest: money(t.TotalInterest),
		Lines:         toLineDTOs(t.Lines),
	}
}

func toPaymentDTO(p generic.LoanPayment) LoanPaymentDTO {
	return LoanPaymentDTO{
		ID:           p.ID,
		Date:         p.Date,
		Amount:       money(p.Amount),
		Interest:     money(p.Interest),
		Principal:    money(p.Principal),
		Fees:         money(p.Fees),
		BalanceAfter: money(p.BalanceAfter),
		CreatedAt:    p.CreatedAt,
	}
}

func toLoanDTO(l generic.Loan) LoanDTO {
	dto := LoanDTO{
		ID:                 l.ID,
		EmployeeCode:       string(l.EmployeeCode),
		Kind:               string(l.Kind),
		Principal:          money(l.Principal),
		TermMonths:         l.TermMonths,
		AnnualRate:         rate(l.AnnualRate),
		RateMode:           string(l.RateMode),
		StartDate:          l.StartDate,
		MonthlyInstallment: money(l.MonthlyInstallment),
		TotalToPay:         money(l.TotalToPay),
		TotalInterest:      money(l.TotalInterest),
		RemainingBalance:   money(l.RemainingBalance),
		Status:             string(l.Status),
		Lines:              toLineDTOs(l.Lines),
		CreatedAt:          l.CreatedAt,
		Version:            l.Version,
	}
	for _, p := range l.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	return dto
}

func toLoanDTOs(ls []generic.Loan) []LoanDTO {
	out := make([]LoanDTO, 0, len(ls))
	for _, l := range ls {
		out = append(out, toLoanDTO(l))
	}
	return out
}

// =============================================================================
// PARAMETERS AND ERRORS
// =============================================================================

type ParameterDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PutParameterRequest struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
