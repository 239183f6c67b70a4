package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/params"
)

// Service runs the payroll calculator against the Persistence Gateway.
// It holds no per-call state.
type Service struct {
	gw     generic.TxGateway
	params params.Source
	clock  generic.Clock
	logger *slog.Logger
}

func NewService(gw generic.TxGateway, src params.Source, clock generic.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, params: src, clock: clock, logger: logger}
}

// Request is one calculate_payroll call.
type Request struct {
	EmployeeCode     generic.EmployeeCode
	Period           generic.PayPeriod
	DaysWorked       *int
	Overtime50Hours  decimal.Decimal
	Overtime100Hours decimal.Decimal
}

// BatchResult holds the records that were computed and the employees
// that were skipped.
type BatchResult struct {
	Records []generic.PayrollRecord
	Errors  []generic.BatchError
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate computes one record without persisting it. An existing
// APPROVED or PAID record for the period fails with ErrPeriodLocked;
// DRAFT, CALCULATED and VOID records are superseded.
func (s *Service) Calculate(ctx context.Context, req Request) (generic.PayrollRecord, error) {
	if _, err := generic.NewPayPeriod(req.Period.Year, req.Period.Month); err != nil {
		return generic.PayrollRecord{}, err
	}
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return generic.PayrollRecord{}, err
	}

	var rec generic.PayrollRecord
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		rec, err = s.calculate(ctx, g, set, req)
		return err
	})
	return rec, err
}

func (s *Service) calculate(ctx context.Context, g generic.Gateway, set *params.Set, req Request) (generic.PayrollRecord, error) {
	emp, err := g.GetEmployee(ctx, req.EmployeeCode)
	if err != nil {
		return generic.PayrollRecord{}, fmt.Errorf("load employee %s: %w", req.EmployeeCode, err)
	}

	existing, err := g.GetPayroll(ctx, emp.Code, req.Period)
	found := err == nil
	if err != nil && !errors.Is(err, generic.ErrRecordNotFound) {
		return generic.PayrollRecord{}, fmt.Errorf("load payroll %s %s: %w", emp.Code, req.Period, err)
	}
	if found && existing.Status.Locked() {
		return generic.PayrollRecord{}, &generic.PeriodLockedError{
			EmployeeCode: emp.Code,
			Key:          req.Period.String(),
			Status:       string(existing.Status),
		}
	}

	adjustments, err := g.ListAdjustments(ctx, emp.Code, req.Period.Range())
	if err != nil {
		return generic.PayrollRecord{}, fmt.Errorf("load adjustments %s: %w", emp.Code, err)
	}

	rec, err := Compute(Input{
		Employee:         emp,
		Period:           req.Period,
		DaysWorked:       req.DaysWorked,
		Overtime50Hours:  req.Overtime50Hours,
		Overtime100Hours: req.Overtime100Hours,
		Adjustments:      adjustments,
		CalculatedAt:     s.clock.Now(),
	}, set)
	if err != nil {
		return generic.PayrollRecord{}, err
	}
	if found {
		rec.Version = existing.Version
	}
	return rec, nil
}

// CalculatePeriod runs Calculate for every active employee, optionally
// restricted to codes. Per-employee failures are logged and collected;
// gateway failures abort the batch.
func (s *Service) CalculatePeriod(ctx context.Context, period generic.PayPeriod, codes []generic.EmployeeCode) (BatchResult, error) {
	if _, err := generic.NewPayPeriod(period.Year, period.Month); err != nil {
		return BatchResult{}, err
	}
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		employees, err := g.ListEmployees(ctx, generic.EmployeeFilter{ActiveOnly: true, Codes: codes})
		if err != nil {
			return fmt.Errorf("list employees: %w", err)
		}
		for _, emp := range employees {
			rec, err := s.calculate(ctx, g, set, Request{EmployeeCode: emp.Code, Period: period})
			if err != nil {
				if !generic.IsItemError(err) {
					return err
				}
				s.logger.Warn("payroll calculation skipped",
					"employee_code", emp.Code, "period", period.String(), "err", err)
				result.Errors = append(result.Errors, generic.BatchError{EmployeeCode: emp.Code, Err: err})
				continue
			}
			result.Records = append(result.Records, rec)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.logger.Info("payroll period calculated",
		"period", period.String(), "records", len(result.Records), "skipped", len(result.Errors))
	return result, nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save persists records in one transaction. With approvedBy set the
// records are stored APPROVED, otherwise CALCULATED. Adjustments consumed
// by a record are marked processed for its period. The returned records
// carry their new versions.
func (s *Service) Save(ctx context.Context, records []generic.PayrollRecord, approvedBy string) ([]generic.PayrollRecord, error) {
	now := s.clock.Now()
	saved := make([]generic.PayrollRecord, len(records))
	copy(saved, records)

	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		for i := range saved {
			rec := &saved[i]
			if err := Verify(*rec); err != nil {
				return err
			}
			existing, err := g.GetPayroll(ctx, rec.EmployeeCode, rec.Period)
			switch {
			case err == nil && existing.Status.Locked():
				return &generic.PeriodLockedError{
					EmployeeCode: rec.EmployeeCode,
					Key:          rec.Period.String(),
					Status:       string(existing.Status),
				}
			case err != nil && !errors.Is(err, generic.ErrRecordNotFound):
				return fmt.Errorf("load payroll %s %s: %w", rec.EmployeeCode, rec.Period, err)
			}

			rec.Status = generic.PayrollCalculated
			rec.ApprovedBy, rec.ApprovedAt = "", nil
			if approvedBy != "" {
				rec.Status = generic.PayrollApproved
				rec.ApprovedBy = approvedBy
				rec.ApprovedAt = &now
			}
			if err := g.SavePayroll(ctx, rec); err != nil {
				return fmt.Errorf("save payroll %s %s: %w", rec.EmployeeCode, rec.Period, err)
			}
			if len(rec.AdjustmentIDs) > 0 {
				if err := g.MarkAdjustmentsProcessed(ctx, rec.AdjustmentIDs, rec.Period); err != nil {
					return fmt.Errorf("mark adjustments %s: %w", rec.EmployeeCode, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

var transitions = map[generic.PayrollStatus][]generic.PayrollStatus{
	generic.PayrollDraft:      {generic.PayrollVoid},
	generic.PayrollCalculated: {generic.PayrollApproved, generic.PayrollVoid},
	generic.PayrollApproved:   {generic.PayrollPaid, generic.PayrollVoid},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to generic.PayrollStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a stored record to a new state. Approving records the
// actor and time.
func (s *Service) Transition(ctx context.Context, code generic.EmployeeCode, period generic.PayPeriod, to generic.PayrollStatus, actor string) (generic.PayrollRecord, error) {
	var rec generic.PayrollRecord
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		rec, err = g.GetPayroll(ctx, code, period)
		if err != nil {
			return fmt.Errorf("load payroll %s %s: %w", code, period, err)
		}
		if !CanTransition(rec.Status, to) {
			return &generic.TransitionError{From: string(rec.Status), To: string(to)}
		}
		if to == generic.PayrollApproved {
			now := s.clock.Now()
			rec.ApprovedBy = actor
			rec.ApprovedAt = &now
		}
		rec.Status = to
		if err := g.SavePayroll(ctx, &rec); err != nil {
			return fmt.Errorf("save payroll %s %s: %w", code, period, err)
		}
		return nil
	})
	if err != nil {
		return generic.PayrollRecord{}, err
	}
	s.logger.Info("payroll status changed",
		"employee_code", code, "period", period.String(), "status", string(to), "actor", actor)
	return rec, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary aggregates the non-VOID records of a period.
type Summary struct {
	Period          generic.PayPeriod
	Employees       int
	TotalIncome     decimal.Decimal
	TotalDeductions decimal.Decimal
	NetTotal        decimal.Decimal
	EmployerIESS    decimal.Decimal
	ProvisionsTotal decimal.Decimal
	EmployerCost    decimal.Decimal
}

func (s *Service) Summary(ctx context.Context, period generic.PayPeriod) (Summary, error) {
	if _, err := generic.NewPayPeriod(period.Year, period.Month); err != nil {
		return Summary{}, err
	}
	records, err := s.gw.ListPayroll(ctx, period)
	if err != nil {
		return Summary{}, fmt.Errorf("list payroll %s: %w", period, err)
	}
	return Summarize(period, records), nil
}

// Summarize is the pure aggregation behind Summary.
func Summarize(period generic.PayPeriod, records []generic.PayrollRecord) Summary {
	sum := Summary{
		Period:          period,
		TotalIncome:     decimal.Zero,
		TotalDeductions: decimal.Zero,
		NetTotal:        decimal.Zero,
		EmployerIESS:    decimal.Zero,
		ProvisionsTotal: decimal.Zero,
	}
	for _, r := range records {
		if r.Status == generic.PayrollVoid {
			continue
		}
		sum.Employees++
		sum.TotalIncome = sum.TotalIncome.Add(r.TotalIncome)
		sum.TotalDeductions = sum.TotalDeductions.Add(r.TotalDeductions)
		sum.NetTotal = sum.NetTotal.Add(r.NetPay)
		sum.EmployerIESS = sum.EmployerIESS.Add(r.IESSEmployer)
		sum.ProvisionsTotal = sum.ProvisionsTotal.Add(r.Provisions())
	}
	sum.EmployerCost = sum.TotalIncome.Add(sum.EmployerIESS).Add(sum.ProvisionsTotal)
	return sum
}
