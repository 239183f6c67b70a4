package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/params"
)

// Service runs the bonus calculators against the Persistence Gateway.
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

type BatchResult struct {
	Records []generic.BonusRecord
	Errors  []generic.BatchError
}

func (s *Service) CalculateThirteenth(ctx context.Context, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	return s.Calculate(ctx, generic.BonusThirteenth, code, year)
}

func (s *Service) CalculateFourteenth(ctx context.Context, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	return s.Calculate(ctx, generic.BonusFourteenth, code, year)
}

// Calculate computes one bonus without persisting it. Inactive employees
// are allowed: a separated employee is still owed the proportional bonus.
func (s *Service) Calculate(ctx context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	if _, err := Window(kind, year); err != nil {
		return generic.BonusRecord{}, err
	}
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return generic.BonusRecord{}, err
	}

	var rec generic.BonusRecord
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		emp, err := g.GetEmployee(ctx, code)
		if err != nil {
			return fmt.Errorf("load employee %s: %w", code, err)
		}
		rec, err = s.calculate(ctx, g, set, kind, emp, year)
		return err
	})
	return rec, err
}

func (s *Service) calculate(ctx context.Context, g generic.Gateway, set *params.Set, kind generic.BonusKind, emp generic.Employee, year int) (generic.BonusRecord, error) {
	existing, err := g.GetBonus(ctx, kind, emp.Code, year)
	found := err == nil
	if err != nil && !errors.Is(err, generic.ErrRecordNotFound) {
		return generic.BonusRecord{}, fmt.Errorf("load bonus %s %s/%d: %w", emp.Code, kind, year, err)
	}
	if found && existing.Status.Locked() {
		return generic.BonusRecord{}, lockedError(existing)
	}

	now := s.clock.Now()
	in := Input{Employee: emp, Year: year, Today: generic.DateOf(now), CalculatedAt: now}

	var rec generic.BonusRecord
	switch kind {
	case generic.BonusThirteenth:
		window := ThirteenthWindow(year)
		in.Payroll, err = g.ListPayrollRange(ctx, emp.Code, generic.PeriodOf(window.Start), generic.PeriodOf(window.End))
		if err != nil {
			return generic.BonusRecord{}, fmt.Errorf("load payroll %s: %w", emp.Code, err)
		}
		rec, err = Thirteenth(in, set)
	default:
		rec, err = Fourteenth(in, set)
	}
	if err != nil {
		return generic.BonusRecord{}, err
	}
	if found {
		rec.Version = existing.Version
	}
	return rec, nil
}

// CalculateBatch computes kind for every active employee, optionally
// restricted to codes. Per-employee failures are logged and collected.
func (s *Service) CalculateBatch(ctx context.Context, kind generic.BonusKind, year int, codes []generic.EmployeeCode) (BatchResult, error) {
	if _, err := Window(kind, year); err != nil {
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
			rec, err := s.calculate(ctx, g, set, kind, emp, year)
			if err != nil {
				if !generic.IsItemError(err) {
					return err
				}
				s.logger.Warn("bonus calculation skipped",
					"employee_code", emp.Code, "kind", string(kind), "year", year, "err", err)
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
	return result, nil
}

// Save persists records in one transaction, as APPROVED when approvedBy
// is set and CALCULATED otherwise.
func (s *Service) Save(ctx context.Context, records []generic.BonusRecord, approvedBy string) ([]generic.BonusRecord, error) {
	now := s.clock.Now()
	saved := make([]generic.BonusRecord, len(records))
	copy(saved, records)

	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		for i := range saved {
			rec := &saved[i]
			existing, err := g.GetBonus(ctx, rec.Kind, rec.EmployeeCode, rec.Year)
			switch {
			case err == nil && existing.Status.Locked():
				return lockedError(existing)
			case err != nil && !errors.Is(err, generic.ErrRecordNotFound):
				return fmt.Errorf("load bonus %s: %w", rec.EmployeeCode, err)
			}

			rec.Status = generic.BonusCalculated
			rec.ApprovedBy, rec.ApprovedAt = "", nil
			if approvedBy != "" {
				rec.Status = generic.BonusApproved
				rec.ApprovedBy = approvedBy
				rec.ApprovedAt = &now
			}
			if err := g.SaveBonus(ctx, rec); err != nil {
				return fmt.Errorf("save bonus %s %s/%d: %w", rec.EmployeeCode, rec.Kind, rec.Year, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Transition moves a stored bonus forward: CALCULATED -> APPROVED -> PAID.
func (s *Service) Transition(ctx context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int, to generic.BonusStatus, actor string) (generic.BonusRecord, error) {
	var rec generic.BonusRecord
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		rec, err = g.GetBonus(ctx, kind, code, year)
		if err != nil {
			return fmt.Errorf("load bonus %s %s/%d: %w", code, kind, year, err)
		}
		ok := (rec.Status == generic.BonusCalculated && to == generic.BonusApproved) ||
			(rec.Status == generic.BonusApproved && to == generic.BonusPaid)
		if !ok {
			return &generic.TransitionError{From: string(rec.Status), To: string(to)}
		}
		if to == generic.BonusApproved {
			now := s.clock.Now()
			rec.ApprovedBy = actor
			rec.ApprovedAt = &now
		}
		rec.Status = to
		return g.SaveBonus(ctx, &rec)
	})
	if err != nil {
		return generic.BonusRecord{}, err
	}
	return rec, nil
}

func lockedError(r generic.BonusRecord) error {
	return &generic.PeriodLockedError{
		EmployeeCode: r.EmployeeCode,
		Key:          fmt.Sprintf("%s/%d", r.Kind, r.Year),
		Status:       string(r.Status),
	}
}
