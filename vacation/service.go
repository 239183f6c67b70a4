package vacation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/params"
)

// =============================================================================
// SERVICE - Balance, validation, lifecycle and pricing over the gateway
// =============================================================================

type Service struct {
	gw     generic.TxGateway
	params params.Source
	clock  generic.Clock
	logger *slog.Logger
	newID  func() string
}

func NewService(gw generic.TxGateway, src params.Source, clock generic.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, params: src, clock: clock, logger: logger, newID: uuid.NewString}
}

// Balance returns the balance at asOf, or today when asOf is nil.
func (s *Service) Balance(ctx context.Context, code generic.EmployeeCode, asOf *generic.Date) (Balance, error) {
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return Balance{}, err
	}
	d := generic.Today(s.clock)
	if asOf != nil {
		d = *asOf
	}

	var b Balance
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		emp, requests, err := load(ctx, g, code)
		if err != nil {
			return err
		}
		b = ComputeBalance(emp, requests, d, set.VacationDaysPerYear())
		return nil
	})
	return b, err
}

// Validate checks a prospective request without persisting anything. An
// invalid request is reported in the result, not as an error.
func (s *Service) Validate(ctx context.Context, code generic.EmployeeCode, start, end generic.Date, days int) (Validation, error) {
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return Validation{}, err
	}
	var v Validation
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		emp, requests, err := load(ctx, g, code)
		if err != nil {
			return err
		}
		v = Check(Candidate{StartDate: start, EndDate: end, DaysRequested: days},
			emp, requests, generic.Today(s.clock), set.VacationDaysPerYear())
		return nil
	})
	return v, err
}

// =============================================================================
// LIFECYCLE
// =============================================================================
//
//   PENDING -> APPROVED -> TAKEN
//           |           -> LIQUIDATED
//           -> REJECTED

var transitions = map[generic.VacationStatus][]generic.VacationStatus{
	generic.VacationPending:  {generic.VacationApproved, generic.VacationRejected},
	generic.VacationApproved: {generic.VacationTaken, generic.VacationLiquidated},
}

func CanTransition(from, to generic.VacationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubmitInput describes a new leave request.
type SubmitInput struct {
	EmployeeCode  generic.EmployeeCode
	StartDate     generic.Date
	EndDate       generic.Date
	DaysRequested int
	Type          generic.VacationType
	Reason        string
}

// Submit validates and stores a PENDING request. Warnings do not block
// submission and are returned alongside the stored request.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (generic.VacationRequest, Validation, error) {
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return generic.VacationRequest{}, Validation{}, err
	}
	if in.Type == "" {
		in.Type = generic.VacationScheduled
	}
	if in.Type != generic.VacationScheduled && in.Type != generic.VacationEmergency {
		return generic.VacationRequest{}, Validation{}, generic.InputError("type", "unknown vacation type %q", in.Type)
	}

	req := generic.VacationRequest{
		ID:            s.newID(),
		EmployeeCode:  in.EmployeeCode,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		DaysRequested: in.DaysRequested,
		Type:          in.Type,
		Status:        generic.VacationPending,
		Reason:        in.Reason,
		CreatedAt:     s.clock.Now(),
	}

	var v Validation
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		emp, requests, err := load(ctx, g, in.EmployeeCode)
		if err != nil {
			return err
		}
		if !emp.Active {
			return fmt.Errorf("%w: %s", generic.ErrEmployeeInactive, emp.Code)
		}
		v = Check(Candidate{StartDate: req.StartDate, EndDate: req.EndDate, DaysRequested: req.DaysRequested},
			emp, requests, generic.Today(s.clock), set.VacationDaysPerYear())
		if err := v.Err(""); err != nil {
			return err
		}
		if err := g.SaveVacationRequest(ctx, &req); err != nil {
			return fmt.Errorf("save vacation request %s: %w", req.ID, err)
		}
		return nil
	})
	if err != nil {
		return generic.VacationRequest{}, v, err
	}
	s.logger.Info("vacation request submitted",
		"employee_code", req.EmployeeCode, "request_id", req.ID, "days", req.DaysRequested)
	return req, v, nil
}

// Approve re-validates the request against everything else on file and
// moves it to APPROVED. A request that no longer passes is rejected with
// *generic.InvalidRequestError.
func (s *Service) Approve(ctx context.Context, id, approver string) (generic.VacationRequest, error) {
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return generic.VacationRequest{}, err
	}
	return s.transition(ctx, id, generic.VacationApproved, approver, func(g generic.Gateway, req generic.VacationRequest) error {
		emp, requests, err := load(ctx, g, req.EmployeeCode)
		if err != nil {
			return err
		}
		v := Check(Candidate{ID: req.ID, StartDate: req.StartDate, EndDate: req.EndDate, DaysRequested: req.DaysRequested},
			emp, requests, generic.Today(s.clock), set.VacationDaysPerYear())
		return v.Err(req.ID)
	})
}

func (s *Service) Reject(ctx context.Context, id, actor string) (generic.VacationRequest, error) {
	return s.transition(ctx, id, generic.VacationRejected, actor, nil)
}

func (s *Service) MarkTaken(ctx context.Context, id string) (generic.VacationRequest, error) {
	return s.transition(ctx, id, generic.VacationTaken, "", nil)
}

// Liquidate records that the approved days were paid out instead of taken.
func (s *Service) Liquidate(ctx context.Context, id, actor string) (generic.VacationRequest, error) {
	return s.transition(ctx, id, generic.VacationLiquidated, actor, nil)
}

func (s *Service) transition(ctx context.Context, id string, to generic.VacationStatus, actor string,
	guard func(generic.Gateway, generic.VacationRequest) error) (generic.VacationRequest, error) {
	var req generic.VacationRequest
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		req, err = g.GetVacationRequest(ctx, id)
		if err != nil {
			return fmt.Errorf("load vacation request %s: %w", id, err)
		}
		if !CanTransition(req.Status, to) {
			return &generic.TransitionError{From: string(req.Status), To: string(to)}
		}
		if guard != nil {
			if err := guard(g, req); err != nil {
				return err
			}
		}
		if actor != "" {
			now := s.clock.Now()
			req.DecidedBy = actor
			req.DecidedAt = &now
		}
		req.Status = to
		return g.SaveVacationRequest(ctx, &req)
	})
	if err != nil {
		return generic.VacationRequest{}, err
	}
	s.logger.Info("vacation request updated", "request_id", id, "status", string(to))
	return req, nil
}

// =============================================================================
// PRICING
// =============================================================================

// Pricing is the cash value of vacation days.
type Pricing struct {
	EmployeeCode generic.EmployeeCode
	Days         int
	BaseSalary   decimal.Decimal
	DailyRate    decimal.Decimal
	PaymentDate  generic.Date
	Amount       decimal.Decimal
}

// Price values days at days * salary * VACATION_DAILY_RATE with the
// parameters in force when called. A zero salary falls back to the
// minimum wage.
func (s *Service) Price(ctx context.Context, code generic.EmployeeCode, days int, paymentDate generic.Date) (Pricing, error) {
	if days < 1 {
		return Pricing{}, generic.InputError("days", "must be at least 1, got %d", days)
	}
	set, err := s.params.Snapshot(ctx)
	if err != nil {
		return Pricing{}, err
	}
	var emp generic.Employee
	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		emp, err = g.GetEmployee(ctx, code)
		if err != nil {
			return fmt.Errorf("load employee %s: %w", code, err)
		}
		return nil
	})
	if err != nil {
		return Pricing{}, err
	}
	return PriceDays(emp, days, paymentDate, set)
}

// PriceDays is the pure form of Price.
func PriceDays(emp generic.Employee, days int, paymentDate generic.Date, set *params.Set) (Pricing, error) {
	salary := emp.BaseSalary
	if salary.IsZero() {
		salary = set.MinimumWage()
	}
	if !salary.IsPositive() {
		return Pricing{}, fmt.Errorf("%w: %s", generic.ErrSalaryUndefined, emp.Code)
	}
	rate := set.VacationDailyRate()
	amount := decimal.NewFromInt(int64(days)).Mul(salary).Mul(rate)
	return Pricing{
		EmployeeCode: emp.Code,
		Days:         days,
		BaseSalary:   salary,
		DailyRate:    rate,
		PaymentDate:  paymentDate,
		Amount:       generic.RoundMoney(amount),
	}, nil
}

func load(ctx context.Context, g generic.Gateway, code generic.EmployeeCode) (generic.Employee, []generic.VacationRequest, error) {
	emp, err := g.GetEmployee(ctx, code)
	if err != nil {
		return generic.Employee{}, nil, fmt.Errorf("load employee %s: %w", code, err)
	}
	requests, err := g.ListVacationRequests(ctx, code)
	if err != nil {
		return generic.Employee{}, nil, fmt.Errorf("list vacation requests %s: %w", code, err)
	}
	return emp, requests, nil
}
