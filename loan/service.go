package loan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// SERVICE - Loan lifecycle over the Persistence Gateway
// =============================================================================
//
// Status machine:
//
//   ACTIVE <-> OVERDUE      (RefreshStatus, RegisterPayment)
//   ACTIVE | OVERDUE -> PAID_OFF   when the balance reaches one cent or less
//   ACTIVE | OVERDUE -> CANCELLED

type Service struct {
	gw     generic.TxGateway
	clock  generic.Clock
	logger *slog.Logger
	newID  func() string
}

func NewService(gw generic.TxGateway, clock generic.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, clock: clock, logger: logger, newID: uuid.NewString}
}

type BatchResult struct {
	Loans  []generic.Loan
	Errors []generic.BatchError
}

// Input describes a new loan.
type Input struct {
	EmployeeCode generic.EmployeeCode
	Kind         generic.LoanKind
	Principal    decimal.Decimal
	TermMonths   int
	AnnualRate   decimal.Decimal
	RateMode     generic.RateMode // defaults to FIXED
	StartDate    generic.Date
}

// Create builds the table and stores an ACTIVE loan.
func (s *Service) Create(ctx context.Context, in Input) (generic.Loan, error) {
	switch in.Kind {
	case generic.LoanUnsecured, generic.LoanMortgage, generic.LoanEmergency:
	default:
		return generic.Loan{}, generic.InputError("kind", "unknown loan kind %q", in.Kind)
	}
	if in.RateMode == "" {
		in.RateMode = generic.RateFixed
	}
	if in.RateMode != generic.RateFixed && in.RateMode != generic.RateVariable {
		return generic.Loan{}, generic.InputError("rate_mode", "unknown rate mode %q", in.RateMode)
	}
	table, err := Schedule(ScheduleInput{
		Principal:  in.Principal,
		TermMonths: in.TermMonths,
		AnnualRate: in.AnnualRate,
		StartDate:  in.StartDate,
	})
	if err != nil {
		return generic.Loan{}, err
	}

	l := generic.Loan{
		ID:                 s.newID(),
		EmployeeCode:       in.EmployeeCode,
		Kind:               in.Kind,
		Principal:          in.Principal,
		TermMonths:         in.TermMonths,
		AnnualRate:         in.AnnualRate,
		RateMode:           in.RateMode,
		StartDate:          in.StartDate,
		MonthlyInstallment: table.Installment,
		TotalToPay:         table.TotalToPay,
		TotalInterest:      table.TotalInterest,
		RemainingBalance:   in.Principal,
		Status:             generic.LoanActive,
		Lines:              table.Lines,
		CreatedAt:          s.clock.Now(),
	}

	err = s.gw.WithTx(ctx, func(g generic.Gateway) error {
		emp, err := g.GetEmployee(ctx, in.EmployeeCode)
		if err != nil {
			return fmt.Errorf("load employee %s: %w", in.EmployeeCode, err)
		}
		if !emp.Active {
			return fmt.Errorf("%w: %s", generic.ErrEmployeeInactive, emp.Code)
		}
		if err := g.SaveLoan(ctx, &l); err != nil {
			return fmt.Errorf("save loan %s: %w", l.ID, err)
		}
		return nil
	})
	if err != nil {
		return generic.Loan{}, err
	}
	s.logger.Info("loan created", "loan_id", l.ID, "employee_code", l.EmployeeCode,
		"principal", l.Principal.StringFixed(2), "term_months", l.TermMonths)
	return l, nil
}

func (s *Service) Get(ctx context.Context, id string) (generic.Loan, error) {
	l, err := s.gw.GetLoan(ctx, id)
	if err != nil {
		return generic.Loan{}, fmt.Errorf("load loan %s: %w", id, err)
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, filter generic.LoanFilter) ([]generic.Loan, error) {
	return s.gw.ListLoans(ctx, filter)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RegisterPayment applies amount received on date: interest accrued since
// the previous payment (or the start date) on a 30E/360 basis first, the
// rest to principal.
func (s *Service) RegisterPayment(ctx context.Context, loanID string, date generic.Date, amount decimal.Decimal) (generic.LoanPayment, generic.Loan, error) {
	if !amount.IsPositive() {
		return generic.LoanPayment{}, generic.Loan{}, generic.InputError("amount", "must be positive, got %s", amount)
	}

	var (
		payment generic.LoanPayment
		l       generic.Loan
	)
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		l, err = g.GetLoan(ctx, loanID)
		if err != nil {
			return fmt.Errorf("load loan %s: %w", loanID, err)
		}
		if !l.Status.Payable() {
			return fmt.Errorf("%w: loan %s is %s", generic.ErrLoanNotPayable, l.ID, l.Status)
		}
		last := l.LastPaymentDate()
		if date.Before(last) {
			return generic.InputError("date", "%s is before the last payment or start date %s", date, last)
		}

		interest := AccruedInterest(l.RemainingBalance, MonthlyRate(l.AnnualRate), last, date)
		owed := l.RemainingBalance.Add(interest)
		if amount.GreaterThan(owed) {
			return fmt.Errorf("%w: paying %s against %s owed", generic.ErrOverpayment,
				amount.StringFixed(2), owed.StringFixed(2))
		}

		interestPaid := decimal.Min(amount, interest)
		principalPaid := amount.Sub(interestPaid)
		l.RemainingBalance = l.RemainingBalance.Sub(principalPaid)

		payment = generic.LoanPayment{
			ID:           s.newID(),
			Date:         date,
			Amount:       amount,
			Interest:     interestPaid,
			Principal:    principalPaid,
			Fees:         decimal.Zero,
			BalanceAfter: l.RemainingBalance,
			CreatedAt:    s.clock.Now(),
		}
		if err := g.AppendLoanPayment(ctx, l.ID, payment); err != nil {
			return fmt.Errorf("append payment to loan %s: %w", l.ID, err)
		}
		l.Payments = append(l.Payments, payment)

		switch {
		case l.RemainingBalance.LessThanOrEqual(generic.Cent()):
			l.Status = generic.LoanPaidOff
		case Overdue(l, date):
			l.Status = generic.LoanOverdue
		default:
			l.Status = generic.LoanActive
		}
		if err := g.SaveLoan(ctx, &l); err != nil {
			return fmt.Errorf("save loan %s: %w", l.ID, err)
		}
		return nil
	})
	if err != nil {
		return generic.LoanPayment{}, generic.Loan{}, err
	}
	s.logger.Info("loan payment registered", "loan_id", l.ID, "amount", amount.StringFixed(2),
		"balance", l.RemainingBalance.StringFixed(2), "status", string(l.Status))
	return payment, l, nil
}

// AccruedInterest is balance * i * days360(from, to) / 30, rounded.
func AccruedInterest(balance, i decimal.Decimal, from, to generic.Date) decimal.Decimal {
	days := Days360(from, to)
	if days <= 0 {
		return decimal.Zero
	}
	return generic.RoundMoney(balance.Mul(i).Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(30)))
}

// Days360 counts days between from and to with the 30E/360 convention.
func Days360(from, to generic.Date) int {
	d1, d2 := min(from.Day(), 30), min(to.Day(), 30)
	return (to.Year()-from.Year())*360 + (int(to.Month())-int(from.Month()))*30 + d2 - d1
}

// =============================================================================
// STATUS
// =============================================================================

// ScheduledBalance is the balance the table expects after every
// installment due on or before asOf.
func ScheduledBalance(l generic.Loan, asOf generic.Date) decimal.Decimal {
	if len(l.Lines) == 0 {
		return l.RemainingBalance
	}
	first := l.Lines[0]
	expected := first.Balance.Add(first.Principal)
	for _, line := range l.Lines {
		if line.DueDate.After(asOf) {
			break
		}
		expected = line.Balance
	}
	return expected
}

// Overdue reports whether the outstanding balance is more than a cent
// above the scheduled balance at asOf.
func Overdue(l generic.Loan, asOf generic.Date) bool {
	return l.RemainingBalance.Sub(ScheduledBalance(l, asOf)).GreaterThan(generic.Cent())
}

// RefreshStatus flips a payable loan between ACTIVE and OVERDUE.
func (s *Service) RefreshStatus(ctx context.Context, loanID string, asOf generic.Date) (generic.Loan, error) {
	var l generic.Loan
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		l, err = g.GetLoan(ctx, loanID)
		if err != nil {
			return fmt.Errorf("load loan %s: %w", loanID, err)
		}
		if !l.Status.Payable() {
			return nil
		}
		want := generic.LoanActive
		if Overdue(l, asOf) {
			want = generic.LoanOverdue
		}
		if want == l.Status {
			return nil
		}
		s.logger.Info("loan status changed", "loan_id", l.ID, "from", string(l.Status), "to", string(want))
		l.Status = want
		return g.SaveLoan(ctx, &l)
	})
	if err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

// Cancel closes a payable loan without further payments.
func (s *Service) Cancel(ctx context.Context, loanID string) (generic.Loan, error) {
	var l generic.Loan
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		l, err = g.GetLoan(ctx, loanID)
		if err != nil {
			return fmt.Errorf("load loan %s: %w", loanID, err)
		}
		if !l.Status.Payable() {
			return &generic.TransitionError{From: string(l.Status), To: string(generic.LoanCancelled)}
		}
		l.Status = generic.LoanCancelled
		return g.SaveLoan(ctx, &l)
	})
	if err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

// =============================================================================
// RATE CHANGES
// =============================================================================

// ChangeRate recomputes the installment on the remaining balance for the
// remaining months (or newTerm months) at newRate. The new table starts at
// the next due date after today.
func (s *Service) ChangeRate(ctx context.Context, loanID string, newRate decimal.Decimal, newTerm *int) (generic.Loan, error) {
	var l generic.Loan
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		var err error
		l, err = s.changeRate(ctx, g, loanID, newRate, newTerm)
		return err
	})
	if err != nil {
		return generic.Loan{}, err
	}
	return l, nil
}

// ChangeVariableRates applies newRate to every ACTIVE or OVERDUE variable
// rate loan. Loans that cannot be recomputed are logged and skipped.
func (s *Service) ChangeVariableRates(ctx context.Context, newRate decimal.Decimal) (BatchResult, error) {
	var result BatchResult
	err := s.gw.WithTx(ctx, func(g generic.Gateway) error {
		loans, err := g.ListLoans(ctx, generic.LoanFilter{
			RateMode: generic.RateVariable,
			Statuses: []generic.LoanStatus{generic.LoanActive, generic.LoanOverdue},
		})
		if err != nil {
			return fmt.Errorf("list variable loans: %w", err)
		}
		for _, l := range loans {
			updated, err := s.changeRate(ctx, g, l.ID, newRate, nil)
			if err != nil {
				if !generic.IsItemError(err) {
					return err
				}
				s.logger.Warn("rate change skipped", "loan_id", l.ID, "employee_code", l.EmployeeCode, "err", err)
				result.Errors = append(result.Errors, generic.BatchError{EmployeeCode: l.EmployeeCode, Key: l.ID, Err: err})
				continue
			}
			result.Loans = append(result.Loans, updated)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	s.logger.Info("variable rates changed", "rate", newRate.String(),
		"loans", len(result.Loans), "skipped", len(result.Errors))
	return result, nil
}

func (s *Service) changeRate(ctx context.Context, g generic.Gateway, loanID string, newRate decimal.Decimal, newTerm *int) (generic.Loan, error) {
	l, err := g.GetLoan(ctx, loanID)
	if err != nil {
		return generic.Loan{}, fmt.Errorf("load loan %s: %w", loanID, err)
	}
	if !l.Status.Payable() {
		return generic.Loan{}, fmt.Errorf("%w: loan %s is %s", generic.ErrLoanNotPayable, l.ID, l.Status)
	}

	today := generic.Today(s.clock)
	nextNumber, remaining := 0, 0
	for _, line := range l.Lines {
		if line.DueDate.After(today) {
			if nextNumber == 0 {
				nextNumber = line.Number
			}
			remaining++
		}
	}
	if nextNumber == 0 {
		// Past maturity: continue numbering after the last row.
		nextNumber = 1
		if n := len(l.Lines); n > 0 {
			nextNumber = l.Lines[n-1].Number + 1
		}
	}
	if newTerm != nil {
		remaining = *newTerm
	}
	if remaining < 1 {
		return generic.Loan{}, generic.InputError("term_months", "loan %s has no remaining installments; a new term is required", l.ID)
	}

	table, err := Schedule(ScheduleInput{
		Principal:   l.RemainingBalance,
		TermMonths:  remaining,
		AnnualRate:  newRate,
		StartDate:   l.StartDate,
		FirstNumber: nextNumber,
	})
	if err != nil {
		return generic.Loan{}, err
	}

	paidTotal, paidInterest := decimal.Zero, decimal.Zero
	for _, p := range l.Payments {
		paidTotal = paidTotal.Add(p.Amount)
		paidInterest = paidInterest.Add(p.Interest)
	}

	l.AnnualRate = newRate
	l.TermMonths = nextNumber - 1 + remaining
	l.MonthlyInstallment = table.Installment
	l.TotalToPay = paidTotal.Add(table.TotalToPay)
	l.TotalInterest = paidInterest.Add(table.TotalInterest)
	l.Lines = table.Lines
	if err := g.SaveLoan(ctx, &l); err != nil {
		return generic.Loan{}, fmt.Errorf("save loan %s: %w", l.ID, err)
	}
	return l, nil
}
