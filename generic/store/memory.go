// Package store provides Gateway implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a TxGateway over plain maps. Records are copied on the way in
// and on the way out so callers never share state with the store.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ generic.TxGateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type payrollKey struct {
	Code   generic.EmployeeCode
	Period generic.PayPeriod
}

type bonusKey struct {
	Kind generic.BonusKind
	Code generic.EmployeeCode
	Year int
}

type state struct {
	employees   map[generic.EmployeeCode]generic.Employee
	adjustments map[string]generic.Adjustment
	payroll     map[payrollKey]generic.PayrollRecord
	bonuses     map[bonusKey]generic.BonusRecord
	vacations   map[string]generic.VacationRequest
	loans       map[string]generic.Loan
	params      map[string]generic.ParameterRow
}

func newState() *state {
	return &state{
		employees:   make(map[generic.EmployeeCode]generic.Employee),
		adjustments: make(map[string]generic.Adjustment),
		payroll:     make(map[payrollKey]generic.PayrollRecord),
		bonuses:     make(map[bonusKey]generic.BonusRecord),
		vacations:   make(map[string]generic.VacationRequest),
		loans:       make(map[string]generic.Loan),
		params:      make(map[string]generic.ParameterRow),
	}
}

// clone copies every map. Values are copied with the same helpers used on
// reads, so a rolled-back transaction leaves no trace.
func (s *state) clone() *state {
	out := newState()
	for k, v := range s.employees {
		out.employees[k] = copyEmployee(v)
	}
	for k, v := range s.adjustments {
		out.adjustments[k] = v
	}
	for k, v := range s.payroll {
		out.payroll[k] = copyPayroll(v)
	}
	for k, v := range s.bonuses {
		out.bonuses[k] = copyBonus(v)
	}
	for k, v := range s.vacations {
		out.vacations[k] = copyVacation(v)
	}
	for k, v := range s.loans {
		out.loans[k] = copyLoan(v)
	}
	for k, v := range s.params {
		out.params[k] = v
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private copy of the state and swaps it in on
// success. The write lock is held for the duration, so transactions are
// serialized.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Gateway) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.st.clone()
	if err := fn(working); err != nil {
		return err
	}
	m.st = working
	return nil
}

// =============================================================================
// LOCKED DELEGATES
// =============================================================================

func (m *Memory) GetEmployee(ctx context.Context, code generic.EmployeeCode) (generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEmployee(ctx, code)
}

func (m *Memory) ListEmployees(ctx context.Context, f generic.EmployeeFilter) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListEmployees(ctx, f)
}

func (m *Memory) SaveEmployee(ctx context.Context, e generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEmployee(ctx, e)
}

func (m *Memory) ListAdjustments(ctx context.Context, code generic.EmployeeCode, r generic.DateRange) ([]generic.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListAdjustments(ctx, code, r)
}

func (m *Memory) SaveAdjustment(ctx context.Context, a generic.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAdjustment(ctx, a)
}

func (m *Memory) MarkAdjustmentsProcessed(ctx context.Context, ids []string, p generic.PayPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkAdjustmentsProcessed(ctx, ids, p)
}

func (m *Memory) GetPayroll(ctx context.Context, code generic.EmployeeCode, p generic.PayPeriod) (generic.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPayroll(ctx, code, p)
}

func (m *Memory) ListPayroll(ctx context.Context, p generic.PayPeriod) ([]generic.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayroll(ctx, p)
}

func (m *Memory) ListPayrollRange(ctx context.Context, code generic.EmployeeCode, from, to generic.PayPeriod) ([]generic.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayrollRange(ctx, code, from, to)
}

func (m *Memory) SavePayroll(ctx context.Context, r *generic.PayrollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePayroll(ctx, r)
}

func (m *Memory) GetBonus(ctx context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBonus(ctx, kind, code, year)
}

func (m *Memory) ListBonuses(ctx context.Context, kind generic.BonusKind, year int) ([]generic.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBonuses(ctx, kind, year)
}

func (m *Memory) SaveBonus(ctx context.Context, r *generic.BonusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBonus(ctx, r)
}

func (m *Memory) GetVacationRequest(ctx context.Context, id string) (generic.VacationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetVacationRequest(ctx, id)
}

func (m *Memory) ListVacationRequests(ctx context.Context, code generic.EmployeeCode) ([]generic.VacationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListVacationRequests(ctx, code)
}

func (m *Memory) SaveVacationRequest(ctx context.Context, r *generic.VacationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveVacationRequest(ctx, r)
}

func (m *Memory) GetLoan(ctx context.Context, id string) (generic.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLoan(ctx, id)
}

func (m *Memory) ListLoans(ctx context.Context, f generic.LoanFilter) ([]generic.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListLoans(ctx, f)
}

func (m *Memory) SaveLoan(ctx context.Context, l *generic.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveLoan(ctx, l)
}

func (m *Memory) AppendLoanPayment(ctx context.Context, loanID string, p generic.LoanPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendLoanPayment(ctx, loanID, p)
}

func (m *Memory) ListParameters(ctx context.Context) ([]generic.ParameterRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListParameters(ctx)
}

func (m *Memory) SaveParameter(ctx context.Context, row generic.ParameterRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveParameter(ctx, row)
}

// =============================================================================
// UNLOCKED STATE - Also serves as the transactional view
// =============================================================================

func (s *state) GetEmployee(_ context.Context, code generic.EmployeeCode) (generic.Employee, error) {
	e, ok := s.employees[code]
	if !ok {
		return generic.Employee{}, generic.ErrEmployeeNotFound
	}
	return copyEmployee(e), nil
}

func (s *state) ListEmployees(_ context.Context, f generic.EmployeeFilter) ([]generic.Employee, error) {
	var out []generic.Employee
	for _, e := range s.employees {
		if f.Match(e) {
			out = append(out, copyEmployee(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *state) SaveEmployee(_ context.Context, e generic.Employee) error {
	s.employees[e.Code] = copyEmployee(e)
	return nil
}

func (s *state) ListAdjustments(_ context.Context, code generic.EmployeeCode, r generic.DateRange) ([]generic.Adjustment, error) {
	var out []generic.Adjustment
	for _, a := range s.adjustments {
		if a.EmployeeCode == code && r.Contains(a.EffectiveDate) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.Before(out[j].EffectiveDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveAdjustment(_ context.Context, a generic.Adjustment) error {
	s.adjustments[a.ID] = a
	return nil
}

func (s *state) MarkAdjustmentsProcessed(_ context.Context, ids []string, p generic.PayPeriod) error {
	for _, id := range ids {
		a, ok := s.adjustments[id]
		if !ok {
			return generic.ErrRecordNotFound
		}
		a.ProcessedPeriod = p.String()
		s.adjustments[id] = a
	}
	return nil
}

func (s *state) GetPayroll(_ context.Context, code generic.EmployeeCode, p generic.PayPeriod) (generic.PayrollRecord, error) {
	r, ok := s.payroll[payrollKey{Code: code, Period: p}]
	if !ok {
		return generic.PayrollRecord{}, generic.ErrRecordNotFound
	}
	return copyPayroll(r), nil
}

func (s *state) ListPayroll(_ context.Context, p generic.PayPeriod) ([]generic.PayrollRecord, error) {
	var out []generic.PayrollRecord
	for k, r := range s.payroll {
		if k.Period == p {
			out = append(out, copyPayroll(r))
		}
	}
	sortPayroll(out)
	return out, nil
}

func (s *state) ListPayrollRange(_ context.Context, code generic.EmployeeCode, from, to generic.PayPeriod) ([]generic.PayrollRecord, error) {
	var out []generic.PayrollRecord
	for k, r := range s.payroll {
		if k.Code == code && !k.Period.Before(from) && !to.Before(k.Period) {
			out = append(out, copyPayroll(r))
		}
	}
	sortPayroll(out)
	return out, nil
}

func (s *state) SavePayroll(_ context.Context, r *generic.PayrollRecord) error {
	k := payrollKey{Code: r.EmployeeCode, Period: r.Period}
	existing, ok := s.payroll[k]
	if err := checkVersion(ok, existing.Version, r.Version); err != nil {
		return err
	}
	r.Version++
	s.payroll[k] = copyPayroll(*r)
	return nil
}

func (s *state) GetBonus(_ context.Context, kind generic.BonusKind, code generic.EmployeeCode, year int) (generic.BonusRecord, error) {
	r, ok := s.bonuses[bonusKey{Kind: kind, Code: code, Year: year}]
	if !ok {
		return generic.BonusRecord{}, generic.ErrRecordNotFound
	}
	return copyBonus(r), nil
}

func (s *state) ListBonuses(_ context.Context, kind generic.BonusKind, year int) ([]generic.BonusRecord, error) {
	var out []generic.BonusRecord
	for k, r := range s.bonuses {
		if k.Kind == kind && k.Year == year {
			out = append(out, copyBonus(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeCode < out[j].EmployeeCode })
	return out, nil
}

func (s *state) SaveBonus(_ context.Context, r *generic.BonusRecord) error {
	k := bonusKey{Kind: r.Kind, Code: r.EmployeeCode, Year: r.Year}
	existing, ok := s.bonuses[k]
	if err := checkVersion(ok, existing.Version, r.Version); err != nil {
		return err
	}
	r.Version++
	s.bonuses[k] = copyBonus(*r)
	return nil
}

func (s *state) GetVacationRequest(_ context.Context, id string) (generic.VacationRequest, error) {
	r, ok := s.vacations[id]
	if !ok {
		return generic.VacationRequest{}, generic.ErrRecordNotFound
	}
	return copyVacation(r), nil
}

func (s *state) ListVacationRequests(_ context.Context, code generic.EmployeeCode) ([]generic.VacationRequest, error) {
	var out []generic.VacationRequest
	for _, r := range s.vacations {
		if r.EmployeeCode == code {
			out = append(out, copyVacation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveVacationRequest(_ context.Context, r *generic.VacationRequest) error {
	existing, ok := s.vacations[r.ID]
	if ok && existing.EmployeeCode != r.EmployeeCode {
		return generic.ErrConflictingWrite
	}
	if err := checkVersion(ok, existing.Version, r.Version); err != nil {
		return err
	}
	r.Version++
	s.vacations[r.ID] = copyVacation(*r)
	return nil
}

func (s *state) GetLoan(_ context.Context, id string) (generic.Loan, error) {
	l, ok := s.loans[id]
	if !ok {
		return generic.Loan{}, generic.ErrRecordNotFound
	}
	return copyLoan(l), nil
}

func (s *state) ListLoans(_ context.Context, f generic.LoanFilter) ([]generic.Loan, error) {
	var out []generic.Loan
	for _, l := range s.loans {
		if f.Match(l) {
			out = append(out, copyLoan(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveLoan(_ context.Context, l *generic.Loan) error {
	existing, ok := s.loans[l.ID]
	if err := checkVersion(ok, existing.Version, l.Version); err != nil {
		return err
	}
	l.Version++
	stored := copyLoan(*l)
	// Payments belong to AppendLoanPayment.
	stored.Payments = existing.Payments
	s.loans[l.ID] = stored
	return nil
}

func (s *state) AppendLoanPayment(_ context.Context, loanID string, p generic.LoanPayment) error {
	l, ok := s.loans[loanID]
	if !ok {
		return generic.ErrRecordNotFound
	}
	for _, existing := range l.Payments {
		if existing.ID == p.ID {
			return generic.ErrConflictingWrite
		}
	}
	payments := append(append([]generic.LoanPayment{}, l.Payments...), p)
	sortPayments(payments)
	l.Payments = payments
	s.loans[loanID] = l
	return nil
}

func (s *state) ListParameters(_ context.Context) ([]generic.ParameterRow, error) {
	out := make([]generic.ParameterRow, 0, len(s.params))
	for _, row := range s.params {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *state) SaveParameter(_ context.Context, row generic.ParameterRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	s.params[row.Key] = row
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkVersion applies the insert-or-update-at-version rule.
func checkVersion(exists bool, stored, incoming int) error {
	switch {
	case incoming == 0 && exists:
		return generic.ErrConflictingWrite
	case incoming != 0 && (!exists || stored != incoming):
		return generic.ErrConflictingWrite
	}
	return nil
}

func sortPayroll(rs []generic.PayrollRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Period != rs[j].Period {
			return rs[i].Period.Before(rs[j].Period)
		}
		return rs[i].EmployeeCode < rs[j].EmployeeCode
	})
}

func sortPayments(ps []generic.LoanPayment) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].Date.Equal(ps[j].Date) {
			return ps[i].Date.Before(ps[j].Date)
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func copyDate(d *generic.Date) *generic.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyEmployee(e generic.Employee) generic.Employee {
	e.TerminationDate = copyDate(e.TerminationDate)
	return e
}

func copyPayroll(r generic.PayrollRecord) generic.PayrollRecord {
	r.ApprovedAt = copyTime(r.ApprovedAt)
	r.AdjustmentIDs = append([]string(nil), r.AdjustmentIDs...)
	return r
}

func copyBonus(r generic.BonusRecord) generic.BonusRecord {
	r.EffectiveStart = copyDate(r.EffectiveStart)
	r.EffectiveEnd = copyDate(r.EffectiveEnd)
	r.ApprovedAt = copyTime(r.ApprovedAt)
	return r
}

func copyVacation(r generic.VacationRequest) generic.VacationRequest {
	r.DecidedAt = copyTime(r.DecidedAt)
	return r
}

func copyLoan(l generic.Loan) generic.Loan {
	l.Lines = append([]generic.AmortizationLine(nil), l.Lines...)
	l.Payments = append([]generic.LoanPayment(nil), l.Payments...)
	return l
}
