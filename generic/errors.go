/*
errors.go - Centralized error kinds for the payroll engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Calculators wrap these with context; callers branch with errors.Is and
  errors.As.

ERROR CATEGORIES:
  1. Configuration errors - missing or unparsable parameters
  2. Eligibility errors - employee missing, inactive, no salary
  3. State errors - locked periods, invalid transitions
  4. Persistence errors - conflicting writes, missing records
  5. Invariant errors - arithmetic identities that failed (bugs)

PROPAGATION:
  Single-item operations return errors verbatim. Batch operations collect
  per-item calculation errors and keep going. Gateway errors are never
  swallowed.

USAGE:
    if errors.Is(err, generic.ErrPeriodLocked) {
        // void the record first
    }

SEE ALSO:
  - store.go: gateway contracts that return these errors
  - store/sqlite: maps unique violations to ErrConflictingWrite
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfigurationMissing is returned when a required parameter has no
	// value and no default.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrInvalidParameter is returned when a parameter row cannot be parsed.
	ErrInvalidParameter = errors.New("invalid parameter value")

	ErrEmployeeNotFound = errors.New("employee not found")
	ErrEmployeeInactive = errors.New("employee inactive")

	// ErrSalaryUndefined is returned when both the employee salary and the
	// minimum wage are zero.
	ErrSalaryUndefined = errors.New("salary undefined")

	// ErrPeriodLocked is returned when recomputing or overwriting an
	// APPROVED or PAID record.
	ErrPeriodLocked = errors.New("period locked")

	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidInput  = errors.New("invalid input")

	ErrInvalidVacationRequest = errors.New("invalid vacation request")

	// ErrConflictingWrite is returned on a uniqueness or version violation.
	// The caller is expected to reload and retry.
	ErrConflictingWrite = errors.New("conflicting write")

	// ErrArithmeticInconsistency means an internal identity failed. It is a bug.
	ErrArithmeticInconsistency = errors.New("arithmetic inconsistency")

	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrOverpayment    = errors.New("payment exceeds outstanding balance and interest")
	ErrLoanNotPayable = errors.New("loan does not accept payments")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ConfigurationMissingError struct {
	Key string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("configuration missing: parameter %s has no value and no default", e.Key)
}

func (e *ConfigurationMissingError) Unwrap() error { return ErrConfigurationMissing }

type InvalidPeriodError struct {
	Year  int
	Month int
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period: %04d-%02d outside %d-01..%d-12",
		e.Year, e.Month, MinPeriodYear, MaxPeriodYear)
}

func (e *InvalidPeriodError) Unwrap() error { return ErrInvalidPeriod }

// PeriodLockedError identifies the record that blocked a recomputation.
type PeriodLockedError struct {
	EmployeeCode EmployeeCode
	Key          string // "2024-05" or "THIRTEENTH/2024"
	Status       string
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("period locked: %s for %s is %s", e.Key, e.EmployeeCode, e.Status)
}

func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// InvariantError names the identity that failed.
type InvariantError struct {
	Invariant string
	Want      string
	Got       string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("arithmetic inconsistency: %s (want %s, got %s)", e.Invariant, e.Want, e.Got)
}

func (e *InvariantError) Unwrap() error { return ErrArithmeticInconsistency }

// TransitionError describes a rejected state change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// InvalidRequestError lists the hard validation errors of a vacation request.
type InvalidRequestError struct {
	RequestID string
	Problems  []string
}

func (e *InvalidRequestError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("invalid vacation request: %s", strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("invalid vacation request %s: %s", e.RequestID, strings.Join(e.Problems, "; "))
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidVacationRequest }

// InputError wraps ErrInvalidInput with the offending field.
func InputError(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after a reload.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictingWrite)
}

// IsClientError returns true if the error is due to invalid caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidVacationRequest) ||
		errors.Is(err, ErrEmployeeInactive) ||
		errors.Is(err, ErrSalaryUndefined) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrLoanNotPayable)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) || errors.Is(err, ErrRecordNotFound)
}

// IsConflict returns true for locked periods and concurrent writers.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodLocked) || errors.Is(err, ErrConflictingWrite)
}

// IsItemError reports whether err concerns a single item of a batch. Batch
// operations log and collect these and keep going; anything else aborts.
func IsItemError(err error) bool {
	return IsClientError(err) || IsNotFound(err) || IsConflict(err) ||
		errors.Is(err, ErrConfigurationMissing)
}

// =============================================================================
// BATCH ERRORS
// =============================================================================

// BatchError is one skipped item of a batch operation.
type BatchError struct {
	EmployeeCode EmployeeCode
	Key          string // loan id for loan batches
	Err          error
}

func (e BatchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.EmployeeCode, e.Err)
}

func (e BatchError) Unwrap() error { return e.Err }
