/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages (allocation, combination, reconcile) return these
  sentinels directly or wrapped in a structured error.

ERROR CATEGORIES:
  1. Record errors - Malformed debts, payments or allocations
  2. Planning errors - Allocation sums, combination ranges
  3. Anomaly kinds - Over-allocation, over-commitment (reported as data)
  4. Apply errors - Stale state detected at commit time

USAGE:
  if errors.Is(err, ledger.ErrStaleState) {
      // re-load the snapshot and plan again
  }

SEE ALSO:
  - validate.go: Produces anomalies
  - store.go: Repository contract that returns ErrStaleState
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRecord is returned when a debt, payment or allocation fails
	// construction-time validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidAmount is returned when an input amount is zero or negative
	// where a positive value is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRange is returned when combination search bounds are negative
	// or inverted.
	ErrInvalidRange = errors.New("invalid range")

	// ErrNoTargets is returned when an allocation is requested without debts.
	ErrNoTargets = errors.New("no allocation targets")

	// ErrInsufficientAmount is returned when the requested per-debt amounts
	// exceed the payment amount.
	ErrInsufficientAmount = errors.New("insufficient payment amount")

	// ErrAllocationMismatch is returned when exact per-debt amounts do not
	// add up to the payment amount.
	ErrAllocationMismatch = errors.New("allocation does not match payment amount")

	// ErrOverpayment is returned when the selected debts cannot absorb the
	// whole payment under sequential fill.
	ErrOverpayment = errors.New("payment exceeds selected outstanding")

	// ErrOverAllocation marks a debt whose outstanding balance is negative.
	ErrOverAllocation = errors.New("debt over-allocated")

	// ErrOverCommitment marks a payment whose allocations exceed its used amount.
	ErrOverCommitment = errors.New("payment over-committed")

	// ErrUnresolvedAnomaly marks an excess that trimming could not absorb.
	ErrUnresolvedAnomaly = errors.New("unresolved anomaly")

	// ErrStaleState is returned when persisted allocations changed between
	// planning and apply. Nothing is written.
	ErrStaleState = errors.New("stale state")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for illegal reconciliation state changes.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RecordError describes which field of a record failed validation.
type RecordError struct {
	Record string // "debt", "payment", "allocation"
	ID     string
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s %s", e.Record, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s %s", e.Record, e.ID, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrInvalidRecord
}

// AllocationSumError reports a mismatch between a payment and the amounts
// that were asked to be allocated from it.
type AllocationSumError struct {
	Kind      error // ErrInsufficientAmount, ErrAllocationMismatch or ErrOverpayment
	Payment   decimal.Decimal
	Allocated decimal.Decimal
}

func (e *AllocationSumError) Error() string {
	return fmt.Sprintf("%v: payment %s, allocated %s", e.Kind, e.Payment, e.Allocated)
}

func (e *AllocationSumError) Unwrap() error {
	return e.Kind
}

// RangeError reports invalid combination search bounds.
type RangeError struct {
	MinRate int
	MaxRate int
	Target  decimal.Decimal
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range: rates [%d, %d], target %s", e.MinRate, e.MaxRate, e.Target)
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}

// StaleStateError names the payment whose persisted allocations no longer
// match what the plan expected.
type StaleStateError struct {
	PaymentID PaymentID
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: payment %s changed since planning", e.PaymentID)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller can succeed by re-planning.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrNoTargets) ||
		errors.Is(err, ErrInsufficientAmount) ||
		errors.Is(err, ErrAllocationMismatch) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
